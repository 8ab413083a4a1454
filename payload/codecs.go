package payload

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// JSON stores payloads as JSON, the format every listener understands.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSON) Name() string { return "json" }

func (JSON) ContentType() string { return "application/json" }

// MsgPack stores payloads as MessagePack. Struct fields are named by their
// json tags, so a payload type written for JSON keeps its field names when
// the codec is switched. Integers are written in their smallest encoding.
type MsgPack struct{}

func (MsgPack) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgPack) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgPack) Name() string { return "msgpack" }

func (MsgPack) ContentType() string { return "application/msgpack" }

var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
)
