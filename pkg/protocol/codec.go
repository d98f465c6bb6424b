package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec converts Values to and from wire bytes. Both implementations are
// total over the supported value kinds and interchangeable; the codec is
// fixed per process via configuration, never negotiated per connection.
type Codec interface {
	Name() string
	Encode(v Value) ([]byte, error)
	Decode(data []byte) (Value, error)
}

// DecodeError reports a malformed payload. It is fatal to the connection
// that produced it.
type DecodeError struct {
	Codec  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %s", e.Codec, e.Reason)
}

func decodeErrf(codec, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Codec: codec, Reason: fmt.Sprintf(format, args...)}
}

// JSON is the structured-text codec: self-describing, larger on the wire,
// trivially debuggable.
var JSON Codec = jsonCodec{}

// Compact is the length-prefixed recursive codec.
var Compact Codec = compactCodec{}

// ByName resolves a configured codec name.
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSON, nil
	case "compact":
		return Compact, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want \"json\" or \"compact\")", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(v Value) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, decodeErrf("json", "%v", err)
	}
	return v, nil
}
