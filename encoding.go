package mutbox

import "encoding/json"

// Marshaler encodes a value to bytes and back. The Serializer uses it to produce
// the JSON envelope (spec §3.2) that the Outbox persists.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type defaultMarshaler struct{}

// NewMarshaler returns the default marshaler, backed by encoding/json.
func NewMarshaler() Marshaler {
	return defaultMarshaler{}
}

func (defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (defaultMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
