package transport

import (
	"fmt"
)

// rawMessage carries opaque bytes through the gRPC machinery. All framing
// and versioning lives in the envelope layer, so gRPC only ever sees the
// finished byte slice.
type rawMessage struct {
	data []byte
}

// rawCodec is a pass-through gRPC codec for rawMessage payloads
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("raw codec: unexpected type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("raw codec: unexpected type %T", v)
	}
	m.data = data
	return nil
}

func (rawCodec) Name() string {
	return "raw"
}
