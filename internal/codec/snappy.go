package codec

import (
	"fmt"

	"github.com/golang/snappy"
)

// Frame flags. Every transport payload is prefixed with one flag byte
// so receivers know whether to decompress; the flag is framing only and
// never changes the encoded byte layout underneath.
const (
	frameRaw    = 0x00
	frameSnappy = 0x01
)

// compressThreshold is the payload size above which frames are
// snappy-compressed.
const compressThreshold = 512

// Frame wraps payload for transport, compressing large payloads.
func Frame(payload []byte) []byte {
	if len(payload) < compressThreshold {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...)
	}
	compressed := snappy.Encode(nil, payload)
	if len(compressed) >= len(payload) {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...)
	}
	out := make([]byte, 0, len(compressed)+1)
	out = append(out, frameSnappy)
	return append(out, compressed...)
}

// Unframe unwraps a transport frame produced by Frame.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCorrupt)
	}
	body := frame[1:]
	switch frame[0] {
	case frameRaw:
		return body, nil
	case frameSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame flag 0x%02x", ErrCorrupt, frame[0])
	}
}
