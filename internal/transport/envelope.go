package transport

import (
	"github.com/google/uuid"

	"github.com/iamqiss/Pixelle-sub004/internal/codec"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Verb names a request type carried over the messenger. Handlers are
// registered per verb on the server side.
type Verb string

const (
	// VerbFetchTopologies requests a window of topologies from a peer
	VerbFetchTopologies Verb = "FETCH_TOPOLOGIES"

	// VerbSyncComplete tells a peer that the sender finished applying an
	// epoch locally. The unary reply doubles as the acknowledgement.
	VerbSyncComplete Verb = "SYNC_COMPLETE"

	// VerbWatermarks requests a peer's durability watermark snapshot
	VerbWatermarks Verb = "WATERMARKS"
)

// Envelope is the wire frame for one request: a correlation id for
// logging, the sending node, the verb, and a compressed payload.
type Envelope struct {
	ID      string
	From    topology.NodeID
	Verb    Verb
	Payload []byte
}

// NewEnvelope creates an envelope with a fresh correlation id
func NewEnvelope(from topology.NodeID, verb Verb, payload []byte) Envelope {
	return Envelope{
		ID:      uuid.New().String(),
		From:    from,
		Verb:    verb,
		Payload: payload,
	}
}

// Encode serializes the envelope, compressing the payload when worthwhile
func (e Envelope) Encode() []byte {
	buf := codec.AppendString(nil, e.ID)
	buf = codec.AppendNodeID(buf, e.From)
	buf = codec.AppendString(buf, string(e.Verb))
	buf = codec.AppendBytes(buf, codec.Frame(e.Payload))
	return buf
}

// DecodeEnvelope parses an envelope produced by Encode
func DecodeEnvelope(data []byte) (Envelope, error) {
	r := codec.NewReader(data)
	id := r.String()
	from := codec.ReadNodeID(r)
	verb := r.String()
	framed := r.Bytes()
	if err := r.Finish(); err != nil {
		return Envelope{}, err
	}

	payload, err := codec.Unframe(framed)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:      id,
		From:    from,
		Verb:    Verb(verb),
		Payload: payload,
	}, nil
}

// reply status codes
const (
	replyOK     = 0
	replyFailed = 1
)

// Reply is the wire frame for one response
type Reply struct {
	OK      bool
	Error   string
	Payload []byte
}

// Encode serializes the reply
func (r Reply) Encode() []byte {
	if !r.OK {
		buf := codec.AppendUvarint(nil, replyFailed)
		return codec.AppendString(buf, r.Error)
	}
	buf := codec.AppendUvarint(nil, replyOK)
	return codec.AppendBytes(buf, codec.Frame(r.Payload))
}

// DecodeReply parses a reply produced by Encode
func DecodeReply(data []byte) (Reply, error) {
	r := codec.NewReader(data)
	status := r.Uvarint()

	switch status {
	case replyFailed:
		msg := r.String()
		if err := r.Finish(); err != nil {
			return Reply{}, err
		}
		return Reply{OK: false, Error: msg}, nil

	case replyOK:
		framed := r.Bytes()
		if err := r.Finish(); err != nil {
			return Reply{}, err
		}
		payload, err := codec.Unframe(framed)
		if err != nil {
			return Reply{}, err
		}
		return Reply{OK: true, Payload: payload}, nil

	default:
		if err := r.Err(); err != nil {
			return Reply{}, err
		}
		return Reply{}, codec.ErrCorrupt
	}
}
