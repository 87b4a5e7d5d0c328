package propagator

import (
	"github.com/iamqiss/Pixelle-sub004/internal/codec"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Notification is one peer push for one epoch. SyncComplete means Node
// finished applying Epoch locally; Closed and Retired carry the ranges
// newly closed or retired as of Epoch.
type Notification struct {
	Node         topology.NodeID
	Epoch        uint64
	SyncComplete bool
	Closed       topology.Ranges
	Retired      topology.Ranges
}

// Encode serializes the notification
func (n Notification) Encode() []byte {
	buf := codec.AppendNodeID(nil, n.Node)
	buf = codec.AppendUvarint(buf, n.Epoch)
	var sc uint64
	if n.SyncComplete {
		sc = 1
	}
	buf = codec.AppendUvarint(buf, sc)
	buf = codec.AppendRanges(buf, n.Closed)
	return codec.AppendRanges(buf, n.Retired)
}

// DecodeNotification parses a notification produced by Encode
func DecodeNotification(data []byte) (Notification, error) {
	r := codec.NewReader(data)
	n := Notification{
		Node:         codec.ReadNodeID(r),
		Epoch:        r.Uvarint(),
		SyncComplete: r.Uvarint() != 0,
		Closed:       codec.ReadRanges(r),
		Retired:      codec.ReadRanges(r),
	}
	if err := r.Finish(); err != nil {
		return Notification{}, err
	}
	return n, nil
}
