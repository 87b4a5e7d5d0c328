// Package directory is the etcd-backed source of truth for cluster
// topologies. Every epoch's topology is published here, and nodes
// register themselves under leases so peers can resolve addresses and
// judge liveness.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/iamqiss/Pixelle-sub004/internal/config"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// ErrNotFound is returned when a requested epoch is not in the directory
var ErrNotFound = errors.New("epoch not found in directory")

const (
	epochsSegment  = "epochs"
	nodesSegment   = "nodes"
	currentSegment = "current"
)

// Directory reads and writes cluster topologies in etcd
type Directory struct {
	client *clientv3.Client
	prefix string
	logger *logging.Logger
}

// New connects to etcd and returns a directory scoped to cfg.Prefix
func New(cfg config.EtcdConfig, logger *logging.Logger) (*Directory, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/topology"
	}

	return &Directory{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// NewWithClient wraps an existing etcd client, mainly for tests
func NewWithClient(client *clientv3.Client, prefix string, logger *logging.Logger) *Directory {
	return &Directory{client: client, prefix: prefix, logger: logger}
}

// epochKey pads the epoch so lexicographic key order matches numeric order
func (d *Directory) epochKey(epoch uint64) string {
	return path.Join(d.prefix, epochsSegment, fmt.Sprintf("%020d", epoch))
}

func (d *Directory) currentKey() string {
	return path.Join(d.prefix, epochsSegment, currentSegment)
}

func (d *Directory) nodeKey(id topology.NodeID) string {
	return path.Join(d.prefix, nodesSegment, strconv.FormatInt(int64(id), 10))
}

// topologyDoc is the JSON document stored per epoch
type topologyDoc struct {
	Epoch      uint64            `json:"epoch"`
	Shards     []shardDoc        `json:"shards"`
	RemovedIDs []topology.NodeID `json:"removed_ids,omitempty"`
	StaleIDs   []topology.NodeID `json:"stale_ids,omitempty"`
	StoredAt   time.Time         `json:"stored_at"`
}

type shardDoc struct {
	Start string            `json:"start"`
	End   string            `json:"end"`
	Nodes []topology.NodeID `json:"nodes"`
}

func toDoc(t topology.Topology) topologyDoc {
	doc := topologyDoc{
		Epoch:      t.Epoch,
		RemovedIDs: t.RemovedIDs,
		StaleIDs:   t.StaleIDs,
		StoredAt:   time.Now().UTC(),
	}
	for _, s := range t.Shards {
		doc.Shards = append(doc.Shards, shardDoc{
			Start: s.Range.Start,
			End:   s.Range.End,
			Nodes: s.Nodes,
		})
	}
	return doc
}

func fromDoc(doc topologyDoc) topology.Topology {
	shards := make([]topology.Shard, 0, len(doc.Shards))
	for _, s := range doc.Shards {
		shards = append(shards, topology.Shard{
			Range: topology.Range{Start: s.Start, End: s.End},
			Nodes: s.Nodes,
		})
	}
	return topology.New(doc.Epoch, shards, doc.RemovedIDs, doc.StaleIDs)
}

// PublishTopology stores a topology and advances the current-epoch
// pointer if this epoch is ahead of it
func (d *Directory) PublishTopology(ctx context.Context, t topology.Topology) error {
	if t.Epoch == 0 {
		return fmt.Errorf("cannot publish topology for epoch 0")
	}

	data, err := json.Marshal(toDoc(t))
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}

	if _, err := d.client.Put(ctx, d.epochKey(t.Epoch), string(data)); err != nil {
		return fmt.Errorf("failed to store topology in etcd: %w", err)
	}

	// Advance the pointer only forward. The txn retries on conflict so
	// concurrent publishers cannot move it backwards.
	for {
		current, err := d.CurrentEpoch(ctx)
		if err != nil {
			return err
		}
		if t.Epoch <= current {
			break
		}

		var cmp clientv3.Cmp
		if current == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(d.currentKey()), "=", 0)
		} else {
			cmp = clientv3.Compare(clientv3.Value(d.currentKey()), "=", strconv.FormatUint(current, 10))
		}

		resp, err := d.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(d.currentKey(), strconv.FormatUint(t.Epoch, 10))).
			Commit()
		if err != nil {
			return fmt.Errorf("failed to advance current epoch: %w", err)
		}
		if resp.Succeeded {
			break
		}
	}

	d.logger.Info("Published topology", "epoch", t.Epoch, "shards", len(t.Shards))
	return nil
}

// CurrentEpoch returns the latest published epoch, zero when none
func (d *Directory) CurrentEpoch(ctx context.Context) (uint64, error) {
	resp, err := d.client.Get(ctx, d.currentKey())
	if err != nil {
		return 0, fmt.Errorf("failed to get current epoch: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}

	epoch, err := strconv.ParseUint(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt current epoch value: %w", err)
	}
	return epoch, nil
}

// TopologyAt returns the topology published for an epoch
func (d *Directory) TopologyAt(ctx context.Context, epoch uint64) (topology.Topology, error) {
	resp, err := d.client.Get(ctx, d.epochKey(epoch))
	if err != nil {
		return topology.Topology{}, fmt.Errorf("failed to get topology from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return topology.Topology{}, fmt.Errorf("epoch %d: %w", epoch, ErrNotFound)
	}

	var doc topologyDoc
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return topology.Topology{}, fmt.Errorf("failed to unmarshal topology: %w", err)
	}

	return fromDoc(doc), nil
}

// Watch streams topologies as they are published, starting after the
// current revision. The channel closes when ctx is cancelled.
func (d *Directory) Watch(ctx context.Context) <-chan topology.Topology {
	out := make(chan topology.Topology)
	prefix := path.Join(d.prefix, epochsSegment) + "/"

	go func() {
		defer close(out)

		watchCh := d.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				d.logger.Error("Topology watch error", "error", err)
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				if strings.HasSuffix(string(ev.Kv.Key), "/"+currentSegment) {
					continue
				}

				var doc topologyDoc
				if err := json.Unmarshal(ev.Kv.Value, &doc); err != nil {
					d.logger.Warn("Skipping undecodable topology event",
						"key", string(ev.Kv.Key),
						"error", err)
					continue
				}

				select {
				case out <- fromDoc(doc):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// NodeInfo is the registration document for one node
type NodeInfo struct {
	ID        topology.NodeID `json:"id"`
	Address   string          `json:"address"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Nodes returns the currently registered nodes. Registration keys are
// lease-bound, so presence here means the node heartbeated recently.
func (d *Directory) Nodes(ctx context.Context) (map[topology.NodeID]NodeInfo, error) {
	prefix := path.Join(d.prefix, nodesSegment) + "/"

	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make(map[topology.NodeID]NodeInfo, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info NodeInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			d.logger.Warn("Skipping undecodable node registration",
				"key", string(kv.Key),
				"error", err)
			continue
		}
		nodes[info.ID] = info
	}

	return nodes, nil
}

// IsAlive reports whether a node currently holds its registration
func (d *Directory) IsAlive(ctx context.Context, id topology.NodeID) (bool, error) {
	resp, err := d.client.Get(ctx, d.nodeKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check node liveness: %w", err)
	}
	return len(resp.Kvs) > 0, nil
}

// AddressOf resolves a node's registered address
func (d *Directory) AddressOf(ctx context.Context, id topology.NodeID) (string, bool) {
	resp, err := d.client.Get(ctx, d.nodeKey(id))
	if err != nil || len(resp.Kvs) == 0 {
		return "", false
	}

	var info NodeInfo
	if err := json.Unmarshal(resp.Kvs[0].Value, &info); err != nil {
		return "", false
	}
	return info.Address, true
}

// Close closes the etcd client
func (d *Directory) Close() error {
	return d.client.Close()
}
