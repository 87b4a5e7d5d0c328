package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

const registrationTTL = 10 // seconds

// Registration keeps this node's address registered under a lease
type Registration struct {
	directory *Directory
	info      NodeInfo
	leaseID   clientv3.LeaseID
	logger    *logging.Logger
}

// NewRegistration creates a registration for this node
func NewRegistration(directory *Directory, id topology.NodeID, address string, logger *logging.Logger) *Registration {
	return &Registration{
		directory: directory,
		info:      NodeInfo{ID: id, Address: address},
		logger:    logger,
	}
}

// Register writes the node key under a fresh lease and starts the
// keep-alive loop. The registration disappears on its own if this
// process dies.
func (r *Registration) Register(ctx context.Context) error {
	lease, err := r.directory.client.Grant(ctx, registrationTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	r.leaseID = lease.ID

	r.info.UpdatedAt = time.Now()
	data, err := json.Marshal(r.info)
	if err != nil {
		return fmt.Errorf("failed to marshal node info: %w", err)
	}

	key := r.directory.nodeKey(r.info.ID)
	_, err = r.directory.client.Put(ctx, key, string(data), clientv3.WithLease(r.leaseID))
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	r.logger.Info("Node registered",
		"node_id", r.info.ID,
		"address", r.info.Address,
		"lease_id", int64(r.leaseID))

	go r.keepAlive(ctx)

	return nil
}

// keepAlive maintains the lease by sending heartbeats
func (r *Registration) keepAlive(ctx context.Context) {
	ch, err := r.directory.client.KeepAlive(ctx, r.leaseID)
	if err != nil {
		r.logger.Error("Failed to start keep-alive", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Keep-alive stopped (context done)")
			return

		case ka, ok := <-ch:
			if !ok {
				r.logger.Warn("Keep-alive channel closed, attempting re-registration")
				time.Sleep(2 * time.Second)
				if err := r.Register(ctx); err != nil {
					r.logger.Error("Failed to re-register", "error", err)
				}
				return
			}

			if ka == nil {
				r.logger.Warn("Received nil keep-alive response")
				continue
			}

			r.logger.Debug("Heartbeat sent",
				"lease_id", int64(r.leaseID),
				"ttl", ka.TTL)
		}
	}
}

// Deregister removes the node key and revokes the lease
func (r *Registration) Deregister(ctx context.Context) error {
	key := r.directory.nodeKey(r.info.ID)

	_, err := r.directory.client.Delete(ctx, key)
	if err != nil {
		r.logger.Error("Failed to delete node key", "error", err)
	}

	if r.leaseID != 0 {
		if _, revokeErr := r.directory.client.Revoke(ctx, r.leaseID); revokeErr != nil {
			r.logger.Error("Failed to revoke lease", "error", revokeErr)
		}
	}

	r.logger.Info("Node deregistered", "node_id", r.info.ID)
	return err
}
