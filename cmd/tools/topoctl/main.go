// topoctl publishes topology definitions to the membership directory.
// Operators use it to roll out a new epoch:
//
//	topoctl -config config.yaml -file topology.json
//	topoctl -config config.yaml -current
//
// The topology file describes the shard assignment for one epoch:
//
//	{
//	  "epoch": 4,
//	  "shards": [
//	    {"start": "", "end": "m", "nodes": [1, 2]},
//	    {"start": "m", "end": "", "nodes": [2, 3]}
//	  ],
//	  "removed": [4]
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/config"
	"github.com/iamqiss/Pixelle-sub004/internal/directory"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

type shardSpec struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Nodes []int32 `json:"nodes"`
}

type topologySpec struct {
	Epoch   uint64      `json:"epoch"`
	Shards  []shardSpec `json:"shards"`
	Removed []int32     `json:"removed,omitempty"`
	Stale   []int32     `json:"stale,omitempty"`
}

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	file := flag.String("file", "", "Topology definition file to publish")
	showCurrent := flag.Bool("current", false, "Print the current epoch and exit")
	timeout := flag.Duration("timeout", 10*time.Second, "Operation timeout")

	flag.Parse()

	if *file == "" && !*showCurrent {
		log.Fatal("Error: one of -file or -current is required")
	}

	cfg := config.LoadOrDefault(*configPath)

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		log.Fatalf("Error: failed to initialize logger: %v", err)
	}

	dir, err := directory.New(cfg.Etcd, logger)
	if err != nil {
		log.Fatalf("Error: failed to connect to etcd: %v", err)
	}
	defer func() { _ = dir.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *showCurrent {
		current, err := dir.CurrentEpoch(ctx)
		if err != nil {
			log.Fatalf("Error: failed to read current epoch: %v", err)
		}
		fmt.Printf("current epoch: %d\n", current)
		return
	}

	t, err := loadSpec(*file)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	current, err := dir.CurrentEpoch(ctx)
	if err != nil {
		log.Fatalf("Error: failed to read current epoch: %v", err)
	}
	if t.Epoch != current+1 {
		log.Fatalf("Error: epoch %d does not follow current epoch %d", t.Epoch, current)
	}

	if err := dir.PublishTopology(ctx, t); err != nil {
		log.Fatalf("Error: failed to publish topology: %v", err)
	}

	fmt.Printf("published epoch %d (%d shards)\n", t.Epoch, len(t.Shards))
}

// loadSpec reads and validates a topology definition file
func loadSpec(path string) (topology.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return topology.Topology{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var spec topologySpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return topology.Topology{}, fmt.Errorf("invalid topology file: %w", err)
	}

	if spec.Epoch == 0 {
		return topology.Topology{}, fmt.Errorf("epoch must be positive")
	}
	if len(spec.Shards) == 0 {
		return topology.Topology{}, fmt.Errorf("topology must assign at least one shard")
	}

	shards := make([]topology.Shard, 0, len(spec.Shards))
	for i, s := range spec.Shards {
		if len(s.Nodes) == 0 {
			return topology.Topology{}, fmt.Errorf("shard %d has no replicas", i)
		}
		nodes := make([]topology.NodeID, 0, len(s.Nodes))
		for _, n := range s.Nodes {
			if n <= 0 {
				return topology.Topology{}, fmt.Errorf("shard %d has invalid node id %d", i, n)
			}
			nodes = append(nodes, topology.NodeID(n))
		}
		shards = append(shards, topology.Shard{
			Range: topology.Range{Start: s.Start, End: s.End},
			Nodes: nodes,
		})
	}

	return topology.New(spec.Epoch, shards, toNodeIDs(spec.Removed), toNodeIDs(spec.Stale)), nil
}

func toNodeIDs(raw []int32) []topology.NodeID {
	if len(raw) == 0 {
		return nil
	}
	out := make([]topology.NodeID, 0, len(raw))
	for _, n := range raw {
		out = append(out, topology.NodeID(n))
	}
	return out
}
