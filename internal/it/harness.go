package it

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"regionkv/internal/api"
	"regionkv/internal/hlc"
	"regionkv/internal/kv"
	"regionkv/internal/replicate"
	"regionkv/internal/storage"
)

// Node is one in-process region: its own store, clock, core, HTTP
// server and replication scheduler.
type Node struct {
	ID     string
	Region string
	Core   *kv.Core
	Store  *storage.BadgerStore
	Server *httptest.Server
	sched  *replicate.Scheduler
}

// Cluster is a test cluster of fully wired nodes. Replication runs
// over real HTTP between the nodes' test servers; ticks are driven
// manually with SyncAll so tests stay deterministic.
type Cluster struct {
	Nodes []*Node
}

// NewCluster creates an empty cluster harness.
func NewCluster() *Cluster {
	return &Cluster{}
}

// AddNode creates a node with an in-memory store and starts its HTTP
// server. Call Connect after all nodes are added.
func (c *Cluster) AddNode(id, region string) (*Node, error) {
	store, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", id, err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := kv.New(store, hlc.NewClock(id), id, region, logger)

	n := &Node{
		ID:     id,
		Region: region,
		Core:   core,
		Store:  store,
		Server: httptest.NewServer(api.NewServer(core, logger)),
	}
	c.Nodes = append(c.Nodes, n)
	return n, nil
}

// Connect wires every node's scheduler to all the other nodes (full
// mesh). The schedulers are not started; tests pump them via SyncAll.
func (c *Cluster) Connect() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, n := range c.Nodes {
		peers := make([]string, 0, len(c.Nodes)-1)
		for _, other := range c.Nodes {
			if other != n {
				peers = append(peers, other.Server.URL)
			}
		}
		n.sched = replicate.NewScheduler(n.Core, n.Store, replicate.NewClient(), replicate.Config{
			Peers:        peers,
			Interval:     time.Hour,
			FetchTimeout: 5 * time.Second,
			BatchSize:    100,
		}, logger)
	}
}

// SyncAll runs one replication pass on every node. rounds > 1 lets
// changes relay across the mesh until quiescent.
func (c *Cluster) SyncAll(ctx context.Context, rounds int) {
	for i := 0; i < rounds; i++ {
		for _, n := range c.Nodes {
			n.sched.Sync(ctx)
		}
	}
}

// Close tears the cluster down.
func (c *Cluster) Close() {
	for _, n := range c.Nodes {
		n.Server.Close()
		_ = n.Store.Close()
	}
}
