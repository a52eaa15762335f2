package replicate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"regionkv/internal/kv"
	"regionkv/internal/storage"
)

// Config controls the pull loop.
type Config struct {
	// Peers are the base URLs this node pulls from.
	Peers []string
	// Interval is the pause between sync passes.
	Interval time.Duration
	// FetchTimeout bounds a single peer fetch.
	FetchTimeout time.Duration
	// BatchSize caps how many changes one pull requests.
	BatchSize int
	// MaxParallel bounds how many peers sync concurrently per pass.
	MaxParallel int
}

// Scheduler drives pull replication: every Interval it fans out to all
// configured peers concurrently, pulls the changes it has not seen
// (tracked by a per-peer seq cursor), and feeds them through the
// core's idempotent ingestion. One peer's failure never touches the
// other peers or the loop; the peer is retried next pass with its
// cursor unchanged.
type Scheduler struct {
	core   *kv.Core
	store  storage.Store
	client *Client
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero config fields fall back to
// conservative defaults.
func NewScheduler(core *kv.Core, store storage.Store, client *Client, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		core:   core,
		store:  store,
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "replicate"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the pull loop. It returns immediately; Stop waits for
// the loop to drain.
func (s *Scheduler) Start() {
	if len(s.cfg.Peers) == 0 {
		s.logger.Info("no peers configured, replication idle")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Sync(s.ctx)
			}
		}
	}()
	s.logger.Info("replication started",
		"peers", len(s.cfg.Peers), "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Sync runs one full pass over all peers with bounded parallelism.
// Per-peer errors are logged and swallowed so no peer can cancel the
// others.
func (s *Scheduler) Sync(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)

	for _, peer := range s.cfg.Peers {
		peer := peer
		g.Go(func() error {
			if err := s.syncPeer(gctx, peer); err != nil {
				s.logger.Warn("peer sync failed", "peer", peer, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// syncPeer pulls one batch from one peer. The cursor advances to the
// highest seq the peer reported — duplicates included — but only after
// a complete fetch+ingest pass; any failure leaves it untouched for
// the next tick.
func (s *Scheduler) syncPeer(ctx context.Context, peerURL string) error {
	state, err := s.store.PeerState(peerURL)
	if err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	changes, lastSeq, err := s.client.FetchChanges(fctx, peerURL, state.LastSeq, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	applied, err := s.core.IngestBatch(changes)
	if err != nil {
		return fmt.Errorf("ingest batch from %s: %w", peerURL, err)
	}

	maxSeq := lastSeq
	for _, ch := range changes {
		if ch.Seq > maxSeq {
			maxSeq = ch.Seq
		}
	}
	if err := s.store.AdvancePeerCursor(peerURL, maxSeq); err != nil {
		return err
	}

	if len(changes) > 0 {
		s.logger.Debug("peer sync complete",
			"peer", peerURL, "pulled", len(changes), "applied", applied, "cursor", maxSeq)
	}
	return nil
}
