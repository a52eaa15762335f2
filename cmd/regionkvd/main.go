// Command regionkvd runs one node of the multi-region key-value
// store: the HTTP API plus the background replication loop.
//
// Configuration comes from a YAML file (-config), overridden by flags,
// which default to REGIONKV_* environment variables. A minimal node:
//
//	regionkvd -node-id n-eu-1 -region eu -listen :8080 \
//	    -peers http://us.kv.internal:8080 -data-dir /var/lib/regionkv
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regionkv/internal/api"
	"regionkv/internal/config"
	"regionkv/internal/hlc"
	"regionkv/internal/kv"
	"regionkv/internal/replicate"
	"regionkv/internal/storage"
)

func main() {
	var (
		configPath   = flag.String("config", os.Getenv("REGIONKV_CONFIG"), "path to YAML config file")
		nodeID       = flag.String("node-id", os.Getenv("REGIONKV_NODE_ID"), "node identity (stamps carry it)")
		region       = flag.String("region", os.Getenv("REGIONKV_REGION"), "region identity (origin of local writes)")
		listen       = flag.String("listen", os.Getenv("REGIONKV_LISTEN"), "HTTP listen address")
		peersStr     = flag.String("peers", os.Getenv("REGIONKV_PEERS"), "comma-separated peer base URLs")
		syncInterval = flag.Duration("sync-interval", 0, "pause between replication passes")
		batchSize    = flag.Int("batch-size", 0, "max changes per replication pull")
		dataDir      = flag.String("data-dir", os.Getenv("REGIONKV_DATA_DIR"), "storage directory (empty = in-memory)")
		debug        = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(logger, "load config", err)
		}
		cfg = loaded
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *region != "" {
		cfg.RegionID = *region
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *peersStr != "" {
		peers, err := config.ParsePeers(*peersStr)
		if err != nil {
			fatal(logger, "parse peers", err)
		}
		cfg.Peers = peers
	}
	if *syncInterval > 0 {
		cfg.SyncInterval = config.Duration(*syncInterval)
	}
	if *batchSize > 0 {
		cfg.SyncBatchSize = *batchSize
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fatal(logger, "validate config", err)
	}
	logger = logger.With("node", cfg.NodeID, "region", cfg.RegionID)

	store, err := storage.Open(storage.Config{
		Path:       cfg.DataDir,
		InMemory:   cfg.DataDir == "",
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		fatal(logger, "open storage", err)
	}
	if cfg.DataDir == "" {
		logger.Warn("no data-dir configured, running in-memory")
	}

	clock := hlc.NewClock(cfg.NodeID)
	core := kv.New(store, clock, cfg.NodeID, cfg.RegionID, logger)

	sched := replicate.NewScheduler(core, store, replicate.NewClient(), replicate.Config{
		Peers:     cfg.Peers,
		Interval:  cfg.SyncInterval.Std(),
		BatchSize: cfg.SyncBatchSize,
	}, logger)
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(core, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "peers", len(cfg.Peers))
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sched.Stop()
	if err := store.Close(); err != nil {
		logger.Error("close storage", "error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
