package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/config"
	"github.com/iamqiss/Pixelle-sub004/internal/confservice"
	"github.com/iamqiss/Pixelle-sub004/internal/directory"
	"github.com/iamqiss/Pixelle-sub004/internal/events"
	"github.com/iamqiss/Pixelle-sub004/internal/executor"
	"github.com/iamqiss/Pixelle-sub004/internal/fetch"
	"github.com/iamqiss/Pixelle-sub004/internal/handlers"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/propagator"
	"github.com/iamqiss/Pixelle-sub004/internal/router"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
	"github.com/iamqiss/Pixelle-sub004/internal/utils"
	"github.com/iamqiss/Pixelle-sub004/internal/watermark"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Topology service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime,
		"node", cfg.Node.ID)

	self := topology.NodeID(cfg.Node.ID)

	// Context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the membership directory
	logger.Info("Connecting to etcd", "endpoints", cfg.Etcd.Endpoints)
	dir, err := directory.New(cfg.Etcd, logger)
	if err != nil {
		logger.Fatal("Failed to connect to etcd", "error", err)
	}
	defer func() { _ = dir.Close() }()

	// Connect to the event bus (configurable backend)
	logger.Info("Connecting to event bus", "type", cfg.Events.Type, "url", cfg.Events.URL)
	bus, err := events.New(cfg.Events)
	if err != nil {
		logger.Fatal("Failed to connect to event bus", "error", err)
	}
	defer func() { _ = bus.Close() }()
	announcer := events.NewAnnouncer(bus, logger)

	// Executor pool for continuations and fetches
	exec := executor.New(executor.DefaultConfig(), logger)
	exec.Start()
	defer exec.Stop()

	// Peer messaging
	pool := transport.NewConnectionPool(logger)
	defer pool.Close()
	messenger := transport.NewClient(self, pool, transport.ClientConfig{
		Timeout:    cfg.Fetch.Timeout,
		MaxElapsed: cfg.Fetch.MaxElapsed,
	}, logger)

	collector := watermark.NewCollector(logger)

	// The service resolves peer addresses through its endpoint mapping
	// first and falls back to the directory registration.
	var svc *confservice.Service
	resolve := func(node topology.NodeID) (string, bool) {
		if svc != nil {
			if addr, ok := svc.AddressOf(node); ok {
				return addr, true
			}
		}
		rctx, rcancel := context.WithTimeout(ctx, utils.GRPCRequestTimeout)
		defer rcancel()
		return dir.AddressOf(rctx, node)
	}

	isAlive := func(node topology.NodeID) bool {
		lctx, lcancel := context.WithTimeout(ctx, utils.GRPCRequestTimeout)
		defer lcancel()
		alive, err := dir.IsAlive(lctx, node)
		return err == nil && alive
	}

	// Sync propagator and the bridge tying it to the service
	bridge := &syncBridge{self: self, collector: collector, announcer: announcer}
	prop := propagator.New(self, messenger, resolve, exec, bridge, propagator.Config{
		RetryInterval: cfg.Sync.RetryInterval,
		MaxInterval:   cfg.Sync.MaxInterval,
	}, logger)
	bridge.prop = prop
	defer prop.Stop()

	// Configuration service
	svc = confservice.New(confservice.Config{
		Self:          self,
		FetchTimeout:  cfg.Fetch.Timeout,
		FetchAttempts: cfg.Fetch.MaxAttempts,
	}, dir, bridge, fetch.NewClient(messenger, logger), exec, isAlive, resolve, logger)
	bridge.svc = svc
	defer svc.Shutdown()

	collector.SetListener(&watermarkBridge{svc: svc})
	svc.AddListener(&announcerListener{announcer: announcer})

	// Messenger server: topology fetches, sync notifications, watermarks
	server := transport.NewServer(cfg.GetGRPCAddress(), logger)
	server.RegisterHandler(transport.VerbFetchTopologies, fetch.NewServer(&serviceSource{svc: svc}, logger).Handler())
	server.RegisterHandler(transport.VerbSyncComplete, propagator.Handler(&notificationReceiver{
		svc:       svc,
		collector: collector,
	}))
	server.RegisterHandler(transport.VerbWatermarks, collector.Handler())
	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Fatal("Failed to start messenger server", "error", err)
		}
	}()

	// Register this node in the directory
	registration := directory.NewRegistration(dir, self, cfg.GetAdvertiseAddress(), logger)
	if err := registration.Register(ctx); err != nil {
		logger.Fatal("Failed to register node", "error", err)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), utils.GRPCRequestTimeout)
		defer dcancel()
		_ = registration.Deregister(dctx)
	}()

	// Bootstrap from the directory's current epoch, then start
	bootstrap := loadCurrentTopology(ctx, dir, svc, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Fatal("Failed to start configuration service", "error", err)
	}
	if bootstrap != nil && bootstrap.Contains(self) {
		if err := svc.LocalSyncComplete(*bootstrap, true); err != nil {
			logger.Error("Failed to begin sync for bootstrap epoch", "error", err)
		}
	}

	// Follow directory topology changes
	go func() {
		for t := range dir.Watch(ctx) {
			if err := svc.ReportTopology(ctx, t, false, true); err != nil {
				logger.Error("Failed to report topology", "error", err, "epoch", t.Epoch)
			}
		}
	}()

	// Periodic watermark exchange with peers
	catchup := func(cctx context.Context) (int, error) {
		candidates := svc.PeerAddresses()
		if len(candidates) == 0 {
			return 0, nil
		}
		return len(candidates), collector.FetchAndMerge(cctx, messenger, candidates)
	}
	go func() {
		ticker := time.NewTicker(cfg.Sync.MaxInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gctx, gcancel := context.WithTimeout(ctx, cfg.Fetch.MaxElapsed)
				if _, err := catchup(gctx); err != nil {
					logger.Debug("Watermark exchange failed", "error", err)
				}
				gcancel()
			}
		}
	}()

	// Log authentication status
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	// Admin HTTP server
	h := handlers.New(logger, self, svc, collector, catchup)
	app := router.New(logger, h, *cfg)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

// loadCurrentTopology replays the directory's current epoch into the
// service before Start so the endpoint mapping and removal bookkeeping
// survive restarts. Returns nil when the directory is empty.
func loadCurrentTopology(ctx context.Context, dir *directory.Directory,
	svc *confservice.Service, logger *logging.Logger,
) *topology.Topology {
	lctx, lcancel := context.WithTimeout(ctx, utils.DefaultRequestTimeout)
	defer lcancel()

	current, err := dir.CurrentEpoch(lctx)
	if err != nil {
		logger.Fatal("Failed to read current epoch", "error", err)
	}
	if current == 0 {
		logger.Info("Directory holds no topology yet")
		return nil
	}

	t, err := dir.TopologyAt(lctx, current)
	if err != nil {
		logger.Fatal("Failed to load current topology", "error", err, "epoch", current)
	}

	if err := svc.ReportTopology(lctx, t, true, false); err != nil {
		logger.Fatal("Failed to apply bootstrap topology", "error", err, "epoch", current)
	}

	logger.Info("Bootstrapped from directory", "epoch", current, "shards", len(t.Shards))
	return &t
}
