package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abyssgrid/gridmarket/config"
	"github.com/abyssgrid/gridmarket/internal/api"
	"github.com/abyssgrid/gridmarket/internal/metrics"
	"github.com/abyssgrid/gridmarket/internal/proof"
	"github.com/abyssgrid/gridmarket/internal/provider"
	"github.com/abyssgrid/gridmarket/internal/receipt"
	"github.com/abyssgrid/gridmarket/internal/registry"
	"github.com/abyssgrid/gridmarket/internal/rewards"
	"github.com/abyssgrid/gridmarket/internal/sandbox"
	"github.com/abyssgrid/gridmarket/internal/scheduler"
	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/transport"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	log := logger.NewLogger("gridmarketd")
	log.Info("Starting GridMarket node", "version", version, "build_time", buildTime)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err.Error())
		os.Exit(1)
	}
	log = logger.NewLoggerWithLevel("gridmarketd", cfg.Logging.Level)

	params, err := cfg.MarketParams()
	if err != nil {
		log.Error("Invalid market parameters", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error("Metrics server failed", "error", err.Error())
			}
		}()
	}

	// Storage
	var st store.Store
	switch cfg.Database.Backend {
	case "postgres":
		log.Info("Connecting to database", "host", cfg.Database.Host, "port", cfg.Database.Port)
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			URL:            cfg.Database.GetConnectionString(),
			MaxConnections: cfg.Database.MaxOpenConns,
			MaxIdle:        cfg.Database.MaxIdleConns,
			ConnMaxLife:    cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Error("Failed to connect to database", "error", err.Error())
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.InitSchema(); err != nil {
			log.Error("Failed to initialize schema", "error", err.Error())
			os.Exit(1)
		}
		st = pg
	default:
		log.Info("Using in-memory storage")
		st = store.NewMemoryStore()
	}

	// Cache
	var cache *store.RedisCache
	if cfg.Redis.Enabled {
		log.Info("Connecting to Redis", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
		cache, err = store.NewRedisCache(store.CacheConfig{
			Address:  cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.CacheTTL,
		})
		if err != nil {
			log.Error("Failed to connect to Redis", "error", err.Error())
			os.Exit(1)
		}
		defer cache.Close()
	}

	// Proof backend
	var backend proof.Backend
	switch cfg.Market.ProofBackend {
	case "groth16":
		log.Info("Using Groth16 proof backend")
		backend = proof.NewGroth16Backend()
	default:
		log.Info("Using mock proof backend")
		backend = proof.NewMockBackend()
	}

	// Core
	reg := registry.New(st, params, log.With("module", "registry"))
	meter := rewards.NewMeter()
	agg := rewards.NewAggregator(st, reg, backend, meter, params, log.With("module", "rewards"))

	// Peer mesh
	tr := transport.NewWSTransport(cfg.Node.PeerID, cfg.Node.ComputeScore,
		cfg.Transport.MessageRate, log.With("module", "transport"))
	defer tr.Close()

	sched := scheduler.New(tr, params, log.With("module", "scheduler"))
	tr.OnResponse(sched.HandleResponse)

	runner := sandbox.NewLocalRunner(cfg.Node.PeerID)
	runner.Register("echo", []byte("echo-v1"),
		func(_ context.Context, input json.RawMessage) (json.RawMessage, []string, error) {
			return input, nil, nil
		})
	provider.NewWorker(tr, runner, receipt.NewGenerator(), backend, agg, reg,
		log.With("module", "provider"))

	for _, peerURL := range cfg.Transport.Peers {
		if err := tr.Connect(ctx, peerURL); err != nil {
			log.Warn("Failed to connect to peer", "url", peerURL, "error", err.Error())
		}
	}

	// API
	log.Info("Initializing API server", "port", cfg.API.Port)
	auth := api.NewAuthManager(cfg.Node.JWTSecret)
	apiServer := api.NewServer(cfg.API, reg, agg, sched, cache, auth, tr, log.With("module", "api"))

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server failed", "error", err.Error())
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received interrupt signal, shutting down gracefully")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Stopping API server")
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", "error", err.Error())
	}

	if metricsServer != nil {
		log.Info("Stopping metrics server")
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop metrics server gracefully", "error", err.Error())
		}
	}

	log.Info("GridMarket node stopped successfully")
}
