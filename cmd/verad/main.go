package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verahub/vera-core/internal/assembly"
	"github.com/verahub/vera-core/internal/completion"
	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/contextcache"
	"github.com/verahub/vera-core/internal/contextstore"
	"github.com/verahub/vera-core/internal/engine"
	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/intent"
	"github.com/verahub/vera-core/internal/logging"
	"github.com/verahub/vera-core/internal/messaging"
	"github.com/verahub/vera-core/internal/orchestrator"
	"github.com/verahub/vera-core/internal/router"
	"github.com/verahub/vera-core/internal/scheduler"
	"github.com/verahub/vera-core/internal/server"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.WithComponent("main").Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logging.WithComponent("main").Error("Invalid config", "error", err)
		os.Exit(1)
	}

	logging.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.WithComponent("main")
	logger.Info("Starting vera-core", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Context store
	var store contextstore.Adapter
	switch cfg.Store.Driver {
	case "remote":
		store = contextstore.NewRemoteAdapter(contextstore.RemoteConfig{
			URL:     cfg.Store.URL,
			APIKey:  cfg.Store.APIKey,
			Timeout: cfg.Store.GetTimeout(),
		})
	default:
		store, err = contextstore.NewSQLiteAdapter(cfg.Store.Path)
		if err != nil {
			logger.Error("Failed to open context store", "error", err)
			os.Exit(1)
		}
	}
	defer store.Close()

	// Summary cache
	var cacheBackend contextcache.Backend
	var reaper scheduler.Reaper
	switch cfg.Cache.Backend {
	case "redis":
		rb, err := contextcache.NewRedisBackend(contextcache.RedisBackendConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			logger.Error("Failed to connect cache Redis", "error", err)
			os.Exit(1)
		}
		defer rb.Close()
		cacheBackend = rb
	default:
		mb := contextcache.NewMemoryBackend(time.Now)
		cacheBackend = mb
		reaper = mb
	}

	cache := contextcache.New(contextcache.Options{
		Backend:   cacheBackend,
		TTL:       cfg.Cache.GetTTL(),
		Threshold: cfg.Cache.GetSummaryLatencyThreshold(),
		Logger:    logging.WithComponent("cache"),
	})
	assembler := assembly.New(store, cache, time.Now, logging.WithComponent("assembly"))

	// Completion backend
	backend, err := completion.NewBackend(&cfg.Completion, logging.WithComponent("completion"))
	if err != nil {
		logger.Error("Failed to create completion backend", "error", err)
		os.Exit(1)
	}
	for lane, err := range backend.Health(ctx) {
		if err != nil {
			logger.Warn("Completion lane unreachable", "lane", lane, "error", err)
		} else {
			logger.Info("Completion lane OK", "lane", lane)
		}
	}

	// Intent templates
	intents := intent.NewRegistry(logging.WithComponent("intent"))
	if err := intents.RegisterDefaults(); err != nil {
		logger.Error("Failed to register intent templates", "error", err)
		os.Exit(1)
	}

	// Expert handlers
	tracker := expert.NewTracker()
	experts := expert.NewRegistry(tracker)
	if err := expert.RegisterBuiltins(experts, store); err != nil {
		logger.Error("Failed to register builtin handlers", "error", err)
		os.Exit(1)
	}
	if err := experts.Register(expert.NewCompletionStep(
		func(ctx context.Context, prompt string) (string, error) {
			resp, err := backend.Complete(ctx, config.ProfileConfig{Name: "factual"}, prompt)
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		})); err != nil {
		logger.Error("Failed to register completion-step handler", "error", err)
		os.Exit(1)
	}

	// Remote handlers over Redis Streams, when configured
	var redisClient *messaging.RedisClient
	var heartbeats *messaging.HeartbeatMonitor
	var dlqReader server.DeadLetterReader
	var nodeLister server.NodeLister
	if cfg.Experts.Redis.Addr != "" {
		redisClient, err = messaging.NewRedisClient(messaging.RedisConfig{
			Addr:     cfg.Experts.Redis.Addr,
			Password: cfg.Experts.Redis.Password,
			DB:       cfg.Experts.Redis.DB,
		}, logging.WithComponent("messaging"))
		if err != nil {
			logger.Error("Failed to connect experts Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		node := cfg.Experts.NodeName
		if node == "" {
			node, _ = os.Hostname()
		}

		replies := messaging.NewReplyRouter(redisClient, node, logging.WithComponent("messaging"))
		if err := replies.Start(ctx); err != nil {
			logger.Error("Failed to start reply router", "error", err)
			os.Exit(1)
		}
		dlq := messaging.NewDeadLetterQueue(redisClient, logging.WithComponent("messaging"))
		dlqReader = dlq

		heartbeats = messaging.NewHeartbeatMonitor(redisClient, node, 3*cfg.Experts.GetHeartbeatInterval(), logging.WithComponent("messaging"))
		if err := heartbeats.Start(ctx, cfg.Experts.GetHeartbeatInterval(), experts.Names()); err != nil {
			logger.Warn("Heartbeat monitor failed to start", "error", err)
		}
		nodeLister = heartbeats

		for _, hc := range cfg.Experts.Handlers {
			if hc.Mode != "redis" {
				continue
			}
			timeout := hc.GetTimeout()
			if timeout == 0 {
				timeout = cfg.Orchestrator.GetTaskTimeout()
			}
			remote := expert.NewRemoteHandler(hc.Name, node, redisClient, replies, dlq, timeout, logging.WithComponent("expert")).
				WithAvailability(heartbeats)
			if err := experts.Register(remote); err != nil {
				logger.Error("Failed to register remote handler", "handler", hc.Name, "error", err)
				os.Exit(1)
			}
			logger.Info("Remote handler registered", "handler", hc.Name)
		}
	}
	experts.Freeze()
	logger.Info("Expert registry frozen", "handlers", experts.Names())

	// Orchestrator
	workers := cfg.Orchestrator.Workers
	if workers <= 0 {
		workers = 4
	}
	executor, err := orchestrator.NewExecutor(experts, cfg.Orchestrator.GetGraphTimeout(), workers, logging.WithComponent("orchestrator"))
	if err != nil {
		logger.Error("Failed to create executor", "error", err)
		os.Exit(1)
	}
	decomposer := orchestrator.NewComposite(
		orchestrator.NewRuleBased(engine.NewClauseMatcher(intents), cfg.Orchestrator.GetTaskTimeout()),
		orchestrator.NewPlanner(
			func(ctx context.Context, prompt string) (string, error) {
				resp, err := backend.Complete(ctx, config.ProfileConfig{Name: "planner"}, prompt)
				if err != nil {
					return "", err
				}
				return resp.Content, nil
			},
			experts.Names(),
			cfg.Orchestrator.GetTaskTimeout(),
			logging.WithComponent("orchestrator"),
		),
		logging.WithComponent("orchestrator"),
	)

	eng := engine.New(engine.Deps{
		Intents:    intents,
		Router:     router.New(cfg, logging.WithComponent("router")),
		Assembler:  assembler,
		Experts:    experts,
		Completer:  backend,
		Decomposer: decomposer,
		Executor:   executor,
		Store:      store,
		Budget:     cfg.Router.ContextBudget,
		Logger:     logging.WithComponent("engine"),
	})

	// Maintenance jobs
	sched, err := scheduler.NewScheduler(reaper, tracker, cfg.Cache.ReaperSchedule, logging.WithComponent("scheduler"))
	if err != nil {
		logger.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()
	logger.Info("Scheduler started")

	srv := server.New(cfg, eng, tracker, backend, dlqReader, nodeLister, logging.WithComponent("server"))
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Stopping scheduler")
	sched.Stop()

	logger.Info("Stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	cancel()
	logger.Info("Shutdown complete")
}
