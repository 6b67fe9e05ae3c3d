package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orchcore/orchd/internal/cache"
	"github.com/orchcore/orchd/internal/command"
	"github.com/orchcore/orchd/internal/config"
	"github.com/orchcore/orchd/internal/events"
	"github.com/orchcore/orchd/internal/gpusetup"
	"github.com/orchcore/orchd/internal/lock"
	"github.com/orchcore/orchd/internal/metrics"
	"github.com/orchcore/orchd/internal/schedconfig"
	"github.com/orchcore/orchd/internal/storage"
	"github.com/orchcore/orchd/pkg/logger"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log.Info("starting orchestrator", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.IsCluster() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	var pgPool *storage.PostgresPool
	if cfg.IsCluster() {
		pgCfg := storage.PostgresConfig{
			Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
			User: cfg.Database.Username, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConnections), MinConns: int32(cfg.Database.MinConnections),
			MaxConnLifetime: cfg.Database.MaxConnLifetime, MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		}
		pgPool = storage.NewPostgresPool(pgCfg, log)
		if err := pgPool.Connect(ctx); err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgPool.Close()
	}

	backend, err := storage.NewStore(ctx, cfg, pgPool, log)
	if err != nil {
		log.Error("storage init failed, continuing in degraded mode", "error", err)
		backend = storage.NewFallbackStorage(log)
	}

	var lockr lock.Locker
	var ch cache.Cache
	if cfg.IsCluster() {
		lockr = lock.NewRedisLocker(redisClient, lock.RedisConfig{
			TTL: cfg.Lock.TTL, AcquireTimeout: cfg.Lock.AcquireTimeout,
		}, cfg.Lock.ValuePrefix, log)
		ch = cache.NewRedisCacheFromClient(redisClient, log)
	} else {
		lockr = lock.NewLocalLocker()
		lru, err := cache.NewLRUCache(1024)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		ch = lru
	}

	configMetrics := metrics.NewConfigMetrics()
	commandMetrics := metrics.NewCommandMetrics()
	gpuMetrics := metrics.NewGpuSetupMetrics()

	sink := events.NewSink(backend)
	configSvc := schedconfig.NewServiceWithSink(backend, ch, lockr, sink, log, configMetrics)
	deliverer := command.NewChannelDelivererWithRateLimit(
		cfg.Command.DeliveryQueueSize, cfg.Command.DeliveryRatePerSecond, cfg.Command.DeliveryBurst)
	registry := command.NewRegistryWithSink(backend, deliverer, lockr, sink, log, commandMetrics)
	gpuCtrl := gpusetup.NewControllerWithMetrics(backend, registry, lockr, sink, log, gpuMetrics)
	registry.RegisterHandler(command.TypeConfigureGpu, gpuCtrl)
	registry.StartReaper(ctx, cfg.Command.ReapInterval)
	defer registry.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(cfg))
	mux.HandleFunc("/internal/scheduling-config", schedulingConfigHandler(configSvc, log))
	mux.HandleFunc("/internal/events", eventsHandler(sink, log))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("orchestrator exited")
	return nil
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": serviceName,
			"profile": string(cfg.Profile),
		})
	}
}

// schedulingConfigHandler exposes the live scheduling configuration for
// operator tooling; it is a thin read-only wrapper over the Configuration
// Store, not the general-purpose admin surface the original system has.
func schedulingConfigHandler(svc *schedconfig.Service, log interface {
	Error(msg string, args ...any)
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.GetConfig(r.Context())
		if err != nil {
			log.Error("scheduling config lookup failed", "error", err)
			http.Error(w, "scheduling config unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg)
	}
}

// eventsHandler lets an operator fetch recent orchestrator events, optionally
// filtered by type via the ?type= query parameter.
func eventsHandler(sink *events.Sink, log interface {
	Error(msg string, args ...any)
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		evts, err := sink.Query(r.Context(), r.URL.Query().Get("type"), limit)
		if err != nil {
			log.Error("event query failed", "error", err)
			http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(evts)
	}
}
