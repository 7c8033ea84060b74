package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/gameservice"
	"github.com/duel-matchmaker/internal/handler"
	"github.com/duel-matchmaker/internal/kafka"
	"github.com/duel-matchmaker/internal/memstore"
	"github.com/duel-matchmaker/internal/postgres"
	"github.com/duel-matchmaker/internal/redis"
	"github.com/duel-matchmaker/internal/service"
	"github.com/duel-matchmaker/internal/sink"
	"github.com/duel-matchmaker/internal/websocket"
	"github.com/duel-matchmaker/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document stores and the external log
	var (
		rosterStore service.RosterStore
		stateStore  service.StateStore
		sinks       sink.Multi
		checks      = make(map[string]func(context.Context) error)
	)
	switch cfg.Storage.Backend {
	case config.StorageBackendMemory:
		logger.Warn("using in-memory storage, state is lost on restart")
		store := memstore.New()
		rosterStore, stateStore = store, store

	default:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisStore, err := redis.NewStateStore(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()
		logger.Info("connected to PostgreSQL")

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		rosterStore, stateStore = postgresRepo, redisStore
		sinks = append(sinks, postgresRepo)
		checks["redis"] = redisStore.Ping
		checks["postgres"] = postgresRepo.Ping
	}

	var auditProducer *kafka.AuditProducer
	if cfg.Kafka.Enabled {
		auditProducer, err = kafka.NewAuditProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka audit producer, continuing without it", "error", err)
		} else {
			sinks = append(sinks, auditProducer)
		}
	}

	snapshotWriter := worker.NewSnapshotWriter(rosterStore, stateStore, &cfg.Snapshot, logger)
	snapshot, err := snapshotWriter.Load(ctx)
	if err != nil {
		logger.Error("failed to load persisted documents", "error", err)
		os.Exit(1)
	}
	if err := snapshotWriter.Start(ctx); err != nil {
		logger.Error("failed to start snapshot writer", "error", err)
		os.Exit(1)
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	gameClient := gameservice.NewClient(&cfg.GameService, logger)

	engine := service.NewEngine(&cfg.Matchmaking, snapshot, service.Dependencies{
		Transport: wsHub,
		Duels:     gameClient,
		Sink:      sinks,
		Persister: snapshotWriter,
	}, logger)

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(engineCtx); err != nil {
			logger.Error("matchmaking engine failed", "error", err)
		}
	}()

	flagSync := worker.NewFlagSync(engine, gameClient, &cfg.FlagSync, logger)
	if cfg.FlagSync.Enabled {
		if err := flagSync.Start(ctx); err != nil {
			logger.Error("failed to start flag sync worker", "error", err)
			os.Exit(1)
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ReportsTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, engine, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(engine, wsHub, logger)
	httpHandler.AddWorker("snapshot_writer", snapshotWriter)
	httpHandler.AddWorker("flag_sync", flagSync)
	for name, check := range checks {
		httpHandler.AddReadinessCheck(name, check)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := flagSync.Stop(); err != nil {
		logger.Error("failed to stop flag sync worker", "error", err)
	}

	// The engine stops before the writer so its last snapshot is flushed
	stopEngine()
	<-engineDone

	if err := snapshotWriter.Stop(); err != nil {
		logger.Error("failed to stop snapshot writer", "error", err)
	}

	if auditProducer != nil {
		if err := auditProducer.Close(); err != nil {
			logger.Error("failed to close Kafka audit producer", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}
