package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/datalayer"
	"github.com/glizzus/encore/internal/failover"
	"github.com/glizzus/encore/internal/generator"
	"github.com/glizzus/encore/internal/handler"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/metrics"
	"github.com/glizzus/encore/internal/notify"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/reconcile"
	"github.com/glizzus/encore/internal/registry"
	"github.com/glizzus/encore/internal/repository"
	"github.com/glizzus/encore/internal/routing"
	"github.com/glizzus/encore/internal/schedule"
	"github.com/glizzus/encore/internal/voice"
	"github.com/glizzus/encore/internal/worker"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func runBotForever() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	failoverConfig, err := config.NewFailoverConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load failover config: %w", err)
	}
	logger := failoverConfig.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	discordConfig, err := config.NewDiscordConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load discord config: %w", err)
	}
	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	nodes, err := config.LoadNodes(failoverConfig.NodesFile)
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()
	if err := datalayer.MigratePostgres(pool); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}
	regions := repository.NewPostgresRegionRepository(pool)

	minioStorage, err := datalayer.NewMinioStorageFromEnv()
	if err != nil {
		return fmt.Errorf("failed to create minio storage: %w", err)
	}
	if err := minioStorage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure minio bucket: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})
	defer rdb.Close()

	m := metrics.New()
	metricsServer := metrics.NewServer(failoverConfig.MetricsAddr, logger)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	clk := clock.New()
	supervisor := schedule.NewSupervisor(ctx, clk, logger)

	reg := registry.New(registry.LavalinkDialer(lavalink.Options{
		UserID: discordConfig.ClientID,
		Logger: logger,
	}), registry.Options{
		HandshakeTimeout: failoverConfig.HandshakeTimeout,
		Logger:           logger,
		Metrics:          m,
	})
	sessions := player.NewManager(reg, logger)
	reg.SubscribePlayers(sessions)

	router := routing.New(reg, routing.Options{
		Backoff: failoverConfig.MigrationBackoff,
		Clock:   clk,
		Logger:  logger,
		Metrics: m,
	})

	reconciler, err := reconcile.New(reg, sessions, router, reconcile.Options{
		Interval: failoverConfig.ReconcileInterval,
		Cron:     failoverConfig.ReconcileCron,
		Regions:  regions,
		Clock:    clk,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	tracker := handler.NewVoiceTracker(sessions, router, regions, logger)
	regionCommand := handler.NewRegionCommand(regions, reconciler, handler.RegionLabels(nodes), logger)

	session, err := handler.NewSession(discordConfig.Token, handler.Handlers{
		Ready:             handler.ReadyLog,
		InteractionCreate: regionCommand.InteractionCreate,
		VoiceStateUpdate:  tracker.VoiceStateUpdate,
		VoiceServerUpdate: tracker.VoiceServerUpdate,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	sinks := []notify.Sink{
		notify.NewRedisSink(rdb, redisConfig.EventStream),
		notify.NewArchiveSink(minioStorage),
	}
	if discordConfig.NotifyChannelID != "" {
		sinks = append(sinks, notify.NewDiscordSink(session, discordConfig.NotifyChannelID))
	}

	coordinator := failover.New(reg, sessions, router, supervisor, failover.Options{
		ResumeRewind: failoverConfig.ResumeRewind,
		Regions:      regions,
		Sink:         notify.NewMulti(m, sinks...),
		Voice:        voice.NewDiscordTransport(session, logger),
		IDs:          &generator.UUIDV4Generator{},
		Logger:       logger,
		Metrics:      m,
	})
	reg.Subscribe(coordinator)
	reg.Subscribe(reconciler)

	reg.RegisterAll(ctx, nodes)
	for _, h := range reg.Handles() {
		logger.Info("node registered", "node", h.Name(), "region", h.Region(), "available", h.Available())
	}

	receiver, err := worker.NewRedisReconcileReceiver(ctx, rdb, worker.ReceiverOptions{
		Stream: redisConfig.RequestStream,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create reconcile request receiver: %w", err)
	}

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	// An empty guild id registers the commands globally.
	if err := handler.EstablishCommands(session, "", handler.BuildCommands(handler.RegionLabels(nodes))); err != nil {
		return fmt.Errorf("failed to establish commands: %w", err)
	}

	supervisor.Go("reconciler", func(ctx context.Context) {
		if err := reconciler.Run(ctx); err != nil {
			logger.Error("reconciler stopped", "error", err)
		}
	})
	supervisor.Go("reconcile-requests", func(ctx context.Context) {
		receiver.Run(ctx, func(ctx context.Context, req worker.ReconcileRequest) error {
			outcome, err := reconciler.ReconcileTenant(ctx, req.GuildID)
			if errors.Is(err, reconcile.ErrNoSession) {
				logger.Debug("reconcile request for idle guild", "guildID", req.GuildID)
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("handled reconcile request", "guildID", req.GuildID, "outcome", outcome.String())
			return nil
		})
	})

	<-ctx.Done()
	logger.Info("shutting down")

	supervisor.Stop()
	reg.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close metrics server", "error", err)
	}
	return nil
}

func main() {
	if err := runBotForever(); err != nil {
		log.Fatalf("failed to run bot: %v", err)
	}
}
