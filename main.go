package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"lunara-sentinel/config"
	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/exchange"
	"lunara-sentinel/internal/indicator"
	"lunara-sentinel/internal/logging"
	"lunara-sentinel/internal/monitor"
	"lunara-sentinel/internal/notification"
	"lunara-sentinel/internal/scheduler"
	"lunara-sentinel/internal/secrets"
	"lunara-sentinel/internal/settings"
	"lunara-sentinel/internal/settlement"
	"lunara-sentinel/internal/slipstore"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.Component("main")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := secrets.NewProvider(cfg.Vault)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secrets provider")
	}
	slipKey := provider.SlipEncryptionKey(ctx, cfg.Encryption.KeyEnvVars)

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	repo, err := database.NewRepository(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize repository")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Not fatal: the slip store degrades to its local cache and the
		// scheduler lock recovers once Redis is back.
		log.Warn().Err(err).Msg("redis unreachable at startup")
	}

	slips, err := slipstore.New(rdb, slipKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize slip store")
	}

	var client exchange.Client
	if cfg.Exchange.UseMock {
		log.Info().Msg("using mock exchange client")
		client = exchange.NewMockClient()
	} else {
		client = exchange.NewRESTClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret,
			cfg.Exchange.BaseURL, cfg.Exchange.RequestTimeout)
	}
	gateway := exchange.NewGateway(client, cfg.Exchange.MaxRetries, cfg.Exchange.FailureLimit)

	notifier := notification.NewManager()
	notifier.AddNotifier(notification.NewLogNotifier())
	if cfg.Notification.WebhookURL != "" {
		notifier.AddNotifier(notification.NewWebhookNotifier(cfg.Notification.WebhookURL))
	}
	gateway.SetRecoveryCallback(notifier.SendGatewayRecovery)

	resolver := settings.NewService(rdb, repo)
	rsiSource := indicator.NewSource(gateway, "1h", 14)
	executor := settlement.NewExecutor(repo, gateway, slips, notifier, cfg.Autotrade.MinNotional)
	mon := monitor.New(repo, resolver, gateway, rsiSource, executor, cfg.Autotrade.MinNotional)

	lock := scheduler.NewCycleLock(rdb, cfg.Autotrade.LockTTL)
	sched := scheduler.New(lock, mon, gateway, rdb, cfg.Autotrade.CycleInterval, cfg.Autotrade.ControlChannel)
	sched.Start(ctx)

	log.Info().Msg("lunara sentinel running")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	sched.Stop()
	os.Exit(0)
}
