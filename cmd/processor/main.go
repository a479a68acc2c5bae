package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/school-notify/internal/audience"
	"github.com/nimasrn/school-notify/internal/config"
	"github.com/nimasrn/school-notify/internal/processor"
	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/internal/services"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/pg"
	"github.com/nimasrn/school-notify/pkg/prom"
	"github.com/nimasrn/school-notify/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if err := logger.Setup(cfg.AppName, cfg.AppEnv, logLevel(cfg)); err != nil {
		logger.Error("invalid log settings", "error", err)
	}
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", "error", err)
		return
	}
	calendar := services.NewCalendar(loc)

	readConf := pg.Config{
		User:         cfg.PostgresReadUser,
		Host:         cfg.PostgresReadHost,
		Port:         cfg.PostgresReadPort,
		Password:     cfg.PostgresReadPassword,
		Database:     cfg.PostgresReadDatabase,
		SSLMode:      cfg.PostgresSSLMode,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
		MaxIdleConns: cfg.PostgresMaxIdleConns,
	}
	writeConf := pg.Config{
		User:         cfg.PostgresWriteUser,
		Host:         cfg.PostgresWriteHost,
		Port:         cfg.PostgresWritePort,
		Password:     cfg.PostgresWritePassword,
		Database:     cfg.PostgresWriteDatabase,
		SSLMode:      cfg.PostgresSSLMode,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
		MaxIdleConns: cfg.PostgresMaxIdleConns,
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	queueConf := queue.QueueConfig{
		Name:              cfg.QueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	}
	// the processor never submits, but the service wants a publisher
	publisher, err := queue.NewQueue(redisAdap, queueConf)
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	var resolver audience.Resolver = audience.NewStatic(nil)
	if cfg.RosterURL != "" {
		resolver = audience.NewHTTPResolver(cfg.RosterURL, cfg.RosterToken, cfg.RosterTimeout)
	}

	templateRepo := repository.NewTemplateRepository(db)
	recordRepo := repository.NewDeliveryRecordRepository(db)
	ledger := services.NewLedger(
		repository.NewTenantChannelRepository(db),
		repository.NewProviderConfigRepository(db),
		redisAdap,
		calendar,
	)
	providerCache := services.NewProviderCache()
	defer func() {
		if err := providerCache.Close(); err != nil {
			logger.Warn("failed closing providers", "error", err)
		}
	}()

	dispatchService := services.NewDispatchService(services.DispatchDeps{
		Jobs:      repository.NewDispatchJobRepository(db),
		Records:   recordRepo,
		Templates: templateRepo,
		Ledger:    ledger,
		Audience:  resolver,
		Queue:     publisher,
		Flags:     redisAdap,
		Providers: providerCache.Get,
		Calendar:  calendar,
	}, services.DispatchConfig{
		Workers:     cfg.DispatchWorkers,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BackoffBase: cfg.DispatchBackoffBase,
		BackoffMax:  cfg.DispatchBackoffMax,
		CancelTTL:   cfg.DispatchCancelTTL,
	})

	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyConfig.MaxRetries = cfg.ProcessorMaxRetries
	idempotencyService := processor.NewIdempotencyService(redisAdap, idempotencyConfig)

	service := processor.NewProcessorService(redisAdap, processor.Config{
		Consumers:  cfg.ProcessorConsumers,
		Workers:    cfg.ProcessorJobWorkers,
		JobTimeout: cfg.ProcessorJobTimeout,
		Queue:      queueConf,
	})
	service.RegisterProcessor(processor.NewJobProcessor(dispatchService, idempotencyService))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-c
	service.Stop()
}

func logLevel(cfg *config.Config) string {
	if cfg.AppDebug {
		return "debug"
	}
	return cfg.LogLevel
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "path", path, "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
