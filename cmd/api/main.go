package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/school-notify/internal/audience"
	"github.com/nimasrn/school-notify/internal/config"
	"github.com/nimasrn/school-notify/internal/handlers"
	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/internal/services"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", "error", err)
		return
	}
	calendar := services.NewCalendar(loc)

	// the write deadline must outlive the handler timeout
	s := xhttp.NewServer(xhttp.DefaultServerOption).WithTimeouts(0, cfg.HttpRequestTimeout+time.Second)
	s.Server.ReadBufferSize = cfg.HttpServerReadBufferSize
	s.Server.WriteBufferSize = cfg.HttpServerWriteBufferSize
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))

	db, err := pg.CreateReadWrite(readConfig(cfg), writeConfig(cfg), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	q, err := queue.NewQueue(redisAdap, queueConfig(cfg))
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	tenantRepo := repository.NewTenantChannelRepository(db)
	providerRepo := repository.NewProviderConfigRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	jobRepo := repository.NewDispatchJobRepository(db)
	recordRepo := repository.NewDeliveryRecordRepository(db)

	var resolver audience.Resolver = audience.NewStatic(nil)
	if cfg.RosterURL != "" {
		resolver = audience.NewHTTPResolver(cfg.RosterURL, cfg.RosterToken, cfg.RosterTimeout)
	} else {
		logger.Warn("ROSTER_URL is not set, audience filters resolve to nobody")
	}

	// services
	ledger := services.NewLedger(tenantRepo, providerRepo, redisAdap, calendar)
	dispatchService := services.NewDispatchService(services.DispatchDeps{
		Jobs:      jobRepo,
		Records:   recordRepo,
		Templates: templateRepo,
		Ledger:    ledger,
		Audience:  resolver,
		Queue:     q,
		Flags:     redisAdap,
		Providers: services.NewProviderFactory(),
		Calendar:  calendar,
	}, dispatchConfig(cfg))
	templateService := services.NewTemplateService(templateRepo, calendar)
	deliveryLogService := services.NewDeliveryLogService(recordRepo, calendar)

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterDispatchRoutes(g, handlers.NewDispatchHandler(dispatchService))
	handlers.RegisterDeliveryRoutes(g, handlers.NewDeliveryHandler(deliveryLogService))
	handlers.RegisterTemplateRoutes(g, handlers.NewTemplateHandler(templateService))
	handlers.RegisterProviderRoutes(g, handlers.NewProviderHandler(dispatchService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	}))

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

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}

func readConfig(cfg *config.Config) pg.Config {
	return pg.Config{
		User:         cfg.PostgresReadUser,
		Host:         cfg.PostgresReadHost,
		Port:         cfg.PostgresReadPort,
		Password:     cfg.PostgresReadPassword,
		Database:     cfg.PostgresReadDatabase,
		SSLMode:      cfg.PostgresSSLMode,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
		MaxIdleConns: cfg.PostgresMaxIdleConns,
	}
}

func writeConfig(cfg *config.Config) pg.Config {
	return pg.Config{
		User:         cfg.PostgresWriteUser,
		Host:         cfg.PostgresWriteHost,
		Port:         cfg.PostgresWritePort,
		Password:     cfg.PostgresWritePassword,
		Database:     cfg.PostgresWriteDatabase,
		SSLMode:      cfg.PostgresSSLMode,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
		MaxIdleConns: cfg.PostgresMaxIdleConns,
	}
}

func queueConfig(cfg *config.Config) queue.QueueConfig {
	return queue.QueueConfig{
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
}

func dispatchConfig(cfg *config.Config) services.DispatchConfig {
	return services.DispatchConfig{
		Workers:     cfg.DispatchWorkers,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BackoffBase: cfg.DispatchBackoffBase,
		BackoffMax:  cfg.DispatchBackoffMax,
		CancelTTL:   cfg.DispatchCancelTTL,
	}
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
