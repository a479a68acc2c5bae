package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/nimasrn/school-notify/pkg/logger"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every setting of the api, processor and cli binaries. Nothing
// else reads the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=school_notify"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	// PlatformTimezone decides where billing months and provider days
	// start.
	PlatformTimezone string `env:"PLATFORM_TIMEZONE,default=UTC"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout        time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=10s"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE,default=16384"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE,default=16384"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode      string `env:"POSTGRES_SSLMODE,default=disable"`
	PostgresMaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`
	PostgresMaxIdleConns int    `env:"POSTGRES_MAX_IDLE_CONNS,default=5"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=notify:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=school_notify"`

	QueueName              string        `env:"QUEUE_NAME,default=dispatch:jobs"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=dispatchers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=10"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=5m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=500ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ProcessorConsumers  int           `env:"PROCESSOR_CONSUMERS,default=2"`
	ProcessorJobWorkers int           `env:"PROCESSOR_JOB_WORKERS,default=4"`
	ProcessorJobTimeout time.Duration `env:"PROCESSOR_JOB_TIMEOUT,default=30m"`
	ProcessorMaxRetries int           `env:"PROCESSOR_MAX_RETRIES,default=5"`

	DispatchWorkers     int           `env:"DISPATCH_WORKERS,default=4"`
	DispatchMaxAttempts int           `env:"DISPATCH_MAX_ATTEMPTS,default=3"`
	DispatchBackoffBase time.Duration `env:"DISPATCH_BACKOFF_BASE,default=500ms"`
	DispatchBackoffMax  time.Duration `env:"DISPATCH_BACKOFF_MAX,default=5s"`
	DispatchCancelTTL   time.Duration `env:"DISPATCH_CANCEL_TTL,default=24h"`

	RosterURL     string        `env:"ROSTER_URL"`
	RosterToken   string        `env:"ROSTER_TOKEN"`
	RosterTimeout time.Duration `env:"ROSTER_TIMEOUT,default=10s"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Location resolves PlatformTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.PlatformTimezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid PLATFORM_TIMEZONE %q", c.PlatformTimezone)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.DispatchWorkers < 1 {
		return errors.New("DISPATCH_WORKERS must be at least 1")
	}
	if c.DispatchMaxAttempts < 1 {
		return errors.New("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.QueueName == "" {
		return errors.New("QUEUE_NAME is required")
	}
	return nil
}

func Load(path string) error {
	c, err := Parse(path)
	if err != nil {
		return err
	}
	config = c
	return nil
}

// Parse reads path (when set) into the environment and maps it onto a new
// Config without touching the global one.
func Parse(path string) (*Config, error) {
	if path != "" {
		logger.Info("[config] loading env file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to Config")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the global config. Used by tests and tools that build a
// Config by hand.
func Set(c *Config) {
	config = c
}
