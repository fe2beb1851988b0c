package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Configuration This struct holds config envs and values
// which are used in the gateway. Only this struct must be used
// to hold any configuration values, no direct access to
// env, ini or any other config source should be made
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"whatsapp_gateway"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpBaseRequestUrl        string `env:"HTTP_BASE_REQUEST_URI" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	ProfilerEnable bool `env:"PROFILER_ENABLE"`
	ProfilerPort   int  `env:"PROFILER_PORT"`

	LogLevel []string `env:"LOG_LEVEL"`

	// WaChap instances, one per region.
	WachapMaliUrl         string `env:"WACHAP_MALI_URL"`
	WachapMaliAccessToken string `env:"WACHAP_MALI_ACCESS_TOKEN"`
	WachapMaliInstanceID  string `env:"WACHAP_MALI_INSTANCE_ID"`

	WachapChineUrl         string `env:"WACHAP_CHINE_URL"`
	WachapChineAccessToken string `env:"WACHAP_CHINE_ACCESS_TOKEN"`
	WachapChineInstanceID  string `env:"WACHAP_CHINE_INSTANCE_ID"`

	WachapTimeout                 time.Duration `env:"WACHAP_TIMEOUT" default:"30s"`
	WachapMaxConns                int           `env:"WACHAP_MAX_CONNS" default:"64"`
	WachapCircuitBreakerThreshold int           `env:"WACHAP_CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	WachapCircuitBreakerTimeout   time.Duration `env:"WACHAP_CIRCUIT_BREAKER_TIMEOUT" default:"1m"`

	// Retry policy defaults applied when the creator does not set its own.
	RetryMaxAttempts        int           `env:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay          time.Duration `env:"RETRY_BASE_DELAY" default:"5m"`
	RetryExponentialBackoff bool          `env:"RETRY_EXPONENTIAL_BACKOFF" default:"1"`
	RetryBatchSize          int           `env:"RETRY_BATCH_SIZE" default:"50"`
	RetryWorkers            int           `env:"RETRY_WORKERS" default:"4"`
	RetryRunLockTTL         time.Duration `env:"RETRY_RUN_LOCK_TTL" default:"5m"`

	CleanupRetentionDays int `env:"CLEANUP_RETENTION_DAYS" default:"30"`

	// Non-production redirect: when set, every message goes to this number
	// with a prefix naming the original recipient.
	DevRedirectPhone string `env:"DEV_REDIRECT_PHONE"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
