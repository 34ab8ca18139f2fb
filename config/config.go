package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	App          AppConfig
	Breakpad     BreakpadConfig
	Throttle     ThrottleConfig
	CrashStorage CrashStorageConfig
	CrashPublish CrashPublishConfig
	Metrics      MetricsConfig

	// EnvFileLoaded reports whether a .env file was found and applied.
	EnvFileLoaded bool
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
	BaseDir     string
}

type BreakpadConfig struct {
	DumpField         string
	DumpIDPrefix      string
	ConcurrentSaves   int
	SaveRetryRate     float64
	HeartbeatSchedule string
}

type ThrottleConfig struct {
	Rules    string
	Products []string
}

type CrashStorageConfig struct {
	Class       string
	FSRoot      string
	BucketName  string
	Region      string
	EndpointURL string
}

type CrashPublishConfig struct {
	Class       string
	QueueURL    string
	Region      string
	EndpointURL string
	RedisURL    string
	RedisKey    string
}

type MetricsConfig struct {
	Exporter string
}

const (
	StorageNoop = "noop"
	StorageFS   = "fs"
	StorageS3   = "s3"

	PublishNoop  = "noop"
	PublishSQS   = "sqs"
	PublishRedis = "redis"

	RulesMozilla   = "mozilla"
	RulesAcceptAll = "accept_all"

	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Load reads configuration from the environment, applying a .env file first
// when one is present.
func Load() (*Config, error) {
	loaded := godotenv.Load() == nil
	return FromEnv(loaded)
}

// FromEnv builds a Config from the current process environment only.
func FromEnv(envFileLoaded bool) (*Config, error) {
	p := &envParser{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8000"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "dev"),
			BaseDir:     getEnv("BASEDIR", "."),
		},
		Breakpad: BreakpadConfig{
			DumpField:         getEnv("DUMP_FIELD", "upload_file_minidump"),
			DumpIDPrefix:      getEnv("DUMP_ID_PREFIX", "bp-"),
			ConcurrentSaves:   p.positiveInt("CONCURRENT_SAVES", 10),
			SaveRetryRate:     p.float("SAVE_RETRY_RATE", 10),
			HeartbeatSchedule: getEnv("HEARTBEAT_SCHEDULE", "@every 30s"),
		},
		Throttle: ThrottleConfig{
			Rules:    getEnv("THROTTLE_RULES", RulesMozilla),
			Products: getEnvAsList("PRODUCTS"),
		},
		CrashStorage: CrashStorageConfig{
			Class:       getEnv("CRASHSTORAGE_CLASS", StorageNoop),
			FSRoot:      getEnv("CRASHSTORAGE_FS_ROOT", "./crashdata"),
			BucketName:  getEnv("CRASHSTORAGE_BUCKET_NAME", ""),
			Region:      getEnv("CRASHSTORAGE_REGION", "us-west-2"),
			EndpointURL: getEnv("CRASHSTORAGE_ENDPOINT_URL", ""),
		},
		CrashPublish: CrashPublishConfig{
			Class:       getEnv("CRASHPUBLISH_CLASS", PublishNoop),
			QueueURL:    getEnv("CRASHPUBLISH_QUEUE_URL", ""),
			Region:      getEnv("CRASHPUBLISH_REGION", "us-west-2"),
			EndpointURL: getEnv("CRASHPUBLISH_ENDPOINT_URL", ""),
			RedisURL:    getEnv("CRASHPUBLISH_REDIS_URL", "redis://localhost:6379/0"),
			RedisKey:    getEnv("CRASHPUBLISH_REDIS_KEY", "antenna:crashes"),
		},
		Metrics: MetricsConfig{
			Exporter: getEnv("METRICS_EXPORTER", ExporterNone),
		},
		EnvFileLoaded: envFileLoaded,
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT is required")
	}

	if c.Breakpad.ConcurrentSaves < 1 {
		return errors.Newf("CONCURRENT_SAVES: val must be greater than 1: %d", c.Breakpad.ConcurrentSaves)
	}

	if c.Breakpad.SaveRetryRate <= 0 {
		return errors.Newf("SAVE_RETRY_RATE must be positive: %v", c.Breakpad.SaveRetryRate)
	}

	switch c.Throttle.Rules {
	case RulesMozilla, RulesAcceptAll:
	default:
		return errors.Newf("THROTTLE_RULES: unknown rule set %q", c.Throttle.Rules)
	}

	switch c.CrashStorage.Class {
	case StorageNoop:
	case StorageFS:
		if c.CrashStorage.FSRoot == "" {
			return errors.New("CRASHSTORAGE_FS_ROOT is required for fs crash storage")
		}
	case StorageS3:
		if c.CrashStorage.BucketName == "" {
			return errors.New("CRASHSTORAGE_BUCKET_NAME is required for s3 crash storage")
		}
	default:
		return errors.Newf("CRASHSTORAGE_CLASS: unknown class %q", c.CrashStorage.Class)
	}

	switch c.CrashPublish.Class {
	case PublishNoop:
	case PublishSQS:
		if c.CrashPublish.QueueURL == "" {
			return errors.New("CRASHPUBLISH_QUEUE_URL is required for sqs crash publishing")
		}
	case PublishRedis:
		if c.CrashPublish.RedisURL == "" || c.CrashPublish.RedisKey == "" {
			return errors.New("CRASHPUBLISH_REDIS_URL and CRASHPUBLISH_REDIS_KEY are required for redis crash publishing")
		}
	default:
		return errors.Newf("CRASHPUBLISH_CLASS: unknown class %q", c.CrashPublish.Class)
	}

	switch c.Metrics.Exporter {
	case ExporterNone, ExporterStdout:
	default:
		return errors.Newf("METRICS_EXPORTER: unknown exporter %q", c.Metrics.Exporter)
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envParser collects parse errors so every bad key is reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) positiveInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		p.errs = append(p.errs, errors.Wrapf(err, "%s: invalid integer %q", key, valueStr))
		return defaultValue
	}
	if value < 1 {
		p.errs = append(p.errs, errors.Newf("%s: val must be greater than 1: %d", key, value))
		return defaultValue
	}

	return value
}

func (p *envParser) float(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		p.errs = append(p.errs, errors.Wrapf(err, "%s: invalid number %q", key, valueStr))
		return defaultValue
	}

	return value
}

func (p *envParser) duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		p.errs = append(p.errs, errors.Wrapf(err, "%s: invalid duration %q", key, valueStr))
		return defaultValue
	}

	return value
}
