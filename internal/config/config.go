package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	Address     string `env:"ADDRESS" envDefault:":8080"`         // HTTP bind address
	DBPath      string `env:"DB_PATH" envDefault:"digestflow.db"` // SQLite file
	EnableDebug bool   `env:"ENABLE_DEBUG" envDefault:"false"`    // pprof routes
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`        // zerolog level name
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`      // console writer instead of JSON

	DispatchCron   string `env:"DISPATCH_CRON" envDefault:"@every 1m"`
	MaxConcurrency int    `env:"DISPATCH_MAX_CONCURRENCY" envDefault:"0"` // 0 = unbounded

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"0"`  // 0 = retry forever
	BackoffBase      time.Duration `env:"RETRY_BACKOFF_BASE" envDefault:"0s"`
	BackoffMax       time.Duration `env:"RETRY_BACKOFF_MAX" envDefault:"1h"`

	SMTPHost     string        `env:"SMTP_HOST"`                               // empty = log-only delivery
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM" envDefault:"digest@localhost"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`

	TextgenBaseURL       string        `env:"TEXTGEN_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	TextgenAPIKey        string        `env:"TEXTGEN_API_KEY"`                                            // empty = statistics-only summaries
	TextgenModel         string        `env:"TEXTGEN_MODEL" envDefault:"openai/gpt-4o-mini"`
	TextgenTimeout       time.Duration `env:"TEXTGEN_TIMEOUT" envDefault:"60s"`
	TextgenRatePerMinute int           `env:"TEXTGEN_RATE_PER_MINUTE" envDefault:"30"`

	CacheTTL  time.Duration `env:"TEXTGEN_CACHE_TTL" envDefault:"6h"`   // 0 disables the cache
	CacheSize int           `env:"TEXTGEN_CACHE_SIZE" envDefault:"256"`
	RedisAddr string        `env:"REDIS_ADDR"`                          // shared cache when set

	MetricsBaseURL string        `env:"METRICS_BASE_URL"`
	MetricsToken   string        `env:"METRICS_TOKEN"`
	MetricsTimeout time.Duration `env:"METRICS_TIMEOUT" envDefault:"15s"`
}

// Load reads the given .env files, or ./.env when none are named, then parses
// the environment. Variables already set in the environment win over files.
// A missing default .env is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrap(err, "load .env")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, errors.Wrapf(err, "load env files %v", files)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}
