package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"digestflow/internal/config"
	"digestflow/internal/content"
	"digestflow/internal/delivery"
	"digestflow/internal/dispatcher"
	"digestflow/internal/metrics"
	"digestflow/internal/queue"
	"digestflow/internal/textgen"
	"digestflow/internal/worker"
)

// app holds the wired collaborators shared by every subcommand.
type app struct {
	db    *sql.DB
	repo  queue.Repository
	disp  *dispatcher.Dispatcher
	redis *redis.Client
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func openStore(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := queue.EnsureSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensure schema")
	}
	return db, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, repo: queue.NewSQLiteRepo(db)}

	var gen textgen.Generator
	if cfg.TextgenAPIKey != "" {
		tc := textgen.Config{
			BaseURL:       cfg.TextgenBaseURL,
			APIKey:        cfg.TextgenAPIKey,
			Model:         cfg.TextgenModel,
			Timeout:       cfg.TextgenTimeout,
			RatePerMinute: cfg.TextgenRatePerMinute,
			CacheTTL:      cfg.CacheTTL,
		}
		if cfg.CacheTTL > 0 {
			tc.Cache = a.cache(ctx, cfg)
		}
		gen = textgen.NewClient(tc)
	} else {
		log.Warn().Msg("TEXTGEN_API_KEY not set, summaries carry statistics only")
	}

	var sender delivery.Sender = delivery.LogSender{}
	if cfg.SMTPHost != "" {
		sender = delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.SMTPFrom,
			Timeout:     cfg.SMTPTimeout,
		})
	} else {
		log.Warn().Msg("SMTP_HOST not set, deliveries are only logged")
	}

	var source metrics.Source
	if cfg.MetricsBaseURL != "" {
		source = metrics.NewHTTPSource(cfg.MetricsBaseURL, cfg.MetricsToken, cfg.MetricsTimeout)
	}

	a.disp = dispatcher.New(dispatcher.Options{
		Repo:    a.repo,
		Metrics: source,
		Content: content.NewGenerator(gen),
		Sender:  sender,
		Pool:    worker.NewPool(cfg.MaxConcurrency),
		Retry: dispatcher.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BackoffBase: cfg.BackoffBase,
			BackoffMax:  cfg.BackoffMax,
		},
	})
	return a, nil
}

// cache prefers Redis when configured and reachable, the in-process LRU
// otherwise.
func (a *app) cache(ctx context.Context, cfg config.Config) textgen.Cache {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-memory cache")
			client.Close()
			return textgen.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
		}
		a.redis = client
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis response cache")
		return textgen.NewRedisCache(client)
	}
	return textgen.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
}

// Close waits for in-flight dispatch tasks before releasing the store.
func (a *app) Close() {
	a.disp.Wait()
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}
