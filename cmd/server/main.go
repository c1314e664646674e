// Package main provides the entry point for the decision engine worker:
// bar feed in, regime/tech/sentiment fusion, risk-gated sizing, order
// submission, with the HTTP control surface on the side.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ospreyquant/decision-engine/internal/api"
	"github.com/ospreyquant/decision-engine/internal/broker"
	"github.com/ospreyquant/decision-engine/internal/config"
	"github.com/ospreyquant/decision-engine/internal/feed"
	"github.com/ospreyquant/decision-engine/internal/metrics"
	"github.com/ospreyquant/decision-engine/internal/mixer"
	"github.com/ospreyquant/decision-engine/internal/pipeline"
	"github.com/ospreyquant/decision-engine/internal/portfolio"
	"github.com/ospreyquant/decision-engine/internal/ratelimit"
	"github.com/ospreyquant/decision-engine/internal/regime"
	"github.com/ospreyquant/decision-engine/internal/risk"
	"github.com/ospreyquant/decision-engine/internal/store"
	"github.com/ospreyquant/decision-engine/internal/techscore"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting decision engine",
		zap.Strings("tickers", cfg.Pipeline.Tickers),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Float64("day_start_equity", cfg.DayStartEquity),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared state backends: Redis when configured, in-process otherwise.
	var (
		kv      store.KV
		backend ratelimit.Backend
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pingCancel()
		kv = store.NewRedisKV(client, cfg.Redis.Prefix)
		backend = ratelimit.NewRedisBackend(client, cfg.Redis.Prefix)
	} else {
		kv = store.NewMemoryKV()
		backend = ratelimit.NewMemoryBackend()
	}

	m := metrics.New()

	stream := feed.NewStream(logger, cfg.Feed)
	if err := stream.Start(ctx); err != nil {
		logger.Error("bar feed unavailable at startup, will keep reconnecting", zap.Error(err))
	}

	exec := broker.NewPaperAdapter(logger, stream.LastClose)

	// No upstream sentiment service wired yet; the bounded wrapper keeps
	// the degradation path and the courtesy limiter in place for when one
	// is configured.
	sentimentSource := broker.NewBoundedSentiment(logger, nil, cfg.Sentiment.Timeout, cfg.Sentiment.MaxPerSecond)

	pipe := pipeline.NewPipeline(logger, cfg.Pipeline, pipeline.Deps{
		Bars:      stream,
		Sentiment: sentimentSource,
		Exec:      exec,
		Signals:   broker.NopSignalStore{},
		Notifier:  &broker.LogNotifier{Logger: logger},
		Detector:  regime.NewDetector(logger, regime.DefaultConfig()),
		Scorer:    techscore.NewEngine(logger),
		Mixer:     mixer.NewMixer(logger, cfg.Mixer),
		RiskMgr:   risk.NewManager(logger, cfg.Risk),
		Portfolio: portfolio.NewEngine(logger, cfg.Portfolio, cfg.DayStartEquity),
		Limiter:   ratelimit.NewLimiter(logger, backend, cfg.RateLimitTiers),
		KV:        kv,
		Metrics:   m,
	})
	pipe.Start(ctx)

	server := api.NewServer(logger, cfg.Server, pipe, m, cfg.DayStartEquity)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	logger.Info("decision engine started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	pipe.Stop()

	if err := stream.Stop(); err != nil {
		logger.Error("error stopping bar feed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("decision engine stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
