package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/database"
	"github.com/alanbriolat/video-fetcher/internal/acquire"
	"github.com/alanbriolat/video-fetcher/internal/boltdb"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/derive"
	"github.com/alanbriolat/video-fetcher/internal/dispatch"
	"github.com/alanbriolat/video-fetcher/internal/ffmpeg"
	"github.com/alanbriolat/video-fetcher/internal/gormdb"
	"github.com/alanbriolat/video-fetcher/internal/metrics"
	"github.com/alanbriolat/video-fetcher/internal/progress"
	"github.com/alanbriolat/video-fetcher/internal/ratelimit"
	"github.com/alanbriolat/video-fetcher/internal/session"
	"github.com/alanbriolat/video-fetcher/internal/stats"
	"github.com/alanbriolat/video-fetcher/internal/telegram"
	_ "github.com/alanbriolat/video-fetcher/providers"
)

const (
	BackendJSON   = "json"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendGorm   = "gorm"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "media-bot",
		Usage: "fetch, cache and transcode media for chat users",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "bot API `TOKEN`", EnvVars: []string{"BOT_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "api-endpoint", Usage: "bot API endpoint `FORMAT`, e.g. for Bale", EnvVars: []string{"BOT_API_ENDPOINT"}, Value: telegram.TelegramAPIEndpoint},
			&cli.StringFlag{Name: "data-dir", Usage: "store usage statistics in `DIR`", EnvVars: []string{"DATA_DIR"}, Value: "data"},
			&cli.StringFlag{Name: "cache-dir", Usage: "store masters and variants in `DIR`", EnvVars: []string{"CACHE_DIR"}, Value: "cache"},
			&cli.StringFlag{Name: "stats-backend", Usage: "usage statistics storage: json, bolt, sqlite or gorm", EnvVars: []string{"STATS_BACKEND"}, Value: BackendJSON},
			&cli.DurationFlag{Name: "cooldown", Usage: "minimum time between two jobs from one chat", EnvVars: []string{"COOLDOWN"}, Value: ratelimit.DefaultConfig.Cooldown},
			&cli.Float64Flag{Name: "global-rate", Usage: "jobs admitted per second across all chats (0 for unlimited)", EnvVars: []string{"GLOBAL_RATE"}},
			&cli.IntFlag{Name: "global-burst", Usage: "jobs admitted at once when --global-rate is set", EnvVars: []string{"GLOBAL_BURST"}, Value: 1},
			&cli.IntFlag{Name: "workers", Usage: "number of jobs processed at once", EnvVars: []string{"WORKERS"}, Value: dispatch.DefaultConfig.Workers},
			&cli.IntFlag{Name: "queue-size", Usage: "jobs waiting beyond this are rejected", EnvVars: []string{"QUEUE_SIZE"}, Value: dispatch.DefaultConfig.QueueSize},
			&cli.IntFlag{Name: "max-height", Usage: "quality ceiling for downloaded masters", EnvVars: []string{"MAX_HEIGHT"}, Value: video_fetcher.DefaultMaxHeight},
			&cli.StringFlag{Name: "audio-bitrate", Usage: "MP3 bitrate passed to ffmpeg", EnvVars: []string{"AUDIO_BITRATE"}, Value: ffmpeg.DefaultAudioBitrate},
			&cli.StringFlag{Name: "ffmpeg", Usage: "path to the ffmpeg `BINARY`", EnvVars: []string{"FFMPEG"}, Value: ffmpeg.DefaultBinary},
			&cli.IntFlag{Name: "progress-step", Usage: "percent between progress message edits", EnvVars: []string{"PROGRESS_STEP"}, Value: progress.DefaultConfig.Step},
			&cli.BoolFlag{Name: "enable-mp3", Usage: "offer MP3 extraction", EnvVars: []string{"ENABLE_MP3"}, Value: true},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on `ADDR` (disabled if empty)", EnvVars: []string{"METRICS_ADDR"}},
			&cli.IntFlag{Name: "poll-timeout", Usage: "long polling timeout in seconds", EnvVars: []string{"POLL_TIMEOUT"}, Value: 60},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging", EnvVars: []string{"DEBUG"}},
			&cli.BoolFlag{Name: "log-json", Usage: "log JSON lines instead of console output", EnvVars: []string{"LOG_JSON"}},
		},
		Action: func(c *cli.Context) error {
			return run(ctx, c)
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err := <-result:
		if err != nil {
			log.Fatal(err)
		}
	case <-ctx.Done():
		stop()
		if err := <-result; err != nil {
			log.Fatal(err)
		}
	}
}

func newLogger(debug bool, json bool) (*zap.Logger, error) {
	var config zap.Config
	if json {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config.Build()
}

func run(ctx context.Context, c *cli.Context) error {
	logger, err := newLogger(c.Bool("debug"), c.Bool("log-json"))
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	layout := cache.New(c.String("cache-dir"))
	if err := layout.Ensure(); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	if err := os.MkdirAll(c.String("data-dir"), 0775); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	db, closer, err := openStats(c.String("stats-backend"), c.String("data-dir"))
	if err != nil {
		return fmt.Errorf("failed to open usage statistics: %w", err)
	}
	defer closer.Close()
	usage, err := stats.New(db)
	if err != nil {
		return fmt.Errorf("failed to load usage statistics: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	if addr := c.String("metrics-addr"); addr != "" {
		server := serveMetrics(addr, registry)
		defer server.Shutdown(context.Background())
	}

	client, err := telegram.NewClient(c.String("token"), c.String("api-endpoint"), c.Bool("debug"))
	if err != nil {
		return err
	}

	transcoder := ffmpeg.New(ffmpeg.Config{Binary: c.String("ffmpeg"), AudioBitrate: c.String("audio-bitrate")})
	limiter := ratelimit.New(ratelimit.Config{
		Cooldown:    c.Duration("cooldown"),
		GlobalRate:  c.Float64("global-rate"),
		GlobalBurst: c.Int("global-burst"),
	})
	sessions := session.New()

	progressConfig := progress.DefaultConfig
	progressConfig.Step = c.Int("progress-step")
	dispatcherConfig := dispatch.DefaultConfig
	dispatcherConfig.Workers = c.Int("workers")
	dispatcherConfig.QueueSize = c.Int("queue-size")
	dispatcherConfig.Progress = progressConfig
	dispatcherConfig.Metrics = m

	dispatcher := dispatch.New(dispatcherConfig, dispatch.Deps{
		Transport: client,
		Matcher:   &video_fetcher.DefaultProviderRegistry,
		Acquirer:  acquire.New(acquire.Config{MaxHeight: c.Int("max-height"), Metrics: m}, layout),
		Deriver:   derive.New(layout, transcoder, m),
		Recorder:  usage,
		Limiter:   limiter,
		Sessions:  sessions,
	})
	// Jobs keep running through shutdown until the queue drains, so they get their own context.
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	botConfig := telegram.DefaultConfig
	botConfig.EnableMP3 = c.Bool("enable-mp3")
	botConfig.MaxHeight = c.Int("max-height")
	bot := telegram.NewBot(botConfig, client, &video_fetcher.DefaultProviderRegistry, dispatcher, sessions, usage)

	go pruneLimiter(ctx, limiter, c.Duration("cooldown"))

	log.Infow("bot running",
		"providers", video_fetcher.DefaultProviderRegistry.List(),
		"workers", dispatcherConfig.Workers,
		"stats_backend", c.String("stats-backend"),
	)
	updates := client.Updates(c.Int("poll-timeout"))
	go func() {
		<-ctx.Done()
		client.StopUpdates()
	}()
	bot.Run(ctx, updates)
	log.Info("shutting down, waiting for queued jobs...")
	return nil
}

func openStats(backend string, dataDir string) (stats.Database, io.Closer, error) {
	switch backend {
	case BackendJSON:
		return stats.NewJSONFile(filepath.Join(dataDir, "stats.json")), nopCloser{}, nil
	case BackendBolt:
		db, err := boltdb.New(filepath.Join(dataDir, "stats.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case BackendSQLite:
		db, err := database.NewDatabase(filepath.Join(dataDir, "stats.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case BackendGorm:
		db, err := gormdb.New(filepath.Join(dataDir, "stats-gorm.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown stats backend %q", backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		zap.S().Named("metrics").Infow("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Named("metrics").Errorw("metrics server failed", "error", err)
		}
	}()
	return server
}

// pruneLimiter forgets chats whose cooldown has long passed.
func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter, cooldown time.Duration) {
	interval := 10 * cooldown
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := limiter.Prune(now); n > 0 {
				zap.S().Named("ratelimit").Debugw("pruned idle chats", "count", n)
			}
		}
	}
}
