package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/internal/acquire"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/derive"
	"github.com/alanbriolat/video-fetcher/internal/ffmpeg"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	_ "github.com/alanbriolat/video-fetcher/providers"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = video_fetcher.WithLogger(ctx, logger)

	app := &cli.App{
		Name:  "fetch-media",
		Usage: "fetch media into the cache, optionally deriving a variant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cache-dir",
				Value: "cache",
				Usage: "cache masters and variants in `DIR`",
			},
			&cli.StringFlag{
				Name:  "variant",
				Usage: "also derive `VARIANT`, e.g. quality:480 or mp3",
			},
			&cli.IntFlag{
				Name:  "max-height",
				Value: video_fetcher.DefaultMaxHeight,
				Usage: "quality ceiling for the downloaded master",
			},
			&cli.StringFlag{
				Name:  "ffmpeg",
				Value: ffmpeg.DefaultBinary,
				Usage: "path to the ffmpeg `BINARY`",
			},
		},
		Action: func(c *cli.Context) error {
			var variant *video_fetcher.Variant
			if token := c.String("variant"); token != "" {
				v, err := video_fetcher.ParseVariant(token)
				if err != nil {
					return err
				}
				if !v.IsAudio() && v.Height > c.Int("max-height") {
					return fmt.Errorf("variant %v is taller than --max-height %d", v, c.Int("max-height"))
				}
				variant = &v
			}
			layout := cache.New(c.String("cache-dir"))
			if err := layout.Ensure(); err != nil {
				return err
			}
			acquirer := acquire.New(acquire.Config{MaxHeight: c.Int("max-height")}, layout)
			ffmpegConfig := ffmpeg.DefaultConfig
			ffmpegConfig.Binary = c.String("ffmpeg")
			deriver := derive.New(layout, ffmpeg.New(ffmpegConfig), nil)
			for _, source := range c.Args().Slice() {
				if err := fetch(ctx, acquirer, deriver, source, variant); err != nil {
					return err
				}
			}
			return nil
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		logger.Error(ctx.Err().Error())
		stop()
	}
}

type progressBar interface {
	GetMax() int
	ChangeMax(int)
	Set(int) error
	Finish() error
}

// showProgress moves bar to event. Finished carries no byte counts, so it only completes the bar.
func showProgress(bar progressBar, event video_fetcher.Progress) {
	if event.IsFinished() {
		_ = bar.Finish()
		return
	}
	if total := int(event.Total); total > 0 && bar.GetMax() != total {
		bar.ChangeMax(total)
	}
	_ = bar.Set(int(event.Downloaded))
}

func fetch(ctx context.Context, acquirer *acquire.Acquirer, deriver *derive.Deriver, source string, variant *video_fetcher.Variant) error {
	logger := video_fetcher.Logger(ctx).Sugar()

	match, err := video_fetcher.DefaultProviderRegistry.Match(source)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}
	fp := video_fetcher.FingerprintURL(match.Source.URL())
	logger.Infow("fetching", "provider", match.ProviderName, "url", match.Source.URL(), "fingerprint", fp.Short())

	events := pubsub.NewChannel[video_fetcher.Progress](64)
	acquired := async.RunResult(func() (cache.Master, error) {
		defer events.Close()
		return acquirer.Acquire(ctx, match.Source, fp, events)
	})
	bar := progressbar.DefaultBytes(-1, "downloading")
	for event := range events.Receive() {
		showProgress(bar, event)
	}
	master, err := (<-acquired).Parts()
	if err != nil {
		return err
	}
	logger.Infow("master ready", "path", master.Path, "dropped_updates", events.Dropped())

	if variant == nil {
		return nil
	}
	path, err := deriver.Derive(ctx, master, *variant)
	if err != nil {
		return err
	}
	logger.Infow("variant ready", "variant", variant.String(), "path", path)
	return nil
}
