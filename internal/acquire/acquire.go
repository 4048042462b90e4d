// Package acquire downloads master artifacts into the cache, at most once per fingerprint.
package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/download"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/metrics"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
)

type Config struct {
	// MaxHeight is the quality ceiling for the master's video track.
	MaxHeight int
	Metrics   *metrics.Metrics
}

var DefaultConfig = Config{
	MaxHeight: video_fetcher.DefaultMaxHeight,
}

type Acquirer struct {
	config Config
	layout cache.Layout
	group  singleflight.Group
	log    *zap.SugaredLogger
}

func New(config Config, layout cache.Layout) *Acquirer {
	if config.MaxHeight <= 0 {
		config.MaxHeight = DefaultConfig.MaxHeight
	}
	return &Acquirer{
		config: config,
		layout: layout,
		log:    zap.S().Named("acquire"),
	}
}

// Lookup returns the master for fp if it is already cached.
func (a *Acquirer) Lookup(fp video_fetcher.Fingerprint) (cache.Master, bool) {
	return a.layout.LookupMaster(fp)
}

// Acquire returns the master artifact for fp, downloading it from src if it is not cached yet.
//
// A cache hit touches neither the network nor the sink. Concurrent calls for the same fingerprint share a single
// download. Only the call that performs it reports byte progress. Every caller that waited on a download, leader or
// not, gets exactly one PhaseFinished event on success. sink may be nil.
func (a *Acquirer) Acquire(ctx context.Context, src video_fetcher.Source, fp video_fetcher.Fingerprint, sink pubsub.Sender[video_fetcher.Progress]) (cache.Master, error) {
	if master, ok := a.layout.LookupMaster(fp); ok {
		a.config.Metrics.CacheHit(metrics.KindMaster)
		return master, nil
	}
	leader := false
	v, err, _ := a.group.Do(string(fp), func() (interface{}, error) {
		leader = true
		return a.acquire(ctx, src, fp, sink)
	})
	if err != nil {
		return cache.Master{}, err
	}
	if !leader && sink != nil {
		sink.Send(video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	}
	return v.(cache.Master), nil
}

func (a *Acquirer) acquire(ctx context.Context, src video_fetcher.Source, fp video_fetcher.Fingerprint, sink pubsub.Sender[video_fetcher.Progress]) (cache.Master, error) {
	log := a.log.With("fingerprint", fp.Short(), "source", src.String())

	// Another flight may have finished between the caller's lookup and this one starting
	if master, ok := a.layout.LookupMaster(fp); ok {
		a.config.Metrics.CacheHit(metrics.KindMaster)
		return master, nil
	}

	resolved, err := src.Recon(ctx)
	if err != nil {
		return cache.Master{}, &video_fetcher.UnresolvableSourceError{Input: src.URL(), Err: err}
	}

	log.Infow("acquiring master", "title", resolved.Info().Title, "max_height", a.config.MaxHeight)
	var master cache.Master
	err = download.WithWorkspace(func(ws *download.Workspace) error {
		d, err := video_fetcher.NewDownloadBuilder().
			WithContext(ctx).
			WithTargetDir(ws.Dir()).
			WithMaxHeight(a.config.MaxHeight).
			WithProgressCallback(func(p video_fetcher.Progress) {
				if sink != nil {
					sink.Offer(p)
				}
			}).
			Build()
		if err != nil {
			return err
		}
		defer d.Close()

		path, err := resolved.Download(d)
		if err != nil {
			return err
		}
		if !a.layout.Exists(path) {
			return fmt.Errorf("download reported %q but no file was written", path)
		}
		target := a.layout.MasterPath(fp, filepath.Ext(path))
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("failed to move master into cache: %w", err)
		}
		master = cache.Master{Fingerprint: fp, Path: target}
		return nil
	}, download.WithTempDir(a.layout.TempDir()), download.WithLogger(log))
	if err != nil {
		log.Warnw("acquisition failed", "error", err)
		return cache.Master{}, &video_fetcher.AcquisitionError{Fingerprint: fp, Err: err}
	}

	a.config.Metrics.Acquired()
	log.Infow("acquired master", "path", master.Path)
	if sink != nil {
		sink.Send(video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	}
	return master, nil
}
