package derive

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/metrics"
)

var ErrMasterMissing = errors.New("master artifact missing")

// Transcoder writes a variant of the input file to the output path. *ffmpeg.Runner is the real implementation.
type Transcoder interface {
	ScaleVideo(ctx context.Context, inPath, outPath string, height int) error
	ExtractAudio(ctx context.Context, inPath, outPath string) error
}

type Deriver struct {
	layout     cache.Layout
	transcoder Transcoder
	metrics    *metrics.Metrics
	group      singleflight.Group
	log        *zap.SugaredLogger
}

func New(layout cache.Layout, transcoder Transcoder, m *metrics.Metrics) *Deriver {
	return &Deriver{
		layout:     layout,
		transcoder: transcoder,
		metrics:    m,
		log:        zap.S().Named("derive"),
	}
}

// Derive returns the path of variant v of master, transcoding it first if it is not cached. Derivation never
// downloads: the master must already exist.
func (d *Deriver) Derive(ctx context.Context, master cache.Master, v video_fetcher.Variant) (string, error) {
	target := d.layout.VariantPath(master.Fingerprint, v)
	if d.layout.Exists(target) {
		d.metrics.CacheHit(kindOf(v))
		return target, nil
	}
	_, err, _ := d.group.Do(string(master.Fingerprint)+"/"+v.Suffix(), func() (interface{}, error) {
		return nil, d.derive(ctx, master, v, target)
	})
	if err != nil {
		return "", &video_fetcher.DerivationError{MasterPath: master.Path, Variant: v, Err: err}
	}
	return target, nil
}

func (d *Deriver) DeriveVideo(ctx context.Context, master cache.Master, height int) (string, error) {
	return d.Derive(ctx, master, video_fetcher.VideoVariant(height))
}

func (d *Deriver) DeriveAudio(ctx context.Context, master cache.Master) (string, error) {
	return d.Derive(ctx, master, video_fetcher.AudioVariant())
}

func (d *Deriver) derive(ctx context.Context, master cache.Master, v video_fetcher.Variant, target string) error {
	if d.layout.Exists(target) {
		return nil
	}
	if !d.layout.Exists(master.Path) {
		return ErrMasterMissing
	}
	log := d.log.With("fingerprint", master.Fingerprint.Short(), "variant", v.Suffix())
	log.Infow("deriving variant", "master", master.Path)
	err := cache.WriteAtomic(target, func(tempPath string) error {
		if v.IsAudio() {
			return d.transcoder.ExtractAudio(ctx, master.Path, tempPath)
		}
		return d.transcoder.ScaleVideo(ctx, master.Path, tempPath, v.Height)
	})
	if err != nil {
		log.Warnw("derivation failed", "error", err)
		return err
	}
	d.metrics.Derived(kindOf(v))
	return nil
}

func kindOf(v video_fetcher.Variant) string {
	if v.IsAudio() {
		return metrics.KindAudio
	}
	return metrics.KindVideo
}
