package acquire

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	"github.com/alanbriolat/video-fetcher/internal/testutil"
)

func newAcquirer(t *testing.T) (*Acquirer, cache.Layout) {
	layout := cache.New(t.TempDir())
	if err := layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	return New(DefaultConfig, layout), layout
}

// collect drains a progress channel in the background, returning the events once it is closed.
func collect(events pubsub.Channel[video_fetcher.Progress]) func() []video_fetcher.Progress {
	var result []video_fetcher.Progress
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range events.Receive() {
			result = append(result, p)
		}
	}()
	return func() []video_fetcher.Progress {
		events.Close()
		<-done
		return result
	}
}

func TestAcquirer_Idempotent(t *testing.T) {
	assert := assert_.New(t)
	a, layout := newAcquirer(t)
	src := testutil.NewSource("https://example.com/v", 360, 720)
	fp := video_fetcher.FingerprintURL(src.URL())
	ctx := context.Background()

	events := pubsub.NewChannel[video_fetcher.Progress](1000)
	wait := collect(events)
	master, err := a.Acquire(ctx, src, fp, events)
	assert.Nil(err)
	assert.Equal(layout.MasterPath(fp, "mp4"), master.Path)
	first := wait()
	assert.NotEmpty(first)
	assert.True(first[len(first)-1].IsFinished())
	assert.Equal(1, src.Downloads())

	events = pubsub.NewChannel[video_fetcher.Progress](1000)
	wait = collect(events)
	again, err := a.Acquire(ctx, src, fp, events)
	assert.Nil(err)
	assert.Equal(master, again)
	assert.Empty(wait(), "a cache hit emits no progress")
	assert.Equal(1, src.Downloads())
	assert.Equal(1, src.Recons(), "a cache hit does no network work")

	data, err := os.ReadFile(master.Path)
	assert.Nil(err)
	assert.Len(data, len(src.Content))
}

func TestAcquirer_Concurrent(t *testing.T) {
	assert := assert_.New(t)
	a, _ := newAcquirer(t)
	src := testutil.NewSource("https://example.com/v", 720)
	src.Gate = make(chan struct{})
	fp := video_fetcher.FingerprintURL(src.URL())

	const callers = 10
	wg := sync.WaitGroup{}
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			master, err := a.Acquire(context.Background(), src, fp, nil)
			paths[i], errs[i] = master.Path, err
		}(i)
	}
	close(src.Gate)
	wg.Wait()

	assert.Equal(1, src.Downloads())
	for i := 0; i < callers; i++ {
		assert.Nil(errs[i])
		assert.Equal(paths[0], paths[i])
	}
}

func TestAcquirer_FollowerGetsFinished(t *testing.T) {
	assert := assert_.New(t)
	a, _ := newAcquirer(t)
	src := testutil.NewSource("https://example.com/v", 720)
	src.Gate = make(chan struct{})
	fp := video_fetcher.FingerprintURL(src.URL())

	leaderEvents := pubsub.NewChannel[video_fetcher.Progress](1000)
	leaderResult := collect(leaderEvents)
	followerEvents := pubsub.NewChannel[video_fetcher.Progress](1000)
	followerResult := collect(followerEvents)

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := a.Acquire(context.Background(), src, fp, leaderEvents)
		assert.Nil(err)
	}()
	for src.Downloads() == 0 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		defer wg.Done()
		_, err := a.Acquire(context.Background(), src, fp, followerEvents)
		assert.Nil(err)
	}()
	time.Sleep(50 * time.Millisecond)
	close(src.Gate)
	wg.Wait()

	assert.Equal(1, src.Downloads())
	leader := leaderResult()
	if assert.NotEmpty(leader) {
		assert.True(leader[len(leader)-1].IsFinished())
		assert.Greater(len(leader), 1)
	}
	assert.Equal([]video_fetcher.Progress{{Phase: video_fetcher.PhaseFinished}}, followerResult())
}

func TestAcquirer_DownloadFailure(t *testing.T) {
	assert := assert_.New(t)
	a, layout := newAcquirer(t)
	src := testutil.NewSource("https://example.com/broken")
	src.DownloadErr = errors.New("connection reset")
	fp := video_fetcher.FingerprintURL(src.URL())

	_, err := a.Acquire(context.Background(), src, fp, nil)
	assert.ErrorIs(err, video_fetcher.ErrAcquisitionFailed)
	assert.ErrorIs(err, src.DownloadErr)
	var acquisitionErr *video_fetcher.AcquisitionError
	assert.True(errors.As(err, &acquisitionErr))
	assert.Equal(fp, acquisitionErr.Fingerprint)

	_, ok := layout.LookupMaster(fp)
	assert.False(ok, "no partial master")
	entries, _ := os.ReadDir(layout.TempDir())
	assert.Empty(entries, "workspace cleaned up")

	// A later attempt is not poisoned by the failure
	src.DownloadErr = nil
	_, err = a.Acquire(context.Background(), src, fp, nil)
	assert.Nil(err)
}

func TestAcquirer_ReconFailure(t *testing.T) {
	assert := assert_.New(t)
	a, _ := newAcquirer(t)
	src := testutil.NewSource("https://example.com/private")
	src.ReconErr = errors.New("video unavailable")

	_, err := a.Acquire(context.Background(), src, video_fetcher.FingerprintURL(src.URL()), nil)
	assert.ErrorIs(err, video_fetcher.ErrUnresolvableSource)
	assert.Equal(0, src.Downloads())
}

func TestAcquirer_ProgressIsMonotonic(t *testing.T) {
	assert := assert_.New(t)
	a, _ := newAcquirer(t)
	src := testutil.NewSource("https://example.com/v", 720)
	events := pubsub.NewChannel[video_fetcher.Progress](1000)
	wait := collect(events)
	_, err := a.Acquire(context.Background(), src, video_fetcher.FingerprintURL(src.URL()), events)
	assert.Nil(err)
	var last int64 = -1
	for _, p := range wait() {
		if p.IsFinished() {
			continue
		}
		assert.Equal(int64(len(src.Content)), p.Total)
		assert.GreaterOrEqual(p.Downloaded, last)
		last = p.Downloaded
	}
	assert.Equal(int64(len(src.Content)), last)
}
