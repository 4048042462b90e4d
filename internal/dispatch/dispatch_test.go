package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/acquire"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/derive"
	"github.com/alanbriolat/video-fetcher/internal/ratelimit"
	"github.com/alanbriolat/video-fetcher/internal/session"
	"github.com/alanbriolat/video-fetcher/internal/stats"
	"github.com/alanbriolat/video-fetcher/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	layout     cache.Layout
	chat       *testutil.Chat
	registry   *video_fetcher.ProviderRegistry
	transcoder *testutil.Transcoder
	stats      *stats.Store
	sessions   *session.Store
	deps       Deps
	config     Config
}

func newHarness(t *testing.T, sources ...*testutil.Source) *harness {
	h := &harness{
		layout:     cache.New(t.TempDir()),
		chat:       &testutil.Chat{},
		registry:   &video_fetcher.ProviderRegistry{},
		transcoder: &testutil.Transcoder{},
		sessions:   session.New(),
	}
	if err := h.layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	for i, src := range sources {
		h.registry.MustCreatePriority("test"+string(rune('a'+i)), src.Match, video_fetcher.PriorityDefault)
	}
	var err error
	h.stats, err = stats.New(stats.NewJSONFile(filepath.Join(t.TempDir(), "stats.json")))
	if err != nil {
		t.Fatal(err)
	}
	h.deps = Deps{
		Transport: h.chat,
		Matcher:   h.registry,
		Acquirer:  acquire.New(acquire.DefaultConfig, h.layout),
		Deriver:   derive.New(h.layout, h.transcoder, nil),
		Recorder:  h.stats,
		Limiter:   ratelimit.New(ratelimit.DefaultConfig),
		Sessions:  h.sessions,
	}
	h.config = DefaultConfig
	h.config.Clock = func() time.Time { return epoch }
	return h
}

func (h *harness) start(t *testing.T) *Dispatcher {
	d := New(h.config, h.deps)
	d.Start(context.Background())
	t.Cleanup(d.Close)
	return d
}

func waitFor(t *testing.T, handle Handle) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return handle.WaitContext(ctx)
}

func TestDispatcher_DeliversRequestedHeight(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/1", 360, 480, 720)
	h := newHarness(t, src)
	d := h.start(t)
	h.sessions.Put(1, session.Entry{URL: src.URL()})

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(720), Caption: "hi"})
	assert.Nil(err)
	result, err := waitFor(t, handle)
	assert.Nil(err)

	assert.True(strings.HasSuffix(result.Path, "720p.mp4"))
	assert.Equal(video_fetcher.FingerprintURL(src.URL()), result.Fingerprint)
	assert.Equal(1, src.Downloads())
	assert.Equal([]string{"scale:720"}, h.transcoder.Calls())
	assert.Equal(int64(1), h.stats.Snapshot()[stats.Total])
	assert.Equal(int64(0), h.stats.Snapshot()["mp3"])

	videos := testutil.OfKind(h.chat.Messages(1), testutil.KindVideo)
	if assert.Len(videos, 1) {
		assert.Equal(result.Path, videos[0].Path)
		assert.Equal("hi", videos[0].Text)
	}
	// Progress went to one status message, edited in place, ending in the finished state
	texts := testutil.OfKind(h.chat.Messages(1), testutil.KindText)
	edits := testutil.OfKind(h.chat.Messages(1), testutil.KindEdit)
	assert.Len(texts, 1)
	assert.NotEmpty(edits)
	assert.LessOrEqual(len(edits), 20)
	assert.Equal(DefaultConfig.Progress.FinishedText, edits[len(edits)-1].Text)

	_, ok := h.sessions.Get(1)
	assert.False(ok, "session is cleared after delivery")
}

func TestDispatcher_AudioCountsMP3(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/2", 720)
	h := newHarness(t, src)
	d := h.start(t)

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.AudioVariant()})
	assert.Nil(err)
	result, err := waitFor(t, handle)
	assert.Nil(err)
	assert.True(strings.HasSuffix(result.Path, ".mp3"))
	assert.Len(testutil.OfKind(h.chat.Messages(1), testutil.KindAudio), 1)

	counters := h.stats.Snapshot()
	assert.Equal(int64(1), counters[stats.Total])
	assert.Equal(int64(1), counters["mp3"])
	assert.Equal(int64(1), counters["testa"])
}

func TestDispatcher_Cooldown(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/3", 720)
	h := newHarness(t, src)
	d := h.start(t)

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = waitFor(t, handle)
	assert.Nil(err)
	before := len(h.chat.Messages(1))

	handle, err = d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.AudioVariant()})
	assert.ErrorIs(err, video_fetcher.ErrRateLimited)
	assert.Nil(handle)

	after := h.chat.Messages(1)
	if assert.Len(after, before+1) {
		notice := after[len(after)-1]
		assert.Equal(testutil.KindText, notice.Kind)
		assert.Equal(CooldownMessage(30*time.Second), notice.Text)
	}
	assert.Equal(int64(1), h.stats.Snapshot()[stats.Total])
	assert.Equal(1, src.Downloads())
	assert.Len(h.transcoder.Calls(), 1)
}

func TestDispatcher_GlobalRateNotice(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/9", 720)
	src.Gate = make(chan struct{})
	defer close(src.Gate)
	h := newHarness(t, src)
	h.deps.Limiter = ratelimit.New(ratelimit.Config{Cooldown: 30 * time.Second, GlobalRate: 0.001, GlobalBurst: 1})
	d := h.start(t)

	_, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.AudioVariant()})
	assert.Nil(err)
	// A different chat has no cooldown of its own, so it is told about the global limit instead
	handle, err := d.Submit(context.Background(), Request{ChatID: 2, URL: src.URL(), Variant: video_fetcher.AudioVariant()})
	assert.ErrorIs(err, video_fetcher.ErrRateLimited)
	assert.Nil(handle)
	texts := testutil.OfKind(h.chat.Messages(2), testutil.KindText)
	if assert.Len(texts, 1) {
		assert.Equal(OverloadedMessage, texts[0].Text)
	}
}

func TestDispatcher_SharedAcquisition(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/4", 480, 720)
	src.Gate = make(chan struct{})
	h := newHarness(t, src)
	d := h.start(t)

	first, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(480)})
	assert.Nil(err)
	second, err := d.Submit(context.Background(), Request{ChatID: 2, URL: src.URL(), Variant: video_fetcher.AudioVariant()})
	assert.Nil(err)
	close(src.Gate)

	r1, err1 := waitFor(t, first)
	r2, err2 := waitFor(t, second)
	assert.Nil(err1)
	assert.Nil(err2)
	assert.Equal(1, src.Downloads())
	assert.Equal(r1.Fingerprint, r2.Fingerprint)
	assert.Len(testutil.OfKind(h.chat.Messages(1), testutil.KindVideo), 1)
	assert.Len(testutil.OfKind(h.chat.Messages(2), testutil.KindAudio), 1)
	assert.ElementsMatch([]string{"scale:480", "audio"}, h.transcoder.Calls())
	assert.Equal(int64(2), h.stats.Snapshot()[stats.Total])
}

func TestDispatcher_Unresolvable(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t, testutil.NewSource("https://example.com/known", 720))
	d := h.start(t)
	h.sessions.Put(1, session.Entry{URL: "https://example.com/unknown"})

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: "https://example.com/unknown", Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = waitFor(t, handle)
	assert.ErrorIs(err, video_fetcher.ErrUnresolvableSource)

	messages := h.chat.Messages(1)
	if assert.Len(messages, 1) {
		assert.Equal(UserMessage(err), messages[0].Text)
	}
	_, ok := h.sessions.Get(1)
	assert.False(ok)
	assert.Equal(int64(0), h.stats.Snapshot()[stats.Total])
}

func TestDispatcher_DerivationFailure(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/5", 720)
	h := newHarness(t, src)
	h.transcoder.Err = errors.New("exit status 1")
	d := h.start(t)

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = waitFor(t, handle)
	assert.ErrorIs(err, video_fetcher.ErrDerivationFailed)

	messages := h.chat.Messages(1)
	assert.Equal(UserMessage(err), messages[len(messages)-1].Text)
	assert.Empty(testutil.OfKind(messages, testutil.KindVideo))
	assert.Equal(int64(0), h.stats.Snapshot()[stats.Total])
	// The master is still cached for the next attempt
	_, ok := h.layout.LookupMaster(video_fetcher.FingerprintURL(src.URL()))
	assert.True(ok)
}

type panickingDeriver struct{}

func (panickingDeriver) Derive(context.Context, cache.Master, video_fetcher.Variant) (string, error) {
	panic("unexpected")
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/6", 720)
	h := newHarness(t, src)
	h.deps.Deriver = panickingDeriver{}
	h.config.Workers = 1
	d := h.start(t)

	handle, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = waitFor(t, handle)
	assert.Error(err)

	// The worker survives and handles the next job
	handle, err = d.Submit(context.Background(), Request{ChatID: 2, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = waitFor(t, handle)
	assert.Error(err)
	assert.Len(testutil.OfKind(h.chat.Messages(2), testutil.KindText), 1)
}

func TestDispatcher_QueueFull(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/7", 720)
	h := newHarness(t, src)
	h.config.QueueSize = 1
	d := New(h.config, h.deps)

	first, err := d.Submit(context.Background(), Request{ChatID: 1, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.Nil(err)
	_, err = d.Submit(context.Background(), Request{ChatID: 2, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.ErrorIs(err, ErrQueueFull)
	assert.Equal(BusyMessage, h.chat.Messages(2)[0].Text)

	d.Start(context.Background())
	_, err = waitFor(t, first)
	assert.Nil(err)
	d.Close()

	_, err = d.Submit(context.Background(), Request{ChatID: 3, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
	assert.ErrorIs(err, ErrClosed)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	assert := assert_.New(t)
	src := testutil.NewSource("https://example.com/watch/8", 720)
	h := newHarness(t, src)
	h.config.Workers = 1
	d := New(h.config, h.deps)

	var handles []Handle
	for chat := int64(1); chat <= 3; chat++ {
		handle, err := d.Submit(context.Background(), Request{ChatID: chat, URL: src.URL(), Variant: video_fetcher.VideoVariant(720)})
		assert.Nil(err)
		handles = append(handles, handle)
	}
	d.Start(context.Background())
	d.Close()

	wg := sync.WaitGroup{}
	for _, handle := range handles {
		wg.Add(1)
		go func(handle Handle) {
			defer wg.Done()
			_, err := waitFor(t, handle)
			assert.Nil(err)
		}(handle)
	}
	wg.Wait()
	assert.Equal(int64(3), h.stats.Snapshot()[stats.Total])
}

func TestMessages(t *testing.T) {
	assert := assert_.New(t)
	assert.Contains(CooldownMessage(1500*time.Millisecond), " 2 seconds")
	assert.Contains(CooldownMessage(0), " 1 seconds")
	assert.NotEqual(UserMessage(&video_fetcher.UnresolvableSourceError{Input: "x"}), UserMessage(errors.New("other")))
}
