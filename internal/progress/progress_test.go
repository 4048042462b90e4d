package progress

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
)

type fakeMessenger struct {
	mu       sync.Mutex
	sends    []string
	edits    []string
	failSend bool
}

func (m *fakeMessenger) SendText(_ context.Context, _ int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return 0, errors.New("send failed")
	}
	m.sends = append(m.sends, text)
	return 42, nil
}

func (m *fakeMessenger) EditText(_ context.Context, _ int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageID != 42 {
		return errors.New("unknown message")
	}
	m.edits = append(m.edits, text)
	return nil
}

var percentPattern = regexp.MustCompile(`(\d+)%`)

func percents(texts []string) []int {
	var result []int
	for _, text := range texts {
		if m := percentPattern.FindStringSubmatch(text); m != nil {
			p, _ := strconv.Atoi(m[1])
			result = append(result, p)
		}
	}
	return result
}

func inProgress(downloaded, total int64) video_fetcher.Progress {
	return video_fetcher.Progress{Downloaded: downloaded, Total: total}
}

func TestReporter_FullTransfer(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(DefaultConfig, m, 1, nil)
	ctx := context.Background()

	const total = 1000
	for downloaded := int64(0); downloaded <= total; downloaded++ {
		r.Report(ctx, inProgress(downloaded, total))
	}
	r.Report(ctx, video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})

	assert.Len(m.sends, 1)
	assert.LessOrEqual(r.Updates(), 20)
	assert.Equal(20, r.Updates())
	// One send, then edits for the remaining intermediate updates plus exactly one finished update
	assert.Len(m.edits, r.Updates())
	assert.Equal(DefaultConfig.FinishedText, m.edits[len(m.edits)-1])

	emitted := percents(append(append([]string{}, m.sends...), m.edits...))
	assert.Len(emitted, 20)
	for i := 1; i < len(emitted); i++ {
		assert.GreaterOrEqual(emitted[i], emitted[i-1])
	}
	assert.Equal(0, emitted[0])
	assert.Equal(95, emitted[len(emitted)-1])
}

func TestReporter_FinishedOnlyOnce(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(DefaultConfig, m, 1, nil)
	ctx := context.Background()
	r.Report(ctx, inProgress(50, 100))
	r.Report(ctx, video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	r.Report(ctx, video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	r.Report(ctx, inProgress(100, 100))
	assert.Len(m.sends, 1)
	assert.Equal([]string{DefaultConfig.FinishedText}, m.edits)
}

func TestReporter_FinishedWithoutProgress(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(DefaultConfig, m, 1, nil)
	r.Report(context.Background(), video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	assert.Equal([]string{DefaultConfig.FinishedText}, m.sends)
	assert.Empty(m.edits)
	assert.Equal(42, r.MessageID())
}

func TestReporter_UnknownTotal(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(DefaultConfig, m, 1, nil)
	for i := int64(0); i < 100; i++ {
		r.Report(context.Background(), inProgress(i*1000, 0))
	}
	assert.Empty(m.sends)
	assert.Empty(m.edits)
	assert.Equal(0, r.Updates())
}

func TestReporter_BackwardsProgressIgnored(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(DefaultConfig, m, 1, nil)
	ctx := context.Background()
	r.Report(ctx, inProgress(50, 100))
	// The total grew when a second stream started
	r.Report(ctx, inProgress(50, 200))
	assert.Equal(1, r.Updates())
	r.Report(ctx, inProgress(120, 200))
	assert.Equal(2, r.Updates())
	assert.Equal([]int{50}, percents(m.sends))
	assert.Equal([]int{60}, percents(m.edits))
}

func TestReporter_SendFailureDoesNotAbort(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{failSend: true}
	r := NewReporter(DefaultConfig, m, 1, nil)
	assert.NotPanics(func() {
		r.Report(context.Background(), inProgress(10, 100))
		r.Report(context.Background(), video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	})
	assert.Equal(0, r.MessageID())
}

func TestReporter_Run(t *testing.T) {
	assert := assert_.New(t)
	m := &fakeMessenger{}
	r := NewReporter(Config{Step: 25}, m, 1, nil)
	events := pubsub.NewChannel[video_fetcher.Progress](4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), events)
	}()
	for i := int64(0); i <= 100; i += 10 {
		events.Send(inProgress(i, 100))
	}
	events.Send(video_fetcher.Progress{Phase: video_fetcher.PhaseFinished})
	events.Close()
	<-done
	assert.Equal(4, r.Updates())
	assert.Len(m.edits, 4)
}

func TestBucket(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(0, Bucket(0, 5))
	assert.Equal(0, Bucket(4.9, 5))
	assert.Equal(1, Bucket(5, 5))
	assert.Equal(19, Bucket(99, 5))
	assert.Equal(19, Bucket(100, 5))
	assert.Equal(3, Bucket(100, 25))
}

func TestBar(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("░░░░", Bar(0, 4))
	assert.Equal("██░░", Bar(50, 4))
	assert.Equal("████", Bar(100, 4))
	assert.Equal("████████░░░░░░░░ 50%", Render("x", 50, 16)[2:])
}
