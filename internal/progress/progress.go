package progress

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
)

// Messenger is the part of the chat transport the Reporter needs.
type Messenger interface {
	// SendText sends a new message, returning its ID.
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

type Config struct {
	// Step is the bucket width in percent. At most 100/Step intermediate updates are emitted.
	Step         int
	BarWidth     int
	Label        string
	FinishedText string
}

var DefaultConfig = Config{
	Step:         5,
	BarWidth:     16,
	Label:        "⬇️ Downloading...",
	FinishedText: "📦 Download complete, packaging and sending...",
}

// Reporter is bound to one job and is not safe for concurrent use; feed it from one goroutine, e.g. with Run.
type Reporter struct {
	config    Config
	messenger Messenger
	chatID    int64
	log       *zap.SugaredLogger

	messageID  int
	lastBucket int
	finished   bool
	updates    int
}

func NewReporter(config Config, messenger Messenger, chatID int64, log *zap.SugaredLogger) *Reporter {
	if config.Step <= 0 || config.Step > 100 {
		config.Step = DefaultConfig.Step
	}
	if config.BarWidth <= 0 {
		config.BarWidth = DefaultConfig.BarWidth
	}
	if log == nil {
		log = zap.S().Named("progress")
	}
	return &Reporter{
		config:     config,
		messenger:  messenger,
		chatID:     chatID,
		log:        log.With("chat_id", chatID),
		lastBucket: -1,
	}
}

// Report handles one progress event. In-progress events only produce an update when they move into a later bucket;
// the first finished event produces exactly one final update and everything after it is ignored.
func (r *Reporter) Report(ctx context.Context, p video_fetcher.Progress) {
	if r.finished {
		return
	}
	if p.IsFinished() {
		r.finished = true
		r.emit(ctx, r.config.FinishedText)
		return
	}
	percent, ok := p.Percent()
	if !ok {
		return
	}
	bucket := Bucket(percent, r.config.Step)
	if bucket <= r.lastBucket {
		return
	}
	r.lastBucket = bucket
	r.updates++
	r.emit(ctx, Render(r.config.Label, percent, r.config.BarWidth))
}

// Run reports every event until the channel is closed.
func (r *Reporter) Run(ctx context.Context, events pubsub.Receiver[video_fetcher.Progress]) {
	for p := range events.Receive() {
		r.Report(ctx, p)
	}
}

// MessageID is the status message, or 0 if none has been sent.
func (r *Reporter) MessageID() int {
	return r.messageID
}

// Updates counts the intermediate (in-progress) updates emitted so far.
func (r *Reporter) Updates() int {
	return r.updates
}

func (r *Reporter) emit(ctx context.Context, text string) {
	if r.messageID == 0 {
		id, err := r.messenger.SendText(ctx, r.chatID, text)
		if err != nil {
			r.log.Warnw("failed to send progress message", "error", err)
			return
		}
		r.messageID = id
		return
	}
	if err := r.messenger.EditText(ctx, r.chatID, r.messageID, text); err != nil {
		r.log.Warnw("failed to edit progress message", "message_id", r.messageID, "error", err)
	}
}

// Bucket quantizes a percentage. 100% shares the last bucket so that completion does not cost an extra update.
func Bucket(percent float64, step int) int {
	count := 100 / step
	bucket := int(percent) / step
	if bucket >= count {
		bucket = count - 1
	}
	if bucket < 0 {
		bucket = 0
	}
	return bucket
}

// Bar draws a fixed-width bar of filled and empty cells.
func Bar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	} else if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func Render(label string, percent float64, width int) string {
	return fmt.Sprintf("%s\n%s %d%%", label, Bar(percent, width), int(percent))
}
