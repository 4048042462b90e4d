package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/dispatch"
	"github.com/alanbriolat/video-fetcher/internal/session"
	"github.com/alanbriolat/video-fetcher/internal/stats"
)

const (
	StartMessage = "👋 Hi! Send me a link to a video from YouTube, Instagram, TikTok or most other sites, " +
		"and I'll offer you the qualities it's available in."
	UsageMessage          = "🔗 Please send a link to a video."
	ProbingMessage        = "🔍 Checking the link..."
	InvalidLinkMessage    = "❌ Invalid link, or this site is not supported."
	NoFormatsMessage      = "❌ No downloadable formats were found for this link."
	SessionExpiredMessage = "⌛ This selection has expired. Please send the link again."
	CancelledMessage      = "❌ Cancelled."
	QueuedMessage         = "✅ Request received"

	CancelData = "cancel"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Chat is what the bot needs from the API to talk to users.
type Chat interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendMenu(ctx context.Context, chatID int64, photoURL string, caption string, keyboard Keyboard) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type Resolver interface {
	Resolve(ctx context.Context, s string) (*video_fetcher.Resolution, error)
}

type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Handle, error)
}

type StatsReader interface {
	Snapshot() stats.Counters
}

type Config struct {
	EnableMP3 bool
	// MaxHeight matches the acquisition ceiling. Taller probed heights are not offered.
	MaxHeight int
	// ButtonsPerRow lays out the quality buttons.
	ButtonsPerRow int
	Presentation  video_fetcher.PresentationConfig
	Clock         func() time.Time
}

var DefaultConfig = Config{
	EnableMP3:     true,
	MaxHeight:     video_fetcher.DefaultMaxHeight,
	ButtonsPerRow: 2,
	Clock:         time.Now,
}

type Bot struct {
	config    Config
	chat      Chat
	resolver  Resolver
	submitter Submitter
	sessions  *session.Store
	stats     StatsReader
	log       *zap.SugaredLogger
}

func NewBot(config Config, chat Chat, resolver Resolver, submitter Submitter, sessions *session.Store, stats StatsReader) *Bot {
	if config.ButtonsPerRow <= 0 {
		config.ButtonsPerRow = DefaultConfig.ButtonsPerRow
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = DefaultConfig.MaxHeight
	}
	if config.Presentation == nil {
		config.Presentation = video_fetcher.NewPresentationConfig()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Bot{
		config:    config,
		chat:      chat,
		resolver:  resolver,
		submitter: submitter,
		sessions:  sessions,
		stats:     stats,
		log:       zap.S().Named("bot"),
	}
}

// Run handles updates until the channel closes or ctx is cancelled, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if query.Message == nil || query.Message.Chat == nil {
			b.log.Debugw("ignoring callback without message", "callback_id", query.ID)
			return
		}
		b.HandleCallback(ctx, query.ID, query.Message.Chat.ID, query.Data)
	case update.Message != nil && update.Message.Chat != nil:
		b.HandleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
	}
}

func (b *Bot) HandleMessage(ctx context.Context, chatID int64, text string) {
	log := b.log.With("chat_id", chatID)
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "/") {
		switch command(text) {
		case "start", "help":
			b.reply(ctx, log, chatID, StartMessage)
		case "stats":
			b.reply(ctx, log, chatID, FormatStats(b.stats.Snapshot()))
		default:
			b.reply(ctx, log, chatID, UsageMessage)
		}
		return
	}

	link := urlPattern.FindString(text)
	if link == "" {
		b.reply(ctx, log, chatID, UsageMessage)
		return
	}
	log = log.With("url", link)

	b.reply(ctx, log, chatID, ProbingMessage)
	resolution, err := b.resolver.Resolve(ctx, link)
	if err != nil {
		log.Infow("could not resolve link", "error", err)
		b.reply(ctx, log, chatID, InvalidLinkMessage)
		return
	}
	info := resolution.Info().Capped(b.config.MaxHeight)
	if !info.HasVideo() && !b.config.EnableMP3 {
		b.reply(ctx, log, chatID, NoFormatsMessage)
		return
	}
	caption, err := b.config.Presentation.Caption(resolution)
	if err != nil {
		log.Warnw("failed to render caption", "error", err)
		caption = info.Title
	}

	b.sessions.Put(chatID, session.Entry{
		URL:          resolution.Source.URL(),
		ProviderName: resolution.ProviderName,
		Info:         info,
		Caption:      caption,
		CreatedAt:    b.config.Clock(),
	})
	log.Infow("offering variants", "provider", resolution.ProviderName, "heights", info.Heights)
	if err := b.chat.SendMenu(ctx, chatID, info.Thumbnail, caption, b.keyboard(info)); err != nil {
		log.Warnw("failed to send menu", "error", err)
	}
}

func (b *Bot) HandleCallback(ctx context.Context, callbackID string, chatID int64, data string) {
	log := b.log.With("chat_id", chatID, "data", data)

	if data == CancelData {
		b.answer(ctx, log, callbackID, "")
		b.sessions.Clear(chatID)
		b.reply(ctx, log, chatID, CancelledMessage)
		return
	}

	variant, err := video_fetcher.ParseVariant(data)
	if err != nil || (variant.IsAudio() && !b.config.EnableMP3) {
		log.Debugw("ignoring unknown callback", "error", err)
		b.answer(ctx, log, callbackID, "")
		return
	}
	entry, ok := b.sessions.Get(chatID)
	if !ok || !entry.Offers(variant) {
		b.answer(ctx, log, callbackID, "")
		b.reply(ctx, log, chatID, SessionExpiredMessage)
		return
	}

	_, err = b.submitter.Submit(ctx, dispatch.Request{
		ChatID:  chatID,
		URL:     entry.URL,
		Variant: variant,
		Caption: entry.Caption,
	})
	switch {
	case err == nil:
		b.answer(ctx, log, callbackID, QueuedMessage)
	case errors.Is(err, video_fetcher.ErrRateLimited), errors.Is(err, dispatch.ErrQueueFull):
		// The dispatcher has already told the chat why.
		b.answer(ctx, log, callbackID, "")
	default:
		log.Errorw("failed to submit job", "error", err)
		b.answer(ctx, log, callbackID, "")
	}
}

func (b *Bot) keyboard(info video_fetcher.SourceInfo) Keyboard {
	var keyboard Keyboard
	var row []Button
	for _, height := range info.Heights {
		v := video_fetcher.VideoVariant(height)
		row = append(row, Button{Text: fmt.Sprintf("🎬 %s", v.Suffix()), Data: v.Token()})
		if len(row) == b.config.ButtonsPerRow {
			keyboard = append(keyboard, row)
			row = nil
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	var last []Button
	if b.config.EnableMP3 {
		last = append(last, Button{Text: "🎵 MP3", Data: video_fetcher.AudioVariant().Token()})
	}
	last = append(last, Button{Text: "❌ Cancel", Data: CancelData})
	return append(keyboard, last)
}

func (b *Bot) reply(ctx context.Context, log *zap.SugaredLogger, chatID int64, text string) {
	if _, err := b.chat.SendText(ctx, chatID, text); err != nil {
		log.Warnw("failed to send reply", "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, log *zap.SugaredLogger, callbackID string, text string) {
	if err := b.chat.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Debugw("failed to answer callback", "error", err)
	}
}

// command extracts "stats" from "/stats@SomeBot extra".
func command(text string) string {
	word := strings.Fields(text)[0]
	word = strings.TrimPrefix(word, "/")
	return strings.ToLower(strings.SplitN(word, "@", 2)[0])
}

func FormatStats(counters stats.Counters) string {
	builder := strings.Builder{}
	builder.WriteString("📊 Usage statistics\n")
	for _, name := range counters.Names() {
		builder.WriteString(fmt.Sprintf("\n%s: %d", name, counters[name]))
	}
	return builder.String()
}
