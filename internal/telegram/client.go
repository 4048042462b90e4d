package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	TelegramAPIEndpoint = tgbotapi.APIEndpoint
	// BaleAPIEndpoint speaks the same protocol as Telegram.
	BaleAPIEndpoint = "https://tapi.bale.ai/bot%s/%s"
)

// Button is an inline keyboard button whose Data comes back in the callback query.
type Button struct {
	Text string
	Data string
}

type Keyboard [][]Button

func (k Keyboard) markup() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k))
	for _, row := range k {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Client is the Bot API side of the bot. The library has no context support, so context is only checked before each
// call is made.
type Client struct {
	bot *tgbotapi.BotAPI
	log *zap.SugaredLogger
}

func NewClient(token string, endpoint string, debug bool) (*Client, error) {
	log := zap.S().Named("telegram")
	if endpoint == "" {
		endpoint = TelegramAPIEndpoint
	}
	if err := tgbotapi.SetLogger(botLogger{log.Named("api")}); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bot API: %w", err)
	}
	bot.Debug = debug
	log.Infow("authorized", "username", bot.Self.UserName)
	return &Client{bot: bot, log: log}, nil
}

func (c *Client) UserName() string {
	return c.bot.Self.UserName
}

// Updates starts long polling. The channel closes after StopUpdates.
func (c *Client) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

// SendMenu sends the thumbnail with the caption and keyboard attached. Without a thumbnail, or if the photo is
// refused, the caption and keyboard are sent as a plain message instead.
func (c *Client) SendMenu(ctx context.Context, chatID int64, photoURL string, caption string, keyboard Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if photoURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
		photo.Caption = caption
		photo.ReplyMarkup = keyboard.markup()
		if _, err := c.bot.Send(photo); err == nil {
			return nil
		} else {
			c.log.Warnw("failed to send thumbnail, falling back to text", "chat_id", chatID, "error", err)
		}
	}
	msg := tgbotapi.NewMessage(chatID, caption)
	msg.ReplyMarkup = keyboard.markup()
	_, err := c.bot.Send(msg)
	return err
}

func (c *Client) SendVideo(ctx context.Context, chatID int64, path string, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	video.Caption = caption
	video.SupportsStreaming = true
	_, err := c.bot.Send(video)
	return err
}

func (c *Client) SendAudio(ctx context.Context, chatID int64, path string, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
	audio.Caption = caption
	_, err := c.bot.Send(audio)
	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// botLogger routes the library's own logging through zap.
type botLogger struct {
	log *zap.SugaredLogger
}

func (l botLogger) Println(v ...interface{}) {
	l.log.Debug(v...)
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}
