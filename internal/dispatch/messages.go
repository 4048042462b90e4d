package dispatch

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanbriolat/video-fetcher"
)

const (
	BusyMessage = "🚦 Too many requests are being processed right now. Please try again in a moment."
	// OverloadedMessage answers a request refused by the process-wide rate, which no single chat caused.
	OverloadedMessage = "🚦 The bot is receiving too many requests. Please try again in a few seconds."
)

// CooldownMessage tells the user how long to wait, rounded up to whole seconds.
func CooldownMessage(remaining time.Duration) string {
	seconds := int(math.Ceil(remaining.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("⏳ Please wait %d seconds before sending another request.", seconds)
}

// UserMessage is the single notice a chat receives when its job fails.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, video_fetcher.ErrUnresolvableSource):
		return "❌ Invalid link, or this site is not supported."
	case errors.Is(err, video_fetcher.ErrAcquisitionFailed):
		return "❌ Download failed. Please try again later."
	case errors.Is(err, video_fetcher.ErrDerivationFailed):
		return "❌ Conversion failed. Please try again later."
	default:
		return "❌ Something went wrong while sending your file. Please try again later."
	}
}
