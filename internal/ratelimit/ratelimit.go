package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultCooldown = 30 * time.Second

type Config struct {
	// Cooldown is the minimum time between two accepted actions from the same chat.
	Cooldown time.Duration
	// GlobalRate limits accepted actions across all chats, per second. Zero means unlimited.
	GlobalRate float64
	// GlobalBurst is the burst size for GlobalRate.
	GlobalBurst int
}

var DefaultConfig = Config{
	Cooldown: DefaultCooldown,
}

// Limiter is safe for concurrent use.
type Limiter struct {
	config Config
	global *rate.Limiter

	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

func New(config Config) *Limiter {
	global := rate.NewLimiter(rate.Inf, 0)
	if config.GlobalRate > 0 {
		burst := config.GlobalBurst
		if burst < 1 {
			burst = 1
		}
		global = rate.NewLimiter(rate.Limit(config.GlobalRate), burst)
	}
	return &Limiter{
		config:   config,
		global:   global,
		lastSeen: make(map[int64]time.Time),
	}
}

// Admit reports whether chatID may act at now, and if so records now as its last accepted action. A denied action
// leaves the ledger untouched, so retrying during the cooldown does not extend it. When the chat is outside its
// cooldown but the global rate refuses, Remaining for the chat is zero.
func (l *Limiter) Admit(chatID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastSeen[chatID]; ok && now.Sub(last) < l.config.Cooldown {
		return false
	}
	if !l.global.AllowN(now, 1) {
		return false
	}
	l.lastSeen[chatID] = now
	return true
}

// Remaining is how long chatID must wait from now before it would be admitted again.
func (l *Limiter) Remaining(chatID int64, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.lastSeen[chatID]
	if !ok {
		return 0
	}
	if remaining := l.config.Cooldown - now.Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}

// Prune forgets chats whose cooldown expired before now, returning how many were removed.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for chatID, last := range l.lastSeen {
		if now.Sub(last) >= l.config.Cooldown {
			delete(l.lastSeen, chatID)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastSeen)
}
