package session

import (
	"time"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
)

type Entry struct {
	URL          string
	ProviderName string
	Info         video_fetcher.SourceInfo
	Caption      string
	CreatedAt    time.Time
}

// Offers reports whether a button press for v refers to something this entry offered.
func (e Entry) Offers(v video_fetcher.Variant) bool {
	if v.IsAudio() {
		return true
	}
	return e.Info.HasHeight(v.Height)
}

type entriesByChat = map[int64]Entry

type Store struct {
	entries *sync_.RWMutexed[entriesByChat]
}

func New() *Store {
	return &Store{entries: sync_.NewRWMutexed(make(entriesByChat))}
}

// Put replaces whatever the chat had before.
func (s *Store) Put(chatID int64, entry Entry) {
	_ = s.entries.Locked(func(entries *entriesByChat) error {
		(*entries)[chatID] = entry
		return nil
	})
}

func (s *Store) Get(chatID int64) (entry Entry, ok bool) {
	_ = s.entries.RLocked(func(entries *entriesByChat) error {
		entry, ok = (*entries)[chatID]
		return nil
	})
	return entry, ok
}

// Clear removes the chat's entry, returning true if there was one.
func (s *Store) Clear(chatID int64) (existed bool) {
	_ = s.entries.Locked(func(entries *entriesByChat) error {
		_, existed = (*entries)[chatID]
		delete(*entries, chatID)
		return nil
	})
	return existed
}

func (s *Store) Len() int {
	var n int
	_ = s.entries.RLocked(func(entries *entriesByChat) error {
		n = len(*entries)
		return nil
	})
	return n
}
