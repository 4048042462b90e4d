package stats

import (
	"sort"

	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
)

const Total = "total"

// DefaultCategories are always present in a snapshot, even before anything has been recorded.
var DefaultCategories = []string{Total, "mp3", "youtube", "instagram", "tiktok"}

// Counters is a flat record of counter name to value, always including Total.
type Counters map[string]int64

func (c Counters) clone() Counters {
	result := make(Counters, len(c))
	for k, v := range c {
		result[k] = v
	}
	return result
}

// Names returns the counter names, Total first and the rest sorted.
func (c Counters) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		if name != Total {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{Total}, names...)
}

// Database persists Counters. SaveCounters always receives the complete set.
type Database interface {
	LoadCounters() (Counters, error)
	SaveCounters(counters Counters) error
}

type Store struct {
	db       Database
	counters *sync_.Mutexed[Counters]
	log      *zap.SugaredLogger
}

// New loads the persisted counters. Missing counters start at zero.
func New(db Database) (*Store, error) {
	loaded, err := db.LoadCounters()
	if err != nil {
		return nil, err
	}
	counters := make(Counters)
	for _, name := range DefaultCategories {
		counters[name] = 0
	}
	for name, value := range loaded {
		counters[name] = value
	}
	return &Store{
		db:       db,
		counters: sync_.NewMutexed(counters),
		log:      zap.S().Named("stats"),
	}, nil
}

// Record counts one completed transfer: Total and each non-empty category are incremented, then the full set is
// persisted before returning. A persistence failure is logged and the increment is kept in memory.
func (s *Store) Record(categories ...string) Counters {
	var snapshot Counters
	_ = s.counters.Locked(func(counters *Counters) error {
		before := counters.clone()
		(*counters)[Total]++
		for _, category := range categories {
			if category != "" && category != Total {
				(*counters)[category]++
			}
		}
		snapshot = counters.clone()
		s.logChanges(before, snapshot)
		if err := s.db.SaveCounters(snapshot); err != nil {
			s.log.Errorw("failed to persist usage counters", "error", &video_fetcher.PersistenceError{Err: err})
		}
		return nil
	})
	return snapshot
}

// Snapshot returns a copy of the current counters.
func (s *Store) Snapshot() Counters {
	var snapshot Counters
	_ = s.counters.Locked(func(counters *Counters) error {
		snapshot = counters.clone()
		return nil
	})
	return snapshot
}

func (s *Store) logChanges(before, after Counters) {
	changes, err := diff.Diff(before, after)
	if err != nil {
		s.log.Warnw("failed to diff usage counters", "error", err)
		return
	}
	for _, change := range changes {
		s.log.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
	}
}
