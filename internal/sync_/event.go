package sync_

import "sync"

// Event is a one-shot flag that goroutines can wait on. Once set it stays set.
type Event struct {
	once sync.Once
	mu   sync.Mutex
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{}
}

func (e *Event) channel() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}

// Set marks the Event, releasing all waiters. Returns true only for the call that changed it.
func (e *Event) Set() (changed bool) {
	ch := e.channel()
	e.once.Do(func() {
		close(ch)
		changed = true
	})
	return changed
}

func (e *Event) IsSet() bool {
	select {
	case <-e.channel():
		return true
	default:
		return false
	}
}

// Wait returns a channel that is closed once the Event is set, which may already be the case.
func (e *Event) Wait() <-chan struct{} {
	return e.channel()
}
