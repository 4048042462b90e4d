package pubsub

import (
	"sync"
	"sync/atomic"
)

type Sender[T any] interface {
	// Send blocks until the message is buffered or the channel is closed.
	Send(T) bool
	// Offer buffers the message only if that would not block.
	Offer(T) bool
}

type Receiver[T any] interface {
	Receive() <-chan T
}

type Channel[T any] interface {
	Sender[T]
	Receiver[T]
	// Dropped counts messages that Offer discarded because the buffer was full.
	Dropped() uint64
	Close()
}

type channel[T any] struct {
	// Senders hold the read lock for the whole send, so taking the write lock means none are left.
	mu      sync.RWMutex
	ch      chan T
	closing chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewChannel[T any](bufSize int) Channel[T] {
	return &channel[T]{
		ch:      make(chan T, bufSize),
		closing: make(chan struct{}),
	}
}

func (c *channel[T]) Receive() <-chan T {
	return c.ch
}

func (c *channel[T]) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *channel[T]) Send(msg T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosing() {
		return false
	}
	select {
	case c.ch <- msg:
		return true
	case <-c.closing:
		return false
	}
}

func (c *channel[T]) Offer(msg T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosing() {
		return false
	}
	select {
	case c.ch <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *channel[T]) Dropped() uint64 {
	return c.dropped.Load()
}

// Close fails any blocked and future sends, then closes the receive side. Safe to call more than once.
func (c *channel[T]) Close() {
	c.once.Do(func() {
		close(c.closing)
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.ch)
	})
}
