// Package monitor streams the live capture to listeners over HTTP (mp3 via
// ffmpeg) and WebRTC (opus).
package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// ListenerBuffer is the number of blocks queued per listener before blocks
// are dropped for it.
const ListenerBuffer = 150

// Broadcaster fans out captured mono blocks from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// Listener receives captured blocks from the broadcaster.
type Listener struct {
	C    chan []int16
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish hands block to every listener without blocking. Slow listeners
// lose the block. Listeners must treat the slice as read-only.
func (b *Broadcaster) Publish(block []int16) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- block:
		default:
			b.dropped.Add(1)
		}
	}
}

// SaveRecordedAt publishes the valid part of a captured block, so a
// Broadcaster can sit next to the recorder as a capture sink.
func (b *Broadcaster) SaveRecordedAt(_ time.Time, samples []int16, n int) {
	n = max(min(n, len(samples)), 0)
	if n == 0 {
		return
	}
	b.Publish(samples[:n])
}

// Stats reports published blocks and per-listener drops.
func (b *Broadcaster) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
