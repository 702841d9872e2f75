package grpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

const subscriberBuffer = 100

// Broadcaster fans notifications out to stream subscribers. A subscriber
// whose buffer is full misses the notification instead of slowing the rest.
type Broadcaster struct {
	subscribers map[uint64]chan models.Notification
	nextID      atomic.Uint64
	mu          sync.RWMutex
	closed      bool
	skipped     atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan models.Notification),
	}
}

// Subscribe registers a subscriber. After Close the returned channel is
// already closed.
func (b *Broadcaster) Subscribe() (uint64, chan models.Notification) {
	id := b.nextID.Add(1)
	ch := make(chan models.Notification, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(n models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			// Skip slow subscribers
			b.skipped.Add(1)
		}
	}
}

func (b *Broadcaster) Name() string { return "stream" }

// Deliver lets the broadcaster act as an audit sink.
func (b *Broadcaster) Deliver(_ context.Context, n models.Notification) error {
	b.Broadcast(n)
	return nil
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Skipped counts notifications not handed to a slow subscriber.
func (b *Broadcaster) Skipped() int64 {
	return b.skipped.Load()
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
