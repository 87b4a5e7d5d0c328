package events

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus implements Bus using in-memory channels. Useful for tests
// and single-process deployments.
type MemoryBus struct {
	channels      map[string]chan []byte
	subscriptions map[string]context.CancelFunc
	mu            sync.RWMutex
}

func newMemoryBus() *MemoryBus {
	return &MemoryBus{
		channels:      make(map[string]chan []byte),
		subscriptions: make(map[string]context.CancelFunc),
	}
}

func (b *MemoryBus) getOrCreateChannel(subject string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.channels[subject]; exists {
		return ch
	}

	ch := make(chan []byte, 1024)
	b.channels[subject] = ch
	return ch
}

// Publish publishes a payload to an in-memory channel
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	ch := b.getOrCreateChannel(subject)

	// Copy so the caller can reuse the slice
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	select {
	case ch <- dataCopy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

// Subscribe subscribes to an in-memory channel
func (b *MemoryBus) Subscribe(subject string, handler Handler) error {
	b.mu.Lock()
	if _, exists := b.subscriptions[subject]; exists {
		b.mu.Unlock()
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	b.mu.Unlock()

	ch := b.getOrCreateChannel(subject)
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.subscriptions[subject] = cancel
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(data)
			}
		}
	}()

	return nil
}

// Unsubscribe unsubscribes from a channel
func (b *MemoryBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cancel, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}

	cancel()
	delete(b.subscriptions, subject)
	return nil
}

// Close closes all channels and subscriptions
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subject, cancel := range b.subscriptions {
		cancel()
		delete(b.subscriptions, subject)
	}

	for subject, ch := range b.channels {
		close(ch)
		delete(b.channels, subject)
	}

	return nil
}
