// Package navigation carries "location changed" events from the page to the
// routers that render it.
package navigation

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 16

// LocationChanged is published whenever the page navigates.
type LocationChanged struct {
	URL         string
	Intercepted bool
	Timestamp   time.Time
}

// Source is what a router subscribes to. The channel is closed when ctx is
// cancelled or the source shuts down.
type Source interface {
	Subscribe(ctx context.Context) <-chan LocationChanged
}

// Broker fans location changes out to every subscriber. Publishing never
// blocks: when a subscriber's buffer is full its oldest pending event is
// dropped, so the newest location is always delivered.
type Broker struct {
	subs       map[chan LocationChanged]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
	current    string
}

func NewBroker(initialURL string) *Broker {
	return NewBrokerWithBuffer(initialURL, defaultBufferSize)
}

func NewBrokerWithBuffer(initialURL string, size int) *Broker {
	return &Broker{
		subs:       make(map[chan LocationChanged]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
		current:    initialURL,
	}
}

func (b *Broker) Subscribe(ctx context.Context) <-chan LocationChanged {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan LocationChanged)
		close(ch)
		return ch
	default:
	}

	sub := make(chan LocationChanged, b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[sub]; !ok {
			return
		}
		delete(b.subs, sub)
		close(sub)
	}()

	return sub
}

// Navigate records url as the current location and notifies subscribers.
func (b *Broker) Navigate(url string, intercepted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	b.current = url
	event := LocationChanged{
		URL:         url,
		Intercepted: intercepted,
		Timestamp:   time.Now(),
	}

	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- event:
			default:
			}
		}
	}
}

// Current returns the most recently published location.
func (b *Broker) Current() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
