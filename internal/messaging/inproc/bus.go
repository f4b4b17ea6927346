package inproc

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"nickel_agent/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

// Bus fans run events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]subscription
	buffer int
}

type subscription struct {
	runID string
	ch    chan domain.RunEvent
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]subscription),
		buffer: buffer,
	}
}

// Subscribe registers a listener. An empty runID receives events of every run.
func (b *Bus) Subscribe(runID string) (string, <-chan domain.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan domain.RunEvent, b.buffer)
	b.subs[id] = subscription{runID: runID, ch: ch}
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

func (b *Bus) Publish(event domain.RunEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped bool
	for _, sub := range b.subs {
		if sub.runID != "" && sub.runID != event.RunID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrSubscriberQueueFull
	}
	return nil
}
