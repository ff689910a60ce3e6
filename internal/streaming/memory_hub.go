package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// feedBuffer is how many events a subscriber may lag behind before the hub
// starts dropping its events.
const feedBuffer = 64

type feed struct {
	events chan InvocationEvent
	filter EventFilter
	once   sync.Once
}

// MemoryHub fans invocation events out to in-process subscribers. Publishing
// never waits on a subscriber: the runner journals synchronously, so a full
// feed loses the event and the loss is counted instead.
type MemoryHub struct {
	mu      sync.RWMutex
	feeds   map[*feed]struct{}
	dropped atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{feeds: make(map[*feed]struct{})}
}

// Publish delivers event to every subscriber whose filter matches it.
func (h *MemoryHub) Publish(ctx context.Context, event InvocationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for f := range h.feeds {
		if !f.filter.Match(event) {
			continue
		}
		select {
		case f.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe opens a feed of events matching filter. The returned cancel
// func removes the feed and closes its channel; calling it again is a no-op.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan InvocationEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f := &feed{events: make(chan InvocationEvent, feedBuffer), filter: filter}

	h.mu.Lock()
	h.feeds[f] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		f.once.Do(func() {
			h.mu.Lock()
			delete(h.feeds, f)
			h.mu.Unlock()
			close(f.events)
		})
	}
	return f.events, cancel, nil
}

// Subscribers returns the number of open feeds.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds)
}

// Dropped returns how many events were lost to full feeds since start.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}
