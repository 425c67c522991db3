package notifications

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 32

// MemoryRelay broadcasts events to subscribers in the same process.
type MemoryRelay struct {
	mu      sync.RWMutex
	running bool
	nextID  uint64
	subs    map[uint64]chan Event
	buffer  int
	dropped func(Event)
}

// MemoryOption customises a MemoryRelay.
type MemoryOption func(*MemoryRelay)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(size int) MemoryOption {
	return func(r *MemoryRelay) {
		if size > 0 {
			r.buffer = size
		}
	}
}

// WithDropHandler is called for every event a slow subscriber misses.
func WithDropHandler(fn func(Event)) MemoryOption {
	return func(r *MemoryRelay) {
		r.dropped = fn
	}
}

// NewMemoryRelay constructs a stopped relay; call Start before publishing.
func NewMemoryRelay(opts ...MemoryOption) *MemoryRelay {
	r := &MemoryRelay{
		subs:   make(map[uint64]chan Event),
		buffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start marks the relay as running.
func (r *MemoryRelay) Start(context.Context) error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	return nil
}

// Stop closes every subscription.
func (r *MemoryRelay) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	return nil
}

// Publish delivers event to every subscriber without blocking.
func (r *MemoryRelay) Publish(_ context.Context, event Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return ErrRelayStopped
	}
	for _, ch := range r.subs {
		select {
		case ch <- event:
		default:
			if r.dropped != nil {
				r.dropped(event)
			}
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (r *MemoryRelay) Subscribe() (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, ErrRelayStopped
	}
	id := r.nextID
	r.nextID++
	ch := make(chan Event, r.buffer)
	r.subs[id] = ch

	var once sync.Once
	return &Subscription{
		events: ch,
		cancel: func() {
			once.Do(func() { r.remove(id) })
		},
	}, nil
}

// Subscribers reports how many subscriptions are attached.
func (r *MemoryRelay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *MemoryRelay) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		close(ch)
		delete(r.subs, id)
	}
}
