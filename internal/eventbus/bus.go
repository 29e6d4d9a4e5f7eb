package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the runtime.
const (
	RadioConnected    = "radio.connected"
	RadioDisconnected = "radio.disconnected"
	NodeSeen          = "node.seen"
	JobsStarted       = "jobs.started"
	ConfigReloaded    = "config.reloaded"
	ConfigRejected    = "config.rejected"
)

// Event is an in-memory signal used to decouple components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Radio is the payload of RadioConnected and RadioDisconnected.
type Radio struct {
	SelfID string
	Err    string
}

// Node is the payload of NodeSeen.
type Node struct {
	ID     string
	Result string
}

// Jobs is the payload of JobsStarted.
type Jobs struct {
	Started []string
	Skipped []string
}

// Reload is the payload of ConfigReloaded and ConfigRejected.
type Reload struct {
	Err string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish sends under the read lock so a concurrent unsubscribe cannot close
// a channel mid-send.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
