// Package eventbus carries in-process outage and subscription signals from
// the coordinator to observers (audit log, metrics).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	OutageStarted     = "outage.started"
	OutageEnded       = "outage.ended"
	SubscriberAdded   = "subscriber.added"
	SubscriberRemoved = "subscriber.removed"
)

// Event is a small in-memory signal.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// OutageData is the payload of OutageStarted and OutageEnded.
type OutageData struct {
	ID      int64
	Started time.Time
	Ended   time.Time
}

// SubscriberData is the payload of SubscriberAdded and SubscriberRemoved.
type SubscriberData struct {
	UserID int64
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
	seq     uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock keeps unsubscribe from closing a channel mid-send.
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

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
