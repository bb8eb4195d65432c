// Package eventbus is an in-process fan-out of capture lifecycle events.
//
// Publish never blocks: each subscriber owns a buffered channel and a slow
// subscriber loses events instead of stalling the scheduler.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	CaptureAdmitted  = "capture.admitted"
	CaptureRecording = "capture.recording"
	CaptureStopped   = "capture.stopped"
	CaptureFailed    = "capture.failed"
	CaptureCreated   = "capture.created"
	ConfigReloaded   = "config.reloaded"
)

type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// CaptureData is the payload of every capture.* event.
type CaptureData struct {
	CaptureID int64  `json:"capture_id"`
	Status    string `json:"status"`
	Movie     string `json:"movie,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &memBus{subs: map[int]chan Event{}} }

type memBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func (b *memBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
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

// Nop discards everything; used when a component runs without a bus.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
