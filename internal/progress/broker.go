// Package progress fans out per-upload ingestion progress to any number of
// subscribers without ever blocking the producer.
package progress

import (
	"sync"
	"time"

	"github.com/vektor-ai/vektor/internal/domain"
)

const (
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 16
	// DefaultGracePeriod is how long a terminal upload's stream stays
	// available for late subscribers before it is released.
	DefaultGracePeriod = 60 * time.Second
)

// Event is one progress report for an upload job.
type Event struct {
	Phase       domain.Phase
	Percent     int
	State       domain.UploadState
	Error       string
	FailedFiles []string
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.State.Terminal()
}

// Config holds broker tuning knobs.
type Config struct {
	BufferSize  int
	GracePeriod time.Duration
}

// Broker routes progress events from the ingestion coordinator to subscribers.
// Publishing never blocks: when a subscriber's buffer is full the oldest
// buffered event is dropped to make room, so a slow consumer always ends up
// observing the most recent events and, in particular, the terminal one.
type Broker struct {
	mu      sync.Mutex
	uploads map[string]*stream
	cfg     Config
}

type stream struct {
	subs     map[int]chan Event
	nextSub  int
	terminal *Event
}

// NewBroker creates a broker with default buffering and retention.
func NewBroker() *Broker {
	return NewBrokerWithConfig(Config{})
}

// NewBrokerWithConfig creates a broker with explicit configuration.
func NewBrokerWithConfig(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Broker{
		uploads: make(map[string]*stream),
		cfg:     cfg,
	}
}

// Register creates the stream for an upload so subscribers can attach before
// the first event is published.
func (b *Broker) Register(uploadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.uploads[uploadID]; !ok {
		b.uploads[uploadID] = &stream{subs: make(map[int]chan Event)}
	}
}

// Publish delivers an event to all current subscribers of the upload. If no
// subscriber is attached the event is dropped. A terminal event closes every
// subscriber channel and schedules the stream's release after the grace
// period.
func (b *Broker) Publish(uploadID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.uploads[uploadID]
	if !ok {
		return
	}
	if s.terminal != nil {
		return
	}

	for _, ch := range s.subs {
		sendDroppingOldest(ch, ev)
	}

	if ev.Terminal() {
		s.terminal = &ev
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		time.AfterFunc(b.cfg.GracePeriod, func() { b.Release(uploadID) })
	}
}

// Subscribe attaches to an upload's event stream. The returned channel is
// closed after the terminal event. A subscriber attaching after the job
// became terminal receives just the terminal event. The cancel function
// detaches the subscriber; ingestion is unaffected by cancellation.
func (b *Broker) Subscribe(uploadID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.uploads[uploadID]
	if !ok {
		return nil, nil, domain.ErrUploadNotFound
	}

	if s.terminal != nil {
		ch := make(chan Event, 1)
		ch <- *s.terminal
		close(ch)
		return ch, func() {}, nil
	}

	ch := make(chan Event, b.cfg.BufferSize)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.uploads[uploadID]; ok {
			if sub, ok := cur.subs[id]; ok {
				delete(cur.subs, id)
				close(sub)
			}
		}
	}
	return ch, cancel, nil
}

// Release drops an upload's stream immediately, detaching any subscribers.
func (b *Broker) Release(uploadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.uploads[uploadID]
	if !ok {
		return
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	delete(b.uploads, uploadID)
}

// sendDroppingOldest enqueues ev, evicting the oldest buffered event when the
// buffer is full. The producer holds the broker lock, so eviction cannot race
// with another producer.
func sendDroppingOldest(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
