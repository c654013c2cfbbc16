// Package notify fans sync lifecycle events out to interested listeners
// without blocking the orchestrator.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a notification for the consuming UI.
type EventType string

const (
	TypeSuccess EventType = "success"
	TypeError   EventType = "error"
	TypeInfo    EventType = "info"
	TypeWarning EventType = "warning"
)

// Event is one sync lifecycle notification. Events are not persisted;
// listeners registered after an event was emitted will not receive it.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events. A listener that blocks or panics only
// affects its own delivery goroutine.
type Listener func(Event)

// subscriber owns an unbounded event queue drained by a dedicated
// goroutine. Per-listener delivery order matches emission order, and no
// event published while the subscription is live is discarded, however
// slowly the listener consumes.
type subscriber struct {
	mu      sync.Mutex
	wake    *sync.Cond
	pending []Event
	stopped bool
}

func newSubscriber() *subscriber {
	s := &subscriber{}
	s.wake = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if !s.stopped {
		s.pending = append(s.pending, ev)
		s.wake.Signal()
	}
	s.mu.Unlock()
}

// stop ends the subscription. Events already queued are still delivered
// before the drain goroutine exits.
func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.wake.Signal()
	s.mu.Unlock()
}

// next blocks until an event is queued, or reports false once the
// subscription has stopped and the queue is empty.
func (s *subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.stopped {
		s.wake.Wait()
	}
	if len(s.pending) == 0 {
		return Event{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

// Hub is the notification fan-out. The zero value is not usable; create
// one with NewHub.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	wg sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is safe.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}

	id := h.nextID
	h.nextID++

	sub := newSubscriber()
	h.subs[id] = sub

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			ev, ok := sub.next()
			if !ok {
				return
			}
			deliver(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				s.stop()
			}
			h.mu.Unlock()
		})
	}
}

// deliver invokes a listener, containing panics so one throwing listener
// cannot halt delivery to others.
func deliver(fn Listener, ev Event) {
	defer func() {
		_ = recover()
	}()
	fn(ev)
}

// Publish emits an event to all current subscribers. Every subscriber
// eventually receives every event in emission order; Publish itself
// never blocks on a listener because each subscriber queues without
// bound until its drain goroutine catches up.
func (h *Hub) Publish(t EventType, title, message string) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      t,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ev
	}
	for _, sub := range h.subs {
		sub.push(ev)
	}
	return ev
}

// Close stops the hub. Queued events are delivered before the delivery
// goroutines exit; subsequent Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.stop()
	}
	h.mu.Unlock()

	h.wg.Wait()
}
