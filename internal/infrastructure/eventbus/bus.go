// Package eventbus fans agent events out to session observers.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/safego"
)

// DefaultBufferSize bounds each subscriber's backlog.
const DefaultBufferSize = 1024

// SessionBus delivers one session's events to any number of
// subscribers. Publish order is preserved per subscriber; a slow
// subscriber loses its oldest buffered events first.
type SessionBus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool

	sessionID string
	max       int
	logger    *zap.Logger
}

func NewSessionBus(logger *zap.Logger, sessionID string, bufferSize int) *SessionBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &SessionBus{
		subs:      make(map[int]*Subscription),
		sessionID: sessionID,
		max:       bufferSize,
		logger:    logger.With(zap.String("component", "eventbus"), zap.String("session_id", sessionID)),
	}
}

// Publish appends ev to every subscriber's backlog. Never blocks.
func (b *SessionBus) Publish(ev entity.AgentEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.push(ev) {
			b.logger.Warn("Subscriber backlog full, dropped oldest event",
				zap.Int("subscriber", s.id),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}
}

// Subscribe registers a new observer. Events published after this call
// are guaranteed to reach the subscription, in publish order.
func (b *SessionBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		id:   b.nextID,
		bus:  b,
		max:  b.max,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		ch:   make(chan entity.AgentEvent),
	}
	b.nextID++
	if b.closed {
		close(s.done)
		close(s.ch)
		s.closed = true
		return s
	}
	b.subs[s.id] = s
	safego.Go(b.logger, "eventbus-pump", s.pump)
	return s
}

// Close terminates every subscription.
func (b *SessionBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[int]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.terminate()
	}
}

func (b *SessionBus) remove(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one observer's ordered feed.
type Subscription struct {
	id  int
	bus *SessionBus
	max int

	mu      sync.Mutex
	queue   []entity.AgentEvent
	dropped int
	closed  bool

	wake chan struct{}
	done chan struct{}
	ch   chan entity.AgentEvent
}

// Events is the feed. It closes when the subscription does.
func (s *Subscription) Events() <-chan entity.AgentEvent {
	return s.ch
}

// Dropped counts events lost to backlog overflow.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the observer.
func (s *Subscription) Close() {
	s.terminate()
	s.bus.remove(s.id)
}

func (s *Subscription) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// push appends ev, evicting the oldest entry when full. Reports whether
// an eviction happened.
func (s *Subscription) push(ev entity.AgentEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	evicted := false
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		s.dropped++
		evicted = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return evicted
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			s.mu.Lock()
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}
