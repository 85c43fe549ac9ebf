// Package events broadcasts lifecycle events to registered
// subscribers. Delivery is ordered per subject and at-least-once for
// every subscriber registered at emission time; there is no replay.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/painreview/pkg/models"
)

// Publisher fans events out to subscribers over bounded channels.
// Sequence numbers are per subject and assigned under the publisher
// lock, so per-subject delivery order is the emission order.
type Publisher struct {
	mu     sync.Mutex
	seqs   map[string]uint64
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// Subscription is one consumer's bounded event stream. Close is
// idempotent and releases the channel.
type Subscription struct {
	ch      chan models.Event
	kinds   map[models.EventKind]struct{}
	pub     *Publisher
	closed  bool
	dropped bool
}

// NewPublisher creates a publisher whose subscriber queues hold up to
// buffer events each.
func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{
		seqs:   make(map[string]uint64),
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a consumer for the given event kinds; an empty
// kind set means all kinds. Returns nil after Close.
func (p *Publisher) Subscribe(kinds ...models.EventKind) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	sub := &Subscription{
		ch:  make(chan models.Event, p.buffer),
		pub: p,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[models.EventKind]struct{}, len(kinds))
		for _, kind := range kinds {
			sub.kinds[kind] = struct{}{}
		}
	}
	p.subs[sub] = struct{}{}
	return sub
}

// Publish assigns the event's per-subject sequence number and delivers
// it to every matching subscriber. A subscriber whose queue is full is
// disconnected rather than buffered without bound.
func (p *Publisher) Publish(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.seqs[ev.Subject]++
	ev.Seq = p.seqs[ev.Subject]
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for sub := range p.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warn().
				Str("kind", string(ev.Kind)).
				Str("subject", ev.Subject).
				Msg("Disconnecting slow event subscriber")
			sub.dropped = true
			sub.closeLocked()
		}
	}
}

// Close shuts the publisher down and closes every remaining
// subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for sub := range p.subs {
		sub.closeLocked()
	}
}

func (s *Subscription) wants(kind models.EventKind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Events returns the subscriber's receive channel. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Dropped reports whether the publisher disconnected this subscriber
// for falling behind.
func (s *Subscription) Dropped() bool {
	s.pub.mu.Lock()
	defer s.pub.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.pub.mu.Lock()
	defer s.pub.mu.Unlock()
	s.closeLocked()
}

// closeLocked requires the publisher lock.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.pub.subs, s)
	close(s.ch)
}
