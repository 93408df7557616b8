package marketdata

import (
	"github.com/google/uuid"
)

// subscriptionState tracks the live-subscription state machine:
// registered (catching up) -> live -> closed. A subscription never skips
// catch-up when a historical gap exists; catch-up and live delivery may
// interleave in time but never in the values delivered, because every push is
// deduplicated against lastSent.
type subscriptionState uint8

const (
	subscriptionCatchingUp subscriptionState = iota
	subscriptionLive
	subscriptionClosed
)

// subscription is one (index, subscriber) live registration for a single data
// kind. It is owned by the relay worker its index hashes to.
type subscription[T any] struct {
	id         uuid.UUID
	subscriber Subscriber
	policy     InterruptionPolicy
	state      subscriptionState

	// allowed evaluates per-value entitlement and the query's origin filter.
	allowed func(SequencedValue[T]) bool
	// wrap builds the index-tagged value handed to the session transport.
	wrap func(SequencedValue[T]) any

	// restart re-runs the bootstrap reads, used when an interruption policy
	// of Recover sends the subscription back into catch-up.
	restart func()

	// pending buffers live pushes arriving while the catch-up query drains.
	pending  []SequencedValue[T]
	lastSent Sequence
}

// SubscriptionInterrupted notifies a session that its subscription lost the
// upstream source feeding it and was closed under InterruptionBreak.
type SubscriptionInterrupted struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Source         SourceID  `json:"source"`
}

// SubscriptionFailed notifies a session that the bootstrap read behind its
// subscription failed and the subscription was torn down.
type SubscriptionFailed struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Reason         string    `json:"reason"`
}

// close marks the subscription dead. The owning worker prunes it on the next
// delivery pass.
func (s *subscription[T]) close() {
	if s.state != subscriptionClosed {
		s.state = subscriptionClosed
		liveSubscriptions.Dec()
	}
}

// push delivers one value to a live subscription, applying entitlement
// filtering and Sequence deduplication. Buffered instead when still catching
// up. Returns false once the subscription is closed.
func (s *subscription[T]) push(value SequencedValue[T]) bool {
	switch s.state {
	case subscriptionClosed:
		return false
	case subscriptionCatchingUp:
		s.pending = append(s.pending, value)
		return true
	}
	return s.deliver(value)
}

// deliver sends one value immediately, honoring allowed and lastSent.
func (s *subscription[T]) deliver(value SequencedValue[T]) bool {
	if s.state == subscriptionClosed {
		return false
	}
	if value.Sequence <= s.lastSent {
		return true
	}
	if !s.allowed(value) {
		unentitledDrops.Inc()
		return true
	}
	if err := s.subscriber.Send(s.wrap(value)); err != nil {
		sendFailures.Inc()
		s.close()
		return false
	}
	s.lastSent = value.Sequence
	return true
}

// activate transitions the subscription to live and drains the catch-up
// results together with the buffered live pushes as one ascending-Sequence
// stream. Pushes sequenced between registration and the snapshot read land in
// pending with ordinals below the snapshot tail, so draining tail-first would
// leave them permanently behind the lastSent cursor; merging first keeps
// delivery gapless, and the cursor still drops any ordinal seen on both
// paths.
func (s *subscription[T]) activate(catchUp []SequencedValue[T]) {
	if s.state != subscriptionCatchingUp {
		return
	}
	s.state = subscriptionLive
	pending := s.pending
	s.pending = nil
	for _, value := range mergeBySequence(catchUp, pending) {
		if !s.deliver(value) {
			return
		}
	}
}

// prune drops closed subscriptions from a worker's registration list.
func prune[T any](subs []*subscription[T]) []*subscription[T] {
	kept := subs[:0]
	for _, sub := range subs {
		if sub.state != subscriptionClosed {
			kept = append(kept, sub)
		}
	}
	return kept
}

// fanOut pushes one value to every registered subscription and prunes the
// ones that closed while delivering.
func fanOut[T any](subs []*subscription[T], value SequencedValue[T]) []*subscription[T] {
	kept := subs[:0]
	for _, sub := range subs {
		sub.push(value)
		if sub.state != subscriptionClosed {
			kept = append(kept, sub)
		}
	}
	return kept
}
