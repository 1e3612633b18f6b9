// Package stream fan-outs committed ledger mutations to in-process
// subscribers. Display layers subscribe to react to deposits,
// withdrawals, transfers and deletions without polling the audit trail.
package stream

import (
	"context"
	"sync"
	"time"
)

// MutationEvent describes a committed balance-affecting operation.
type MutationEvent struct {
	Operation      string    `json:"operation"`
	AccountID      string    `json:"account_id"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
	Amount         int64     `json:"amount"` // minor units
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs mutation events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan MutationEvent
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan MutationEvent)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan MutationEvent {
	ch := make(chan MutationEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt MutationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
