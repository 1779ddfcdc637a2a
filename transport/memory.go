// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// subscriptionBuffer is the per-subscription delivery channel depth.
// A publication to a subscriber whose buffer is full is dropped —
// the transport contract is best effort, and the transfer core's
// retransmission path recovers dropped chunks.
const subscriptionBuffer = 256

// memoryMaxPayload is deliberately generous: an in-process transport
// has no real framing limit, but reporting one keeps chunk-size
// validation meaningful in tests.
const memoryMaxPayload = 16 * 1024 * 1024

// MemoryTransport is an in-process Transport. Publications are
// fanned out to matching subscribers on the publisher's goroutine;
// queries run their handlers on fresh goroutines. Multiple transfer
// clients and a relay can share one MemoryTransport to form a
// single-process overlay, which is how the tests exercise the full
// protocol without networking.
type MemoryTransport struct {
	mu          sync.Mutex
	subscribers map[*memorySubscription]struct{}
	queryables  map[*memoryQueryable]struct{}
	closed      bool
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subscribers: make(map[*memorySubscription]struct{}),
		queryables:  make(map[*memoryQueryable]struct{}),
	}
}

func (t *MemoryTransport) Publish(_ context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(t.subscribers))
	for subscription := range t.subscribers {
		if Match(subscription.pattern, topic) {
			targets = append(targets, subscription)
		}
	}
	t.mu.Unlock()

	message := Message{Topic: topic, Payload: payload}
	for _, subscription := range targets {
		subscription.deliver(message)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, pattern string) (Subscription, error) {
	subscription := &memorySubscription{
		transport: t,
		pattern:   pattern,
		messages:  make(chan Message, subscriptionBuffer),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.subscribers[subscription] = struct{}{}
	return subscription, nil
}

func (t *MemoryTransport) Query(ctx context.Context, topic string, payload []byte) (<-chan Message, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	responders := make([]*memoryQueryable, 0, len(t.queryables))
	for queryable := range t.queryables {
		if Match(queryable.pattern, topic) {
			responders = append(responders, queryable)
		}
	}
	t.mu.Unlock()

	replies := make(chan Message, subscriptionBuffer)
	var pending sync.WaitGroup
	for _, responder := range responders {
		pending.Add(1)
		go func(responder *memoryQueryable) {
			defer pending.Done()
			payloads, err := responder.handler(ctx, topic, payload)
			if err != nil {
				// A failing responder contributes nothing; the query
				// resolves from the remaining responders.
				return
			}
			for _, reply := range payloads {
				select {
				case replies <- Message{Topic: topic, Payload: reply}:
				case <-ctx.Done():
					return
				}
			}
		}(responder)
	}
	go func() {
		pending.Wait()
		close(replies)
	}()
	return replies, nil
}

func (t *MemoryTransport) Queryable(_ context.Context, pattern string, handler QueryHandler) (io.Closer, error) {
	queryable := &memoryQueryable{transport: t, pattern: pattern, handler: handler}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.queryables[queryable] = struct{}{}
	return queryable, nil
}

func (t *MemoryTransport) MaxPayload() int {
	return memoryMaxPayload
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subscribers := t.subscribers
	t.subscribers = nil
	t.queryables = nil
	t.mu.Unlock()

	for subscription := range subscribers {
		subscription.closeChannel()
	}
	return nil
}

type memorySubscription struct {
	transport *MemoryTransport
	pattern   string

	// mu guards messages against a publisher delivering while Close
	// (or the transport's Close) closes the channel. Deliveries and
	// the close serialize on it; a send never races the close.
	mu       sync.Mutex
	messages chan Message
	closed   bool
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.messages
}

func (s *memorySubscription) deliver(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- message:
	default:
		// Slow subscriber: drop, best effort.
	}
}

func (s *memorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
}

func (s *memorySubscription) Close() error {
	s.transport.mu.Lock()
	if s.transport.subscribers != nil {
		delete(s.transport.subscribers, s)
	}
	s.transport.mu.Unlock()

	s.closeChannel()
	return nil
}

type memoryQueryable struct {
	transport *MemoryTransport
	pattern   string
	handler   QueryHandler
	closeOnce sync.Once
}

func (q *memoryQueryable) Close() error {
	q.closeOnce.Do(func() {
		q.transport.mu.Lock()
		defer q.transport.mu.Unlock()
		if q.transport.closed {
			return
		}
		delete(q.transport.queryables, q)
	})
	return nil
}
