// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*BrokerTransport)(nil)

// BrokerTransport is a Transport backed by one TCP connection to a
// [Broker]. Frames are multiplexed: subscriptions, queries, and
// queryable registrations all share the connection, distinguished by
// client-assigned ids.
type BrokerTransport struct {
	conn   net.Conn
	logger *slog.Logger

	// ctx is cancelled when the connection dies, so queryable
	// handlers doing I/O observe the shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes frame writes to the connection.
	writeMu sync.Mutex

	mu            sync.Mutex
	nextID        uint64
	subscriptions map[uint64]*brokerSubscription
	queries       map[uint64]*brokerClientQuery
	queryables    map[uint64]*brokerQueryable
	closed        bool
}

// DialBroker connects to a broker at address.
func DialBroker(ctx context.Context, address string, logger *slog.Logger) (*BrokerTransport, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing broker %q: %w", address, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	lifetime, cancel := context.WithCancel(context.Background())
	t := &BrokerTransport{
		conn:          conn,
		logger:        logger,
		ctx:           lifetime,
		cancel:        cancel,
		subscriptions: make(map[uint64]*brokerSubscription),
		queries:       make(map[uint64]*brokerClientQuery),
		queryables:    make(map[uint64]*brokerQueryable),
	}
	go t.readLoop()
	return t, nil
}

func (t *BrokerTransport) writeFrame(f *frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFrame(t.conn, f); err != nil {
		return fmt.Errorf("transport: %w", errors.Join(ErrClosed, err))
	}
	return nil
}

func (t *BrokerTransport) allocateID() uint64 {
	t.nextID++
	return t.nextID
}

func (t *BrokerTransport) Publish(_ context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if len(payload) > brokerMaxPayload {
		return fmt.Errorf("transport: payload of %d bytes exceeds broker limit %d", len(payload), brokerMaxPayload)
	}
	return t.writeFrame(&frame{Op: opPublish, Topic: topic, Payload: payload})
}

func (t *BrokerTransport) Subscribe(_ context.Context, pattern string) (Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	id := t.allocateID()
	subscription := &brokerSubscription{
		transport: t,
		id:        id,
		messages:  make(chan Message, subscriptionBuffer),
	}
	t.subscriptions[id] = subscription
	t.mu.Unlock()

	if err := t.writeFrame(&frame{Op: opSubscribe, ID: id, Topic: pattern}); err != nil {
		subscription.Close()
		return nil, err
	}
	return subscription, nil
}

func (t *BrokerTransport) Query(ctx context.Context, topic string, payload []byte) (<-chan Message, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	id := t.allocateID()
	query := &brokerClientQuery{
		replies: make(chan Message, subscriptionBuffer),
		settled: make(chan struct{}),
	}
	t.queries[id] = query
	t.mu.Unlock()

	if err := t.writeFrame(&frame{Op: opQuery, ID: id, Topic: topic, Payload: payload}); err != nil {
		t.resolveQuery(id)
		return nil, err
	}

	// A query abandoned by its context must not leak its channel
	// registration.
	go func() {
		select {
		case <-ctx.Done():
			t.resolveQuery(id)
		case <-query.settled:
		}
	}()
	return query.replies, nil
}

func (t *BrokerTransport) Queryable(_ context.Context, pattern string, handler QueryHandler) (io.Closer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	id := t.allocateID()
	queryable := &brokerQueryable{transport: t, id: id, handler: handler}
	t.queryables[id] = queryable
	t.mu.Unlock()

	if err := t.writeFrame(&frame{Op: opQueryable, ID: id, Topic: pattern}); err != nil {
		queryable.Close()
		return nil, err
	}
	return queryable, nil
}

func (t *BrokerTransport) MaxPayload() int {
	return brokerMaxPayload
}

// Close tears down the connection; the read loop releases all
// registrations.
func (t *BrokerTransport) Close() error {
	return t.conn.Close()
}

func (t *BrokerTransport) readLoop() {
	for {
		f, err := readFrame(t.conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				t.logger.Warn("broker connection read failed", "error", err)
			}
			t.shutdown()
			return
		}

		switch f.Op {
		case opMessage:
			t.mu.Lock()
			subscription := t.subscriptions[f.ID]
			t.mu.Unlock()
			if subscription == nil {
				continue
			}
			subscription.deliver(Message{Topic: f.Topic, Payload: f.Payload})

		case opReply:
			t.mu.Lock()
			query := t.queries[f.ID]
			t.mu.Unlock()
			if query == nil {
				continue
			}
			if len(f.Payload) > 0 {
				query.deliver(Message{Topic: f.Topic, Payload: f.Payload})
			}
			if f.Final {
				t.resolveQuery(f.ID)
			}

		case opQuery:
			t.mu.Lock()
			queryable := t.queryables[f.Ref]
			t.mu.Unlock()
			if queryable == nil {
				// Registration already closed: answer with an empty
				// final so the broker can resolve the query.
				go t.writeFrame(&frame{Op: opReply, ID: f.ID, Final: true})
				continue
			}
			go t.answer(queryable, f)

		default:
			t.logger.Warn("unknown frame op from broker", "op", f.Op)
		}
	}
}

// answer runs a queryable handler and streams its replies back. The
// handler gets the transport's lifetime context, so it is interrupted
// when the connection dies.
func (t *BrokerTransport) answer(queryable *brokerQueryable, request *frame) {
	payloads, err := queryable.handler(t.ctx, request.Topic, request.Payload)
	if err != nil {
		t.logger.Warn("query handler failed", "topic", request.Topic, "error", err)
	}
	for _, payload := range payloads {
		if err := t.writeFrame(&frame{Op: opReply, ID: request.ID, Topic: request.Topic, Payload: payload}); err != nil {
			return
		}
	}
	t.writeFrame(&frame{Op: opReply, ID: request.ID, Final: true})
}

// shutdown releases every registration after the connection dies.
func (t *BrokerTransport) shutdown() {
	t.cancel()
	t.mu.Lock()
	t.closed = true
	subscriptions := t.subscriptions
	queries := t.queries
	t.subscriptions = make(map[uint64]*brokerSubscription)
	t.queries = make(map[uint64]*brokerClientQuery)
	t.queryables = make(map[uint64]*brokerQueryable)
	t.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.closeChannel()
	}
	for _, query := range queries {
		query.settle()
	}
}

// resolveQuery finishes a query: deregisters it and closes its reply
// channel exactly once.
func (t *BrokerTransport) resolveQuery(id uint64) {
	t.mu.Lock()
	query := t.queries[id]
	delete(t.queries, id)
	t.mu.Unlock()
	if query != nil {
		query.settle()
	}
}

type brokerSubscription struct {
	transport *BrokerTransport
	id        uint64
	// mu guards messages against the read loop delivering while Close
	// (or shutdown) closes the channel.
	mu       sync.Mutex
	messages chan Message
	closed   bool
}

func (s *brokerSubscription) Messages() <-chan Message {
	return s.messages
}

// deliver hands a message to the subscriber without blocking. A full
// buffer drops the message, matching the broker's best-effort contract.
func (s *brokerSubscription) deliver(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- message:
	default:
	}
}

func (s *brokerSubscription) Close() error {
	s.transport.mu.Lock()
	_, registered := s.transport.subscriptions[s.id]
	delete(s.transport.subscriptions, s.id)
	s.transport.mu.Unlock()

	s.closeChannel()
	if registered {
		return s.transport.writeFrame(&frame{Op: opUnsubscribe, ID: s.id})
	}
	return nil
}

func (s *brokerSubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
}

type brokerClientQuery struct {
	// mu guards replies against the read loop delivering while settle
	// closes the channel.
	mu      sync.Mutex
	replies chan Message
	settled chan struct{}
	done    bool
}

func (q *brokerClientQuery) deliver(message Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done {
		return
	}
	select {
	case q.replies <- message:
	default:
	}
}

func (q *brokerClientQuery) settle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done {
		return
	}
	q.done = true
	close(q.settled)
	close(q.replies)
}

type brokerQueryable struct {
	transport *BrokerTransport
	id        uint64
	handler   QueryHandler
	closeOnce sync.Once
}

func (q *brokerQueryable) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.transport.mu.Lock()
		_, registered := q.transport.queryables[q.id]
		delete(q.transport.queryables, q.id)
		q.transport.mu.Unlock()
		if registered {
			err = q.transport.writeFrame(&frame{Op: opUnqueryable, ID: q.id})
		}
	})
	return err
}
