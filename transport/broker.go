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

// outboundBuffer is the per-connection outbound frame queue depth.
// A frame destined for a connection whose queue is full is dropped —
// delivery through the broker is best effort, matching the transport
// contract.
const outboundBuffer = 1024

// Broker is the rendezvous point of a TCP overlay: clients connect
// with [DialBroker], and the broker routes publications to matching
// subscriptions and queries to matching queryables. The broker never
// interprets payloads — chunks, manifests, and resend requests pass
// through as opaque bytes.
type Broker struct {
	listener net.Listener
	logger   *slog.Logger

	mu          sync.Mutex
	conns       map[*brokerConn]struct{}
	queries     map[uint64]*brokerQuery
	nextQueryID uint64
	closed      bool
}

// NewBroker listens on address (use ":0" for a random port). Serve
// must be called to start accepting connections.
func NewBroker(address string, logger *slog.Logger) (*Broker, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: broker listen on %q: %w", address, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		listener: listener,
		logger:   logger,
		conns:    make(map[*brokerConn]struct{}),
		queries:  make(map[uint64]*brokerQuery),
	}, nil
}

// Address returns the broker's listen address in "host:port" form.
func (b *Broker) Address() string {
	return b.listener.Addr().String()
}

// Serve accepts connections until ctx ends or Close is called.
// Returns nil on clean shutdown.
func (b *Broker) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Close()
	}()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: broker accept: %w", err)
		}

		connection := &brokerConn{
			broker:        b,
			conn:          conn,
			outbound:      make(chan *frame, outboundBuffer),
			subscriptions: make(map[uint64]string),
			queryables:    make(map[uint64]string),
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return nil
		}
		b.conns[connection] = struct{}{}
		b.mu.Unlock()

		go connection.writeLoop()
		go connection.readLoop()
	}
}

// Close shuts the broker down, dropping every connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := make([]*brokerConn, 0, len(b.conns))
	for connection := range b.conns {
		conns = append(conns, connection)
	}
	b.mu.Unlock()

	err := b.listener.Close()
	for _, connection := range conns {
		connection.conn.Close()
	}
	return err
}

// brokerQuery tracks one in-flight query: where the reply frames go
// back to, and how many responders have not yet sent their final
// frame.
type brokerQuery struct {
	origin   *brokerConn
	originID uint64

	mu         sync.Mutex
	responders map[*brokerConn]bool // true while the responder's final frame is pending
	pending    int
	resolved   bool
}

// brokerConn is one client connection's broker-side state.
type brokerConn struct {
	broker *Broker
	conn   net.Conn

	// sendMu guards outbound against a concurrent close in teardown.
	sendMu     sync.Mutex
	sendClosed bool
	outbound   chan *frame

	mu            sync.Mutex
	subscriptions map[uint64]string // subscription id → pattern
	queryables    map[uint64]string // queryable id → pattern
}

// send enqueues a frame for the connection, dropping it if the
// connection is gone or the outbound queue is full.
func (c *brokerConn) send(f *frame) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.outbound <- f:
	default:
		c.broker.logger.Warn("dropping frame for slow connection",
			"op", f.Op, "topic", f.Topic, "remote", c.conn.RemoteAddr())
	}
}

func (c *brokerConn) writeLoop() {
	for f := range c.outbound {
		if err := writeFrame(c.conn, f); err != nil {
			c.conn.Close()
			// Drain until readLoop tears the connection down.
			for range c.outbound {
			}
			return
		}
	}
}

func (c *brokerConn) readLoop() {
	defer c.teardown()

	for {
		f, err := readFrame(c.conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				c.broker.logger.Warn("connection read failed",
					"remote", c.conn.RemoteAddr(), "error", err)
			}
			return
		}

		switch f.Op {
		case opPublish:
			c.broker.route(f.Topic, f.Payload)

		case opSubscribe:
			c.mu.Lock()
			c.subscriptions[f.ID] = f.Topic
			c.mu.Unlock()

		case opUnsubscribe:
			c.mu.Lock()
			delete(c.subscriptions, f.ID)
			c.mu.Unlock()

		case opQueryable:
			c.mu.Lock()
			c.queryables[f.ID] = f.Topic
			c.mu.Unlock()

		case opUnqueryable:
			c.mu.Lock()
			delete(c.queryables, f.ID)
			c.mu.Unlock()

		case opQuery:
			c.broker.startQuery(c, f)

		case opReply:
			c.broker.forwardReply(c, f)

		default:
			c.broker.logger.Warn("unknown frame op", "op", f.Op, "remote", c.conn.RemoteAddr())
		}
	}
}

// teardown removes the connection and settles any queries it was
// involved in: queries it originated are discarded, queries it was
// answering are resolved as if it had sent its final frame.
func (c *brokerConn) teardown() {
	c.conn.Close()

	b := c.broker
	b.mu.Lock()
	delete(b.conns, c)
	var affected []*brokerQuery
	var abandonedIDs []uint64
	for id, query := range b.queries {
		if query.origin == c {
			abandonedIDs = append(abandonedIDs, id)
			continue
		}
		affected = append(affected, query)
	}
	for _, id := range abandonedIDs {
		delete(b.queries, id)
	}
	b.mu.Unlock()

	for _, query := range affected {
		b.finishResponder(query, c)
	}

	c.sendMu.Lock()
	c.sendClosed = true
	close(c.outbound)
	c.sendMu.Unlock()
}

// route delivers a publication to every matching subscription on
// every connection.
func (b *Broker) route(topic string, payload []byte) {
	b.mu.Lock()
	conns := make([]*brokerConn, 0, len(b.conns))
	for connection := range b.conns {
		conns = append(conns, connection)
	}
	b.mu.Unlock()

	for _, connection := range conns {
		connection.mu.Lock()
		var matched []uint64
		for id, pattern := range connection.subscriptions {
			if Match(pattern, topic) {
				matched = append(matched, id)
			}
		}
		connection.mu.Unlock()

		for _, id := range matched {
			connection.send(&frame{Op: opMessage, ID: id, Topic: topic, Payload: payload})
		}
	}
}

// startQuery fans a query out to every matching queryable. With no
// responders the origin gets an immediate final reply.
func (b *Broker) startQuery(origin *brokerConn, request *frame) {
	type target struct {
		connection  *brokerConn
		queryableID uint64
	}

	b.mu.Lock()
	var targets []target
	for connection := range b.conns {
		connection.mu.Lock()
		for id, pattern := range connection.queryables {
			if Match(pattern, request.Topic) {
				targets = append(targets, target{connection, id})
			}
		}
		connection.mu.Unlock()
	}

	if len(targets) == 0 {
		b.mu.Unlock()
		origin.send(&frame{Op: opReply, ID: request.ID, Final: true})
		return
	}

	b.nextQueryID++
	brokerQueryID := b.nextQueryID
	query := &brokerQuery{
		origin:     origin,
		originID:   request.ID,
		responders: make(map[*brokerConn]bool, len(targets)),
		pending:    len(targets),
	}
	for _, t := range targets {
		query.responders[t.connection] = true
	}
	b.queries[brokerQueryID] = query
	b.mu.Unlock()

	for _, t := range targets {
		t.connection.send(&frame{
			Op:      opQuery,
			ID:      brokerQueryID,
			Ref:     t.queryableID,
			Topic:   request.Topic,
			Payload: request.Payload,
		})
	}
}

// forwardReply relays a responder's reply to the query's origin, and
// resolves the query when the last responder finishes.
func (b *Broker) forwardReply(responder *brokerConn, reply *frame) {
	b.mu.Lock()
	query, ok := b.queries[reply.ID]
	b.mu.Unlock()
	if !ok {
		return
	}

	if len(reply.Payload) > 0 {
		query.origin.send(&frame{Op: opReply, ID: query.originID, Topic: reply.Topic, Payload: reply.Payload})
	}
	if reply.Final {
		b.finishResponder(query, responder)
	}
}

// finishResponder marks one responder done; the last one resolves the
// query with a final frame to the origin.
func (b *Broker) finishResponder(query *brokerQuery, responder *brokerConn) {
	query.mu.Lock()
	stillPending, involved := query.responders[responder]
	if !involved || !stillPending {
		query.mu.Unlock()
		return
	}
	query.responders[responder] = false
	query.pending--
	done := query.pending == 0 && !query.resolved
	if done {
		query.resolved = true
	}
	query.mu.Unlock()

	if !done {
		return
	}

	b.mu.Lock()
	for id, candidate := range b.queries {
		if candidate == query {
			delete(b.queries, id)
			break
		}
	}
	b.mu.Unlock()
	query.origin.send(&frame{Op: opReply, ID: query.originID, Final: true})
}
