// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Message is one delivered publication or query reply.
type Message struct {
	// Topic is the concrete topic the payload was published under.
	Topic string

	// Payload is the opaque message bytes.
	Payload []byte
}

// Subscription is a live subscription to a topic pattern.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription is closed or the transport shuts down.
	Messages() <-chan Message

	// Close cancels the subscription and releases its resources.
	Close() error
}

// QueryHandler answers a query addressed to a matching topic. It
// returns zero or more reply payloads. Handlers may be invoked
// concurrently.
type QueryHandler func(ctx context.Context, topic string, payload []byte) ([][]byte, error)

// Transport is the pub/sub substrate the transfer core runs over.
type Transport interface {
	// Publish sends payload under topic to all current subscribers of
	// matching patterns. Best effort: no receipt guarantee.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers interest in all topics matching pattern.
	Subscribe(ctx context.Context, pattern string) (Subscription, error)

	// Query sends a request to all queryables matching topic and
	// returns a channel of their replies. The channel is closed once
	// every responder has finished or ctx ends. A query with no
	// matching queryable yields a closed, empty channel.
	Query(ctx context.Context, topic string, payload []byte) (<-chan Message, error)

	// Queryable registers a handler answering queries whose topic
	// matches pattern. Close the returned closer to deregister.
	Queryable(ctx context.Context, pattern string, handler QueryHandler) (io.Closer, error)

	// MaxPayload returns the largest payload, in bytes, this
	// transport can carry in one message. Chunk sizes must be
	// validated against this before splitting.
	MaxPayload() int

	// Close shuts the transport down, closing all subscriptions.
	Close() error
}

// ErrClosed is returned by operations on a transport that has been
// closed.
var ErrClosed = errors.New("transport: closed")

// Match reports whether topic matches pattern. A pattern is either a
// concrete topic (exact match) or ends in "/**", matching the prefix
// itself and every topic below it.
func Match(pattern, topic string) bool {
	prefix, ok := strings.CutSuffix(pattern, "/**")
	if !ok {
		return pattern == topic
	}
	return topic == prefix || strings.HasPrefix(topic, prefix+"/")
}

// ValidateTopic rejects topics that would confuse pattern matching:
// empty topics, empty segments, and wildcard segments in a concrete
// topic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("transport: empty topic")
	}
	for _, segment := range strings.Split(topic, "/") {
		if segment == "" {
			return fmt.Errorf("transport: topic %q has an empty segment", topic)
		}
		if segment == "*" || segment == "**" {
			return fmt.Errorf("transport: topic %q contains a wildcard segment", topic)
		}
	}
	return nil
}
