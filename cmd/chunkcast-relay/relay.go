// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/manifest"
	"github.com/chunkcast-net/chunkcast/lib/relaystore"
	"github.com/chunkcast-net/chunkcast/lib/transfer"
	"github.com/chunkcast-net/chunkcast/transport"
)

// relay caches every manifest and chunk it observes and replays them
// on demand: it answers manifest queries and serves resend requests
// from its store, so downloads succeed after the publisher is gone.
//
// The relay never reassembles. It stores and forwards the encoded
// messages exactly as they appeared on the wire.
type relay struct {
	transport transport.Transport
	scheme    transport.Scheme
	store     *relaystore.Store
	logger    *slog.Logger

	// seen deduplicates resend requests by request id, so a request
	// that reaches the relay along several paths is served once.
	mu   sync.Mutex
	seen map[string]struct{}
}

func newRelay(tr transport.Transport, scheme transport.Scheme, store *relaystore.Store, logger *slog.Logger) *relay {
	return &relay{
		transport: tr,
		scheme:    scheme,
		store:     store,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// run subscribes to the whole object namespace and processes overlay
// traffic until ctx ends.
func (r *relay) run(ctx context.Context) error {
	pattern := r.scheme.Objects()

	queryable, err := r.transport.Queryable(ctx, pattern, r.answerQuery)
	if err != nil {
		return fmt.Errorf("registering queryable on %s: %w", pattern, err)
	}
	defer queryable.Close()

	sub, err := r.transport.Subscribe(ctx, pattern)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	defer sub.Close()

	r.logger.Info("relay running", "pattern", pattern)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return transport.ErrClosed
			}
			r.handle(ctx, msg)
		}
	}
}

// handle stores or replays one observed message. Malformed traffic is
// logged and dropped; a relay must not die because one peer is
// broken.
func (r *relay) handle(ctx context.Context, msg transport.Message) {
	role, objectID, index, err := r.scheme.Parse(msg.Topic)
	if err != nil {
		r.logger.Debug("ignoring message on unrecognized topic", "topic", msg.Topic)
		return
	}

	switch role {
	case transport.RoleManifest:
		m, err := manifest.Decode(msg.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed manifest", "topic", msg.Topic, "error", err)
			return
		}
		if m.ObjectID != objectID {
			r.logger.Warn("dropping manifest whose object id disagrees with its topic",
				"topic", msg.Topic, "object_id", m.ObjectID)
			return
		}
		if err := r.store.PutManifest(ctx, objectID, m.ChunkCount, msg.Payload); err != nil {
			r.logger.Error("storing manifest", "object_id", objectID, "error", err)
			return
		}
		r.logger.Debug("stored manifest", "object_id", objectID, "chunk_count", m.ChunkCount)

	case transport.RoleChunk:
		ck, err := chunk.Decode(msg.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed chunk", "topic", msg.Topic, "error", err)
			return
		}
		if ck.ObjectID != objectID || ck.Index != index {
			r.logger.Warn("dropping chunk whose addressing disagrees with its topic",
				"topic", msg.Topic, "object_id", ck.ObjectID, "index", ck.Index)
			return
		}
		if err := r.store.PutChunk(ctx, objectID, index, msg.Payload); err != nil {
			r.logger.Error("storing chunk", "object_id", objectID, "index", index, "error", err)
		}

	case transport.RoleResend:
		request, err := transfer.DecodeResend(msg.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed resend request", "topic", msg.Topic, "error", err)
			return
		}
		if request.ObjectID != objectID {
			return
		}
		r.serveResend(ctx, request)
	}
}

// serveResend republishes every requested chunk the store holds.
// Indices the relay lacks are skipped; some other holder may have
// them, and the requester re-asks for whatever remains missing.
func (r *relay) serveResend(ctx context.Context, request *transfer.ResendRequest) {
	r.mu.Lock()
	if _, dup := r.seen[request.RequestID]; dup {
		r.mu.Unlock()
		return
	}
	r.seen[request.RequestID] = struct{}{}
	r.mu.Unlock()

	served := 0
	for _, index := range request.Indices {
		payload, err := r.store.Chunk(ctx, request.ObjectID, index)
		if errors.Is(err, relaystore.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Error("reading chunk", "object_id", request.ObjectID, "index", index, "error", err)
			continue
		}
		topic := r.scheme.Chunk(request.ObjectID, index)
		if err := r.transport.Publish(ctx, topic, payload); err != nil {
			r.logger.Warn("republishing chunk", "topic", topic, "error", err)
			continue
		}
		served++
	}
	r.logger.Debug("served resend request",
		"object_id", request.ObjectID,
		"request_id", request.RequestID,
		"requested", len(request.Indices),
		"served", served)
}

// answerQuery replies to manifest queries from the store. Other
// queries in the object namespace yield no replies.
func (r *relay) answerQuery(ctx context.Context, topic string, payload []byte) ([][]byte, error) {
	role, objectID, _, err := r.scheme.Parse(topic)
	if err != nil || role != transport.RoleManifest {
		return nil, nil
	}
	encoded, err := r.store.Manifest(ctx, objectID)
	if errors.Is(err, relaystore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return [][]byte{encoded}, nil
}

// sweep drops objects that have not been touched within maxAge and
// trims the resend dedupe set.
func (r *relay) sweep(ctx context.Context, maxAge time.Duration) {
	r.mu.Lock()
	if len(r.seen) > 0 {
		r.seen = make(map[string]struct{})
	}
	r.mu.Unlock()

	if maxAge <= 0 {
		return
	}
	infos, err := r.store.Objects(ctx)
	if err != nil {
		r.logger.Error("listing objects for retention sweep", "error", err)
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, info := range infos {
		if info.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.store.Remove(ctx, info.ObjectID); err != nil {
			r.logger.Error("evicting object", "object_id", info.ObjectID, "error", err)
			continue
		}
		r.logger.Info("evicted stale object",
			"object_id", info.ObjectID,
			"updated_at", info.UpdatedAt)
	}
}
