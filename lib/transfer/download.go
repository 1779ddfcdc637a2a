// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/manifest"
	"github.com/chunkcast-net/chunkcast/lib/reassembly"
	"github.com/chunkcast-net/chunkcast/transport"
)

// Download retrieves the object named objectID and returns its bytes,
// verified against the manifest's whole-object digest.
//
// The chunk subscription is established before the manifest is
// sought, so chunks already in flight are not lost. The manifest is
// acquired by query (answered by the publisher or any relay holding
// it), falling back to a live manifest publication. Once the manifest
// is known, Download requests retransmission of whatever is missing —
// immediately, then on every retry interval — until the object
// completes or the retry budget runs out.
//
// A second Download of an object id already in flight fails
// immediately rather than sharing the first call's state.
func (c *Client) Download(ctx context.Context, objectID string) ([]byte, error) {
	if objectID == "" {
		return nil, fmt.Errorf("transfer: object id is empty")
	}

	c.mu.Lock()
	if _, busy := c.downloads[objectID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("transfer: download of %q already in flight", objectID)
	}
	c.downloads[objectID] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.downloads, objectID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunksTopic := c.scheme.Chunks(objectID)
	chunkSub, err := c.transport.Subscribe(ctx, chunksTopic)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Topic: chunksTopic, Err: err}
	}
	defer chunkSub.Close()

	m, err := c.acquireManifest(ctx, objectID)
	if err != nil {
		return nil, err
	}
	buffer, err := reassembly.New(m)
	if err != nil {
		return nil, err
	}

	fatal := make(chan error, 1)
	go c.consumeChunks(ctx, chunkSub, buffer, fatal)

	requestResend := func() error {
		missing := buffer.Missing()
		if len(missing) == 0 {
			return nil
		}
		request := NewResendRequest(objectID, missing)
		payload, err := EncodeResend(request)
		if err != nil {
			return err
		}
		topic := c.scheme.Resend(objectID)
		if err := c.transport.Publish(ctx, topic, payload); err != nil {
			return &TransportError{Op: "publish", Topic: topic, Err: err}
		}
		c.logger.Debug("requested retransmission",
			"object_id", objectID,
			"request_id", request.RequestID,
			"missing", len(missing))
		return nil
	}

	abandon := func(cause error) ([]byte, error) {
		buffer.Abandon(cause)
		return nil, cause
	}

	// The initial request pulls everything not yet delivered; with a
	// relay or a publisher serving resends this doubles as the pull
	// that starts the transfer.
	if err := requestResend(); err != nil {
		return abandon(err)
	}
	requests := 1

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-buffer.Done():
			result := buffer.Result()
			if result.Err != nil {
				return nil, result.Err
			}
			got, want := buffer.Received()
			c.logger.Info("object downloaded",
				"object_id", objectID,
				"total_size", m.TotalSize,
				"chunk_count", want,
				"received", got)
			return result.Data, nil
		case <-ctx.Done():
			return abandon(ctx.Err())
		case err := <-fatal:
			return abandon(err)
		case <-ticker.C:
			if requests >= c.retryBudget {
				return abandon(&TimeoutError{ObjectID: objectID, Missing: buffer.Missing()})
			}
			if err := requestResend(); err != nil {
				return abandon(err)
			}
			requests++
		}
	}
}

// acquireManifest obtains the object's manifest, querying holders on
// every retry interval while also listening for a live publication.
func (c *Client) acquireManifest(ctx context.Context, objectID string) (*manifest.Manifest, error) {
	topic := c.scheme.Manifest(objectID)
	sub, err := c.transport.Subscribe(ctx, topic)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Topic: topic, Err: err}
	}
	defer sub.Close()

	for attempt := 0; attempt < c.retryBudget; attempt++ {
		replies, err := c.transport.Query(ctx, topic, nil)
		if err != nil {
			return nil, &TransportError{Op: "query", Topic: topic, Err: err}
		}

		wait := time.NewTimer(c.retryInterval)
	collect:
		for {
			select {
			case <-ctx.Done():
				wait.Stop()
				return nil, ctx.Err()
			case msg, ok := <-replies:
				if !ok {
					// No holder answered (yet); keep listening for a
					// live publication until the attempt expires.
					replies = nil
					continue
				}
				m, err := manifest.Decode(msg.Payload)
				if err != nil {
					wait.Stop()
					return nil, err
				}
				if m.ObjectID == objectID {
					wait.Stop()
					return m, nil
				}
			case msg, ok := <-sub.Messages():
				if !ok {
					wait.Stop()
					return nil, &TransportError{Op: "subscribe", Topic: topic, Err: transport.ErrClosed}
				}
				m, err := manifest.Decode(msg.Payload)
				if err != nil {
					wait.Stop()
					return nil, err
				}
				if m.ObjectID == objectID {
					wait.Stop()
					return m, nil
				}
			case <-wait.C:
				break collect
			}
		}
	}
	return nil, &TimeoutError{ObjectID: objectID, AwaitingManifest: true}
}

// consumeChunks feeds arriving chunks into the reassembly buffer.
// Digest mismatches are dropped (the retry schedule re-requests
// them); a structurally malformed chunk is fatal to the transfer and
// is reported on the fatal channel.
func (c *Client) consumeChunks(ctx context.Context, sub transport.Subscription, buffer *reassembly.Buffer, fatal chan<- error) {
	objectID := buffer.Manifest().ObjectID
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			ck, err := chunk.Decode(msg.Payload)
			if err != nil {
				select {
				case fatal <- err:
				default:
				}
				return
			}
			if ck.ObjectID != objectID {
				continue
			}
			if err := buffer.Insert(ck); err != nil {
				if manifest.IsDigestMismatch(err) {
					c.logger.Warn("dropping chunk with digest mismatch",
						"object_id", objectID, "index", ck.Index)
					continue
				}
				c.logger.Warn("dropping chunk rejected by reassembly",
					"object_id", objectID, "index", ck.Index, "error", err)
			}
		}
	}
}
