// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/manifest"
	"github.com/chunkcast-net/chunkcast/transport"
)

// Upload splits data once, publishes the object's manifest, then
// publishes every chunk in index order. It returns the manifest so
// the caller can serve retransmissions with [Client.ServeResends].
//
// The manifest goes out first so a downloader that sees any chunk can
// already size its reassembly state; late manifest arrival is still
// handled on the download side via queries.
func (c *Client) Upload(ctx context.Context, objectID string, data []byte) (*manifest.Manifest, error) {
	m, err := manifest.Build(objectID, data, c.chunkSize, c.algorithm)
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.Split(objectID, data, c.chunkSize, c.algorithm)
	if err != nil {
		return nil, err
	}

	manifestTopic := c.scheme.Manifest(objectID)
	encoded, err := manifest.Encode(m)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Publish(ctx, manifestTopic, encoded); err != nil {
		return nil, &TransportError{Op: "publish", Topic: manifestTopic, Err: err}
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.publishChunk(ctx, &chunks[i]); err != nil {
			return nil, err
		}
	}

	c.logger.Info("object published",
		"object_id", objectID,
		"total_size", m.TotalSize,
		"chunk_count", m.ChunkCount)
	return m, nil
}

func (c *Client) publishChunk(ctx context.Context, ck *chunk.Chunk) error {
	encoded, err := chunk.Encode(ck, c.compression)
	if err != nil {
		return err
	}
	topic := c.scheme.Chunk(ck.ObjectID, ck.Index)
	if err := c.transport.Publish(ctx, topic, encoded); err != nil {
		return &TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// ServeResends keeps the uploaded object available for selective
// retransmission: it answers manifest queries and republishes the
// chunks named in resend requests, until ctx ends.
//
// Requests are deduplicated by request id, so a request relayed along
// several paths triggers one republication. Indices outside the
// object's range are ignored.
func (c *Client) ServeResends(ctx context.Context, m *manifest.Manifest, data []byte) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if uint64(len(data)) != m.TotalSize {
		return fmt.Errorf("transfer: data length %d does not match manifest total size %d", len(data), m.TotalSize)
	}
	chunks, err := chunk.Split(m.ObjectID, data, int(m.ChunkSize), c.algorithm)
	if err != nil {
		return err
	}
	encodedManifest, err := manifest.Encode(m)
	if err != nil {
		return err
	}

	queryable, err := c.transport.Queryable(ctx, c.scheme.Manifest(m.ObjectID),
		func(ctx context.Context, topic string, payload []byte) ([][]byte, error) {
			return [][]byte{encodedManifest}, nil
		})
	if err != nil {
		return &TransportError{Op: "queryable", Topic: c.scheme.Manifest(m.ObjectID), Err: err}
	}
	defer queryable.Close()

	resendTopic := c.scheme.Resend(m.ObjectID)
	sub, err := c.transport.Subscribe(ctx, resendTopic)
	if err != nil {
		return &TransportError{Op: "subscribe", Topic: resendTopic, Err: err}
	}
	defer sub.Close()

	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return transport.ErrClosed
			}
			request, err := DecodeResend(msg.Payload)
			if err != nil {
				c.logger.Warn("dropping malformed resend request",
					"object_id", m.ObjectID, "error", err)
				continue
			}
			if request.ObjectID != m.ObjectID {
				continue
			}
			if _, dup := seen[request.RequestID]; dup {
				continue
			}
			seen[request.RequestID] = struct{}{}

			c.logger.Debug("serving resend request",
				"object_id", m.ObjectID,
				"request_id", request.RequestID,
				"indices", len(request.Indices))
			for _, index := range request.Indices {
				if index >= m.ChunkCount {
					continue
				}
				if err := c.publishChunk(ctx, &chunks[index]); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					c.logger.Warn("resend publish failed",
						"object_id", m.ObjectID, "index", index, "error", err)
				}
			}
		}
	}
}
