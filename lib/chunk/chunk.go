// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk implements the chunk codec: splitting an object's
// bytes into fixed-size, independently addressable chunks, and the
// wire format each chunk travels in.
//
// Chunks are immutable once created. A chunk's index fully determines
// its position in the object's byte stream (byte offset is
// index * chunk size), so a receiver can reassemble from any arrival
// order.
package chunk

import (
	"fmt"
	"math"

	"github.com/chunkcast-net/chunkcast/lib/digest"
)

// Chunk is one bounded-size fragment of an object's byte stream.
type Chunk struct {
	// ObjectID is the logical name the object is addressed under.
	ObjectID string

	// Index is the chunk's position, in [0, ChunkCount).
	Index uint32

	// ChunkCount is the total number of chunks in the object.
	ChunkCount uint32

	// Payload is the chunk's bytes. Every chunk except the last has
	// exactly the object's chunk size; the last may be shorter, but
	// never empty.
	Payload []byte

	// Algorithm names the digest algorithm for Digest.
	Algorithm string

	// Digest is the digest of Payload under Algorithm.
	Digest digest.Digest
}

// Verify recomputes the payload digest and reports whether it matches
// the digest the chunk was created with. A false result means the
// payload was corrupted or tampered with after creation.
func (c *Chunk) Verify() bool {
	algorithm, err := digest.Lookup(c.Algorithm)
	if err != nil {
		return false
	}
	return algorithm.Sum(c.Payload) == c.Digest
}

// Split divides data into chunks of at most chunkSize bytes, indexed
// 0..n-1 in byte order. The split is deterministic: the same input
// always yields the same chunks. Empty input yields no chunks — an
// empty-object transfer carries only a manifest.
func Split(objectID string, data []byte, chunkSize int, algorithm digest.Algorithm) ([]Chunk, error) {
	if objectID == "" {
		return nil, fmt.Errorf("chunk: object id is empty")
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk: chunk size %d is invalid (minimum 1)", chunkSize)
	}

	total := (uint64(len(data)) + uint64(chunkSize) - 1) / uint64(chunkSize)
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("chunk: %d bytes at chunk size %d needs %d chunks, exceeding the index space", len(data), chunkSize, total)
	}
	count := uint32(total)
	if count == 0 {
		return nil, nil
	}

	chunks := make([]Chunk, 0, count)
	for index := uint32(0); index < count; index++ {
		start := int(index) * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		payload := data[start:end]
		chunks = append(chunks, Chunk{
			ObjectID:   objectID,
			Index:      index,
			ChunkCount: count,
			Payload:    payload,
			Algorithm:  algorithm.Name,
			Digest:     algorithm.Sum(payload),
		})
	}
	return chunks, nil
}

// Count returns the number of chunks an object of totalSize bytes
// splits into at the given chunk size: ceil(totalSize / chunkSize).
func Count(totalSize uint64, chunkSize uint32) uint32 {
	if totalSize == 0 {
		return 0
	}
	return uint32((totalSize + uint64(chunkSize) - 1) / uint64(chunkSize))
}
