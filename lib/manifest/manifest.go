// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest implements the object manifest: the metadata record
// describing an object's identity, size, chunking parameters, and
// integrity digests. A manifest is computed once at the source before
// the first chunk is sent, is immutable thereafter, and is the
// receiver's sole authority on what a complete, correct object looks
// like.
package manifest

import (
	"fmt"
	"math"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/digest"
)

// Manifest describes one object and all of its chunks.
type Manifest struct {
	// ObjectID is the logical name the object is addressed under.
	ObjectID string

	// TotalSize is the object's size in bytes.
	TotalSize uint64

	// ChunkSize is the size every chunk except the last was split at.
	ChunkSize uint32

	// ChunkCount is the number of chunks: ceil(TotalSize / ChunkSize).
	// Zero for an empty object.
	ChunkCount uint32

	// Algorithm names the digest algorithm for all digests below.
	Algorithm string

	// ChunkDigests holds one digest per chunk, in index order.
	ChunkDigests []digest.Digest

	// ObjectDigest is the digest over the object's full byte stream.
	ObjectDigest digest.Digest
}

// Build computes the manifest for data split at chunkSize. The
// per-chunk digests are computed over the same slices [chunk.Split]
// produces, so a manifest built here verifies chunks split there.
func Build(objectID string, data []byte, chunkSize int, algorithm digest.Algorithm) (*Manifest, error) {
	if objectID == "" {
		return nil, fmt.Errorf("manifest: object id is empty")
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("manifest: chunk size %d is invalid (minimum 1)", chunkSize)
	}

	total := (uint64(len(data)) + uint64(chunkSize) - 1) / uint64(chunkSize)
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("manifest: %d bytes at chunk size %d needs %d chunks, exceeding the index space", len(data), chunkSize, total)
	}
	count := uint32(total)
	chunkDigests := make([]digest.Digest, 0, count)
	for index := uint32(0); index < count; index++ {
		start := int(index) * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunkDigests = append(chunkDigests, algorithm.Sum(data[start:end]))
	}

	return &Manifest{
		ObjectID:     objectID,
		TotalSize:    uint64(len(data)),
		ChunkSize:    uint32(chunkSize),
		ChunkCount:   count,
		Algorithm:    algorithm.Name,
		ChunkDigests: chunkDigests,
		ObjectDigest: algorithm.Sum(data),
	}, nil
}

// Validate checks the manifest's internal consistency.
func (m *Manifest) Validate() error {
	if m.ObjectID == "" {
		return fmt.Errorf("object id is empty")
	}
	if m.ChunkCount > 0 && m.ChunkSize == 0 {
		return fmt.Errorf("chunk size is zero with chunk count %d", m.ChunkCount)
	}
	if m.ChunkSize > 0 {
		if want := chunk.Count(m.TotalSize, m.ChunkSize); m.ChunkCount != want {
			return fmt.Errorf("chunk count %d inconsistent with size %d / chunk size %d (want %d)",
				m.ChunkCount, m.TotalSize, m.ChunkSize, want)
		}
	} else if m.TotalSize != 0 {
		return fmt.Errorf("total size %d with zero chunk size", m.TotalSize)
	}
	if uint32(len(m.ChunkDigests)) != m.ChunkCount {
		return fmt.Errorf("%d chunk digests for chunk count %d", len(m.ChunkDigests), m.ChunkCount)
	}
	if _, err := digest.Lookup(m.Algorithm); err != nil {
		return err
	}
	return nil
}

// VerifyChunk checks a candidate chunk against the manifest: the
// index must be in range and the chunk's digest must equal the digest
// recorded for that index. A mismatch is a corruption signal, distinct
// from "chunk missing" — the caller treats the chunk as never having
// arrived.
func (m *Manifest) VerifyChunk(c *chunk.Chunk) error {
	if c.ObjectID != m.ObjectID {
		return fmt.Errorf("chunk belongs to %q, manifest describes %q", c.ObjectID, m.ObjectID)
	}
	if c.Index >= m.ChunkCount {
		return fmt.Errorf("chunk index %d out of range (chunk count %d)", c.Index, m.ChunkCount)
	}
	if !c.Verify() || c.Digest != m.ChunkDigests[c.Index] {
		return &DigestMismatchError{ObjectID: m.ObjectID, Index: c.Index}
	}
	return nil
}

// VerifyComplete checks the whole-object digest over the reassembled
// byte stream. This is the final integrity gate before the bytes are
// handed back to the caller.
func (m *Manifest) VerifyComplete(data []byte) error {
	if uint64(len(data)) != m.TotalSize {
		return fmt.Errorf("reassembled %d bytes, manifest declares %d", len(data), m.TotalSize)
	}
	algorithm, err := digest.Lookup(m.Algorithm)
	if err != nil {
		return err
	}
	if algorithm.Sum(data) != m.ObjectDigest {
		return fmt.Errorf("whole-object digest mismatch for %q", m.ObjectID)
	}
	return nil
}
