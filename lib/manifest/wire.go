// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/chunkcast-net/chunkcast/lib/codec"
	"github.com/chunkcast-net/chunkcast/lib/digest"
)

// WireVersion is the manifest message format version. Decoders reject
// any other value.
const WireVersion = 1

// wireManifest is the CBOR layout of a manifest message.
type wireManifest struct {
	Version      int      `cbor:"v"`
	ObjectID     string   `cbor:"object_id"`
	TotalSize    uint64   `cbor:"total_size"`
	ChunkSize    uint32   `cbor:"chunk_size"`
	ChunkCount   uint32   `cbor:"chunk_count"`
	Algorithm    string   `cbor:"algorithm"`
	ChunkDigests [][]byte `cbor:"chunk_digests"`
	ObjectDigest []byte   `cbor:"object_digest"`
}

// Encode serializes the manifest into its wire message.
func Encode(m *Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: refusing to encode inconsistent manifest: %w", err)
	}

	chunkDigests := make([][]byte, len(m.ChunkDigests))
	for i := range m.ChunkDigests {
		chunkDigests[i] = m.ChunkDigests[i][:]
	}

	data, err := codec.Marshal(wireManifest{
		Version:      WireVersion,
		ObjectID:     m.ObjectID,
		TotalSize:    m.TotalSize,
		ChunkSize:    m.ChunkSize,
		ChunkCount:   m.ChunkCount,
		Algorithm:    m.Algorithm,
		ChunkDigests: chunkDigests,
		ObjectDigest: m.ObjectDigest[:],
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding %q: %w", m.ObjectID, err)
	}
	return data, nil
}

// Decode parses a manifest wire message and validates its internal
// consistency. Structural problems fail with a [codec.FormatError].
func Decode(data []byte) (*Manifest, error) {
	var message wireManifest
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, &codec.FormatError{Message: "manifest", Reason: "undecodable CBOR", Err: err}
	}
	if message.Version != WireVersion {
		return nil, &codec.FormatError{
			Message: "manifest",
			Reason:  fmt.Sprintf("unknown version %d", message.Version),
		}
	}

	chunkDigests := make([]digest.Digest, len(message.ChunkDigests))
	for i, raw := range message.ChunkDigests {
		d, err := digest.FromBytes(raw)
		if err != nil {
			return nil, &codec.FormatError{
				Message: "manifest",
				Reason:  fmt.Sprintf("bad digest length at index %d", i),
				Err:     err,
			}
		}
		chunkDigests[i] = d
	}
	objectDigest, err := digest.FromBytes(message.ObjectDigest)
	if err != nil {
		return nil, &codec.FormatError{Message: "manifest", Reason: "bad object digest length", Err: err}
	}

	m := &Manifest{
		ObjectID:     message.ObjectID,
		TotalSize:    message.TotalSize,
		ChunkSize:    message.ChunkSize,
		ChunkCount:   message.ChunkCount,
		Algorithm:    message.Algorithm,
		ChunkDigests: chunkDigests,
		ObjectDigest: objectDigest,
	}
	if err := m.Validate(); err != nil {
		return nil, &codec.FormatError{Message: "manifest", Reason: "inconsistent manifest", Err: err}
	}
	return m, nil
}
