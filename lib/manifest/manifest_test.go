// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/codec"
	"github.com/chunkcast-net/chunkcast/lib/digest"
)

func testAlgorithm(t *testing.T) digest.Algorithm {
	t.Helper()
	algorithm, err := digest.Lookup(digest.DefaultAlgorithm)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return algorithm
}

func TestBuildTenBytesByFour(t *testing.T) {
	m, err := Build("hello.bin", []byte("0123456789"), 4, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ChunkCount != 3 {
		t.Errorf("chunk count = %d, want 3", m.ChunkCount)
	}
	if len(m.ChunkDigests) != 3 {
		t.Errorf("len(chunk digests) = %d, want 3", len(m.ChunkDigests))
	}
	if m.TotalSize != 10 {
		t.Errorf("total size = %d, want 10", m.TotalSize)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildEmptyObject(t *testing.T) {
	m, err := Build("empty", nil, 4, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ChunkCount != 0 {
		t.Errorf("chunk count = %d, want 0", m.ChunkCount)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := m.VerifyComplete(nil); err != nil {
		t.Errorf("VerifyComplete(empty): %v", err)
	}
}

func TestVerifyChunkAgreesWithSplit(t *testing.T) {
	algorithm := testAlgorithm(t)
	data := []byte("a slightly longer test object payload")

	m, err := Build("obj", data, 8, algorithm)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	chunks, err := chunk.Split("obj", data, 8, algorithm)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if uint32(len(chunks)) != m.ChunkCount {
		t.Fatalf("split produced %d chunks, manifest says %d", len(chunks), m.ChunkCount)
	}
	for i := range chunks {
		if err := m.VerifyChunk(&chunks[i]); err != nil {
			t.Errorf("VerifyChunk(%d): %v", i, err)
		}
	}
}

func TestVerifyChunkRejections(t *testing.T) {
	algorithm := testAlgorithm(t)
	data := []byte("payload under test")
	m, _ := Build("obj", data, 8, algorithm)
	chunks, _ := chunk.Split("obj", data, 8, algorithm)

	// Tampered payload: digest mismatch, not an out-of-range error.
	tampered := chunks[0]
	tampered.Payload = append([]byte{}, tampered.Payload...)
	tampered.Payload[0] ^= 0xFF
	err := m.VerifyChunk(&tampered)
	if !IsDigestMismatch(err) {
		t.Errorf("tampered chunk: got %v, want DigestMismatchError", err)
	}

	// Wrong object.
	wrongObject := chunks[0]
	wrongObject.ObjectID = "other"
	if err := m.VerifyChunk(&wrongObject); err == nil || IsDigestMismatch(err) {
		t.Errorf("wrong object id: got %v, want a non-mismatch error", err)
	}

	// Out-of-range index.
	outOfRange := chunks[0]
	outOfRange.Index = m.ChunkCount
	if err := m.VerifyChunk(&outOfRange); err == nil || IsDigestMismatch(err) {
		t.Errorf("out-of-range index: got %v, want a non-mismatch error", err)
	}
}

func TestVerifyComplete(t *testing.T) {
	data := []byte("whole object bytes")
	m, _ := Build("obj", data, 5, testAlgorithm(t))

	if err := m.VerifyComplete(data); err != nil {
		t.Errorf("VerifyComplete(original): %v", err)
	}

	corrupted := append([]byte{}, data...)
	corrupted[3] ^= 0x01
	if err := m.VerifyComplete(corrupted); err == nil {
		t.Error("VerifyComplete accepted corrupted bytes")
	}
	if err := m.VerifyComplete(data[:len(data)-1]); err == nil {
		t.Error("VerifyComplete accepted truncated bytes")
	}
}

func TestWireRoundtrip(t *testing.T) {
	original, err := Build("round/trip.bin", bytes.Repeat([]byte("xyz"), 100), 64, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.ObjectID != original.ObjectID ||
		decoded.TotalSize != original.TotalSize ||
		decoded.ChunkSize != original.ChunkSize ||
		decoded.ChunkCount != original.ChunkCount ||
		decoded.Algorithm != original.Algorithm ||
		decoded.ObjectDigest != original.ObjectDigest {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	for i := range original.ChunkDigests {
		if decoded.ChunkDigests[i] != original.ChunkDigests[i] {
			t.Errorf("chunk digest %d differs after roundtrip", i)
		}
	}
}

func TestDecodeRejectsInconsistentManifest(t *testing.T) {
	original, _ := Build("obj", []byte("0123456789"), 4, testAlgorithm(t))
	valid, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	assertFormatError := func(name string, data []byte) {
		t.Helper()
		_, err := Decode(data)
		var formatErr *codec.FormatError
		if !errors.As(err, &formatErr) {
			t.Errorf("%s: got %v, want FormatError", name, err)
		}
	}

	assertFormatError("garbage", []byte("garbage"))

	reencode := func(mutate func(*wireManifest)) []byte {
		var message wireManifest
		if err := codec.Unmarshal(valid, &message); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		mutate(&message)
		data, err := codec.Marshal(message)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}

	// chunk_count disagreeing with ceil(total_size / chunk_size).
	assertFormatError("bad chunk count", reencode(func(m *wireManifest) { m.ChunkCount = 7 }))
	// Digest list shorter than chunk_count.
	assertFormatError("missing digests", reencode(func(m *wireManifest) { m.ChunkDigests = m.ChunkDigests[:1] }))
	assertFormatError("bad version", reencode(func(m *wireManifest) { m.Version = 2 }))
	assertFormatError("unknown algorithm", reencode(func(m *wireManifest) { m.Algorithm = "crc32" }))
}
