// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"errors"
	"math"
	"testing"

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

func TestSplitTenBytesByFour(t *testing.T) {
	data := []byte("0123456789")
	chunks, err := Split("hello.bin", data, 4, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if got := len(chunks[2].Payload); got != 2 {
		t.Errorf("last chunk is %d bytes, want 2", got)
	}
	for i, c := range chunks {
		if c.Index != uint32(i) {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.ChunkCount != 3 {
			t.Errorf("chunk %d has chunk count %d, want 3", i, c.ChunkCount)
		}
		if !c.Verify() {
			t.Errorf("chunk %d fails self-verification", i)
		}
	}

	reassembled := append(append(append([]byte{}, chunks[0].Payload...), chunks[1].Payload...), chunks[2].Payload...)
	if !bytes.Equal(reassembled, data) {
		t.Errorf("concatenated chunks = %q, want %q", reassembled, data)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	chunks, err := Split("empty", nil, 4, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("empty input yielded %d chunks, want 0", len(chunks))
	}
}

func TestSplitRejectsBadArguments(t *testing.T) {
	algorithm := testAlgorithm(t)
	if _, err := Split("x", []byte("data"), 0, algorithm); err == nil {
		t.Error("Split accepted chunk size 0")
	}
	if _, err := Split("", []byte("data"), 4, algorithm); err == nil {
		t.Error("Split accepted an empty object id")
	}
}

func TestSplitRejectsChunkCountOverflow(t *testing.T) {
	size := uint64(1)<<32 + 1
	if size > uint64(math.MaxInt) {
		t.Skip("needs a 64-bit int")
	}
	// Untouched pages, so the allocation stays virtual.
	data := make([]byte, size)
	if _, err := Split("oversized", data, 1, testAlgorithm(t)); err == nil {
		t.Error("Split accepted an input needing more chunks than the index can address")
	}
}

func TestSplitExactMultiple(t *testing.T) {
	chunks, err := Split("x", make([]byte, 8), 4, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[1].Payload) != 4 {
		t.Errorf("last chunk is %d bytes, want 4", len(chunks[1].Payload))
	}
}

func TestCount(t *testing.T) {
	cases := []struct {
		totalSize uint64
		chunkSize uint32
		want      uint32
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{10, 4, 3},
		{1 << 20, 1 << 16, 16},
	}
	for _, c := range cases {
		if got := Count(c.totalSize, c.chunkSize); got != c.want {
			t.Errorf("Count(%d, %d) = %d, want %d", c.totalSize, c.chunkSize, got, c.want)
		}
	}
}

func TestWireRoundtrip(t *testing.T) {
	chunks, err := Split("roundtrip", []byte("the quick brown fox"), 8, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	for _, compression := range []string{CompressionNone, CompressionZstd} {
		for _, original := range chunks {
			data, err := Encode(&original, compression)
			if err != nil {
				t.Fatalf("Encode(compression=%q): %v", compression, err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode(compression=%q): %v", compression, err)
			}
			if decoded.ObjectID != original.ObjectID ||
				decoded.Index != original.Index ||
				decoded.ChunkCount != original.ChunkCount ||
				decoded.Algorithm != original.Algorithm ||
				decoded.Digest != original.Digest ||
				!bytes.Equal(decoded.Payload, original.Payload) {
				t.Errorf("roundtrip mismatch for chunk %d (compression %q)", original.Index, compression)
			}
		}
	}
}

func TestWireZstdCompressesRepetitivePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 512)
	chunks, err := Split("compressible", payload, len(payload), testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	plain, err := Encode(&chunks[0], CompressionNone)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	compressed, err := Encode(&chunks[0], CompressionZstd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(compressed) >= len(plain) {
		t.Errorf("zstd message is %d bytes, plain is %d", len(compressed), len(plain))
	}

	decoded, err := Decode(compressed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Error("decompressed payload differs from original")
	}
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	algorithm := testAlgorithm(t)
	chunks, err := Split("victim", []byte("some payload bytes"), 8, algorithm)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	valid, err := Encode(&chunks[0], CompressionNone)
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

	assertFormatError("garbage", []byte("not cbor at all"))
	assertFormatError("truncated", valid[:len(valid)/2])

	// Declared payload length disagreeing with the actual payload.
	reencode := func(mutate func(*wireChunk)) []byte {
		var message wireChunk
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

	assertFormatError("length mismatch", reencode(func(m *wireChunk) { m.PayloadLen += 3 }))
	// A hostile declared length must be rejected before the decoder
	// sizes any buffer from it.
	assertFormatError("huge declared length", reencode(func(m *wireChunk) {
		m.Compression = CompressionZstd
		m.PayloadLen = 1 << 60
	}))
	assertFormatError("bad version", reencode(func(m *wireChunk) { m.Version = 9 }))
	assertFormatError("index out of range", reencode(func(m *wireChunk) { m.Index = m.ChunkCount }))
	assertFormatError("unknown algorithm", reencode(func(m *wireChunk) { m.Algorithm = "crc32" }))
	assertFormatError("short digest", reencode(func(m *wireChunk) { m.Digest = m.Digest[:8] }))
	assertFormatError("empty payload", reencode(func(m *wireChunk) { m.Payload = nil; m.PayloadLen = 0 }))
}

func TestDecodedTamperFailsVerify(t *testing.T) {
	chunks, err := Split("tamper", []byte("original payload"), 16, testAlgorithm(t))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	var message wireChunk
	encoded, _ := Encode(&chunks[0], CompressionNone)
	if err := codec.Unmarshal(encoded, &message); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	message.Payload[0] ^= 0xFF
	tampered, err := codec.Marshal(message)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Structurally valid, so Decode succeeds; the corruption must be
	// caught by Verify.
	decoded, err := Decode(tampered)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Verify() {
		t.Error("tampered chunk passed self-verification")
	}
}
