// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package reassembly

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/digest"
	"github.com/chunkcast-net/chunkcast/lib/manifest"
)

// buildObject splits data and builds the matching manifest.
func buildObject(t *testing.T, objectID string, data []byte, chunkSize int) (*manifest.Manifest, []chunk.Chunk) {
	t.Helper()
	algorithm, err := digest.Lookup(digest.DefaultAlgorithm)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	m, err := manifest.Build(objectID, data, chunkSize, algorithm)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	chunks, err := chunk.Split(objectID, data, chunkSize, algorithm)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return m, chunks
}

func requireComplete(t *testing.T, b *Buffer, want []byte) {
	t.Helper()
	if b.State() != Complete {
		t.Fatalf("state = %v, want complete", b.State())
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("Done channel not closed for complete buffer")
	}
	result := b.Result()
	if result.Err != nil {
		t.Fatalf("result error: %v", result.Err)
	}
	if !bytes.Equal(result.Data, want) {
		t.Fatalf("reconstructed %d bytes differ from original %d bytes", len(result.Data), len(want))
	}
}

func TestInOrderDelivery(t *testing.T) {
	data := []byte("0123456789")
	m, chunks := buildObject(t, "hello.bin", data, 4)

	b, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range chunks {
		if err := b.Insert(&chunks[i]); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	requireComplete(t, b, data)
}

func TestReverseAndShuffledDelivery(t *testing.T) {
	data := []byte("0123456789")

	// Delivery order [2, 0, 1]: out of order from the first message.
	m, chunks := buildObject(t, "hello.bin", data, 4)
	b, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, index := range []int{2, 0, 1} {
		if err := b.Insert(&chunks[index]); err != nil {
			t.Fatalf("Insert(%d): %v", index, err)
		}
	}
	requireComplete(t, b, data)

	// Random permutations of a larger object, with duplicates mixed in.
	random := rand.New(rand.NewSource(1))
	large := make([]byte, 1000)
	random.Read(large)
	for trial := 0; trial < 10; trial++ {
		m, chunks := buildObject(t, "shuffled", large, 64)
		b, err := New(m)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		order := random.Perm(len(chunks))
		for _, index := range order {
			if err := b.Insert(&chunks[index]); err != nil {
				t.Fatalf("Insert(%d): %v", index, err)
			}
			// Duplicate some arrivals.
			if index%3 == 0 {
				if err := b.Insert(&chunks[index]); err != nil {
					t.Fatalf("duplicate Insert(%d): %v", index, err)
				}
			}
		}
		requireComplete(t, b, large)
	}
}

func TestDuplicateIsNoOp(t *testing.T) {
	data := []byte("abcdefgh")
	m, chunks := buildObject(t, "dup", data, 4)
	b, _ := New(m)

	for i := 0; i < 5; i++ {
		if err := b.Insert(&chunks[0]); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	got, want := b.Received()
	if got != 1 || want != 2 {
		t.Errorf("received %d/%d, want 1/2", got, want)
	}
}

func TestSelectiveLateDelivery(t *testing.T) {
	data := []byte("a ten byte")
	m, chunks := buildObject(t, "late", data, 3)
	b, _ := New(m)

	// Deliver all but index 1.
	for i := range chunks {
		if uint32(i) == 1 {
			continue
		}
		if err := b.Insert(&chunks[i]); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	missing := b.Missing()
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("missing = %v, want [1]", missing)
	}

	// The retransmitted chunk arrives on its own.
	if err := b.Insert(&chunks[1]); err != nil {
		t.Fatalf("late Insert: %v", err)
	}
	requireComplete(t, b, data)
}

func TestTamperedChunkDropped(t *testing.T) {
	data := []byte("chunk tamper test payload")
	m, chunks := buildObject(t, "tamper", data, 8)
	b, _ := New(m)

	tampered := chunks[1]
	tampered.Payload = append([]byte{}, tampered.Payload...)
	tampered.Payload[0] ^= 0xFF

	err := b.Insert(&tampered)
	if !manifest.IsDigestMismatch(err) {
		t.Fatalf("tampered insert: got %v, want DigestMismatchError", err)
	}

	// The slot must remain absent — identical to never having arrived.
	found := false
	for _, index := range b.Missing() {
		if index == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("slot 1 filled by a tampered chunk")
	}

	// The genuine chunk still completes the transfer.
	for i := range chunks {
		if err := b.Insert(&chunks[i]); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	requireComplete(t, b, data)
}

func TestWholeObjectCorruption(t *testing.T) {
	data := []byte("systemic corruption scenario")
	m, chunks := buildObject(t, "corrupt", data, 8)

	// Per-chunk digests pass but the whole-object digest cannot:
	// simulate a manifest whose object digest disagrees with its
	// chunk digests.
	m.ObjectDigest[0] ^= 0xFF

	b, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range chunks {
		if err := b.Insert(&chunks[i]); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if b.State() != Abandoned {
		t.Fatalf("state = %v, want abandoned", b.State())
	}
	result := b.Result()
	if !IsCorruption(result.Err) {
		t.Fatalf("result error = %v, want CorruptionError", result.Err)
	}
	if result.Data != nil {
		t.Error("abandoned buffer still carries data")
	}
}

func TestEmptyObjectCompletesImmediately(t *testing.T) {
	m, _ := buildObject(t, "empty", nil, 4)
	b, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	requireComplete(t, b, nil)
}

func TestAbandonReleasesState(t *testing.T) {
	data := make([]byte, 100)
	m, chunks := buildObject(t, "abandon", data, 10)
	b, _ := New(m)

	if err := b.Insert(&chunks[0]); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	cause := errors.New("retry budget exhausted")
	b.Abandon(cause)

	if b.State() != Abandoned {
		t.Fatalf("state = %v, want abandoned", b.State())
	}
	if !errors.Is(b.Result().Err, cause) {
		t.Errorf("result error = %v, want %v", b.Result().Err, cause)
	}

	// Terminal: further inserts and abandons are no-ops.
	if err := b.Insert(&chunks[1]); err != nil {
		t.Errorf("post-terminal Insert: %v", err)
	}
	b.Abandon(errors.New("second abandon"))
	if !errors.Is(b.Result().Err, cause) {
		t.Error("second Abandon overwrote the terminal result")
	}
}

func TestConcurrentInsert(t *testing.T) {
	random := rand.New(rand.NewSource(7))
	data := make([]byte, 64*1024)
	random.Read(data)
	m, chunks := buildObject(t, "concurrent", data, 1024)
	b, _ := New(m)

	// Several goroutines deliver overlapping chunk ranges, as a
	// transport with multiple notification threads would.
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < len(chunks); i++ {
				index := (i + offset) % len(chunks)
				if err := b.Insert(&chunks[index]); err != nil {
					t.Errorf("Insert(%d): %v", index, err)
					return
				}
			}
		}(worker * 16)
	}
	wg.Wait()
	requireComplete(t, b, data)
}
