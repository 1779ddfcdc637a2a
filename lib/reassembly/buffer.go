// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package reassembly implements the destination-side chunk
// accumulator: one Buffer per in-flight object collects chunks as the
// transport delivers them — in any order, with duplicates — and
// yields the reconstructed byte stream once every index is present
// and the whole-object digest checks out.
//
// The state machine per object is
//
//	Accumulating → Complete | Abandoned
//
// with no way back: a fresh attempt at the same object starts a fresh
// Buffer. (The awaiting-manifest phase that precedes Accumulating is
// owned by the transfer session — a Buffer only exists once the
// manifest has arrived, because the manifest is what sizes it.)
package reassembly

import (
	"fmt"
	"sync"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/manifest"
)

// State is the lifecycle state of a Buffer.
type State int

const (
	// Accumulating means the manifest has arrived and chunk slots are
	// being filled.
	Accumulating State = iota

	// Complete means every chunk arrived and the whole-object digest
	// verified. Terminal.
	Complete

	// Abandoned means the transfer gave up: either the retry budget
	// ran out with slots still empty, or the reassembled bytes failed
	// the whole-object digest. Terminal.
	Abandoned
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Complete:
		return "complete"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Buffer accumulates the chunks of one object. All methods are safe
// for concurrent use: the transport may deliver chunks on multiple
// goroutines.
type Buffer struct {
	mu       sync.Mutex
	manifest *manifest.Manifest
	slots    [][]byte
	received uint32
	state    State

	// result is valid once done is closed.
	result Result
	done   chan struct{}
}

// Result is the terminal outcome of a Buffer: the reconstructed bytes
// on success, or the terminal error on abandonment.
type Result struct {
	Data []byte
	Err  error
}

// New creates a Buffer sized from the manifest. The manifest must be
// internally consistent ([manifest.Manifest.Validate]). An empty
// object (chunk count zero) completes immediately with empty bytes.
func New(m *manifest.Manifest) (*Buffer, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("reassembly: inconsistent manifest for %q: %w", m.ObjectID, err)
	}

	b := &Buffer{
		manifest: m,
		slots:    make([][]byte, m.ChunkCount),
		done:     make(chan struct{}),
	}
	if m.ChunkCount == 0 {
		b.finishComplete()
	}
	return b, nil
}

// Manifest returns the manifest this buffer was sized from.
func (b *Buffer) Manifest() *manifest.Manifest {
	return b.manifest
}

// Insert offers a received chunk to the buffer. Insertion is
// idempotent and order-independent: a duplicate of a present index is
// a no-op, and any permutation of arrivals produces the same result.
//
// A chunk failing its digest check is dropped — the slot stays empty,
// exactly as if the chunk had never arrived — and the
// [manifest.DigestMismatchError] is returned so the caller can log
// it. Filling the last empty slot triggers reassembly and the
// whole-object digest check; if that check fails the buffer
// transitions to Abandoned with a [CorruptionError].
func (b *Buffer) Insert(c *chunk.Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Accumulating {
		// Late or duplicate delivery after the transfer already
		// resolved. Not an error.
		return nil
	}

	if c.ChunkCount != b.manifest.ChunkCount {
		return fmt.Errorf("reassembly: chunk declares count %d, manifest says %d",
			c.ChunkCount, b.manifest.ChunkCount)
	}
	if err := b.manifest.VerifyChunk(c); err != nil {
		return err
	}
	if b.slots[c.Index] != nil {
		return nil
	}

	b.slots[c.Index] = c.Payload
	b.received++
	if b.received == b.manifest.ChunkCount {
		b.finishComplete()
	}
	return nil
}

// finishComplete reassembles the slots in index order and runs the
// final whole-object digest check. Caller holds b.mu (or is New,
// before the buffer escapes).
func (b *Buffer) finishComplete() {
	data := make([]byte, 0, b.manifest.TotalSize)
	for _, slot := range b.slots {
		data = append(data, slot...)
	}
	b.slots = nil

	if err := b.manifest.VerifyComplete(data); err != nil {
		// Partial re-request cannot fix a whole-object digest failure
		// when every chunk already passed its own check; the transfer
		// must be restarted from the manifest.
		b.state = Abandoned
		b.result = Result{Err: &CorruptionError{ObjectID: b.manifest.ObjectID, Cause: err}}
		close(b.done)
		return
	}

	b.state = Complete
	b.result = Result{Data: data}
	close(b.done)
}

// Abandon moves the buffer to Abandoned with the given terminal
// error, releasing the accumulated slots. A no-op if the buffer is
// already terminal.
func (b *Buffer) Abandon(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Accumulating {
		return
	}
	b.slots = nil
	b.state = Abandoned
	b.result = Result{Err: err}
	close(b.done)
}

// State returns the buffer's current state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Received returns how many distinct chunk indices are present, and
// the total the manifest calls for.
func (b *Buffer) Received() (got, want uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received, b.manifest.ChunkCount
}

// Missing returns the chunk indices not yet present, in ascending
// order. Empty once the buffer is terminal.
func (b *Buffer) Missing() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Accumulating {
		return nil
	}
	missing := make([]uint32, 0, b.manifest.ChunkCount-b.received)
	for index, slot := range b.slots {
		if slot == nil {
			missing = append(missing, uint32(index))
		}
	}
	return missing
}

// Done returns a channel closed when the buffer reaches a terminal
// state. After it closes, [Buffer.Result] returns the outcome.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Result returns the terminal outcome. Only valid after the Done
// channel has closed.
func (b *Buffer) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}
