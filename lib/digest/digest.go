// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest provides the named digest algorithms used for chunk
// and whole-object integrity checks.
//
// The wire protocol is not hard-wired to one hash function: every
// manifest and chunk message carries the algorithm name, and both
// ends resolve it through this registry. Adding an algorithm is a
// registry entry, not a protocol change.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes. All registered algorithms
// produce 32-byte digests.
const Size = 32

// Digest is a 32-byte digest value.
type Digest [Size]byte

// String returns the hex encoding of the digest. This is the
// canonical format in log output and CLI display.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing digest %q: %w", hexString, err)
	}
	if len(decoded) != Size {
		return d, fmt.Errorf("digest is %d bytes, expected %d", len(decoded), Size)
	}
	copy(d[:], decoded)
	return d, nil
}

// FromBytes converts a raw 32-byte slice into a Digest.
func FromBytes(raw []byte) (Digest, error) {
	var d Digest
	if len(raw) != Size {
		return d, fmt.Errorf("digest is %d bytes, expected %d", len(raw), Size)
	}
	copy(d[:], raw)
	return d, nil
}

// Equal reports whether two raw digest encodings are the same value.
// Comparison is not constant-time: digests here are integrity checks
// against accidental corruption, not authentication tags.
func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// Algorithm is a named digest function.
type Algorithm struct {
	// Name is the identifier carried in manifests and chunk headers.
	Name string

	// Sum computes the digest of data.
	Sum func(data []byte) Digest
}

// DefaultAlgorithm is the algorithm used when a caller does not pick
// one explicitly.
const DefaultAlgorithm = "sha256"

var (
	registryMu sync.RWMutex
	registry   = map[string]Algorithm{
		"sha256": {Name: "sha256", Sum: sumSHA256},
		"blake3": {Name: "blake3", Sum: sumBLAKE3},
	}
)

// Lookup resolves an algorithm by its wire name. An empty name
// resolves to [DefaultAlgorithm].
func Lookup(name string) (Algorithm, error) {
	if name == "" {
		name = DefaultAlgorithm
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	algorithm, ok := registry[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("unknown digest algorithm %q", name)
	}
	return algorithm, nil
}

// Register adds an algorithm to the registry, replacing any existing
// entry with the same name. The Sum function must produce exactly
// [Size] bytes.
func Register(algorithm Algorithm) error {
	if algorithm.Name == "" {
		return fmt.Errorf("digest algorithm name is empty")
	}
	if algorithm.Sum == nil {
		return fmt.Errorf("digest algorithm %q has no Sum function", algorithm.Name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[algorithm.Name] = algorithm
	return nil
}

func sumSHA256(data []byte) Digest {
	return sha256.Sum256(data)
}

func sumBLAKE3(data []byte) Digest {
	return blake3.Sum256(data)
}
