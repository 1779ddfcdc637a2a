// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer orchestrates uploads and downloads over the
// pub/sub transport: splitting and publishing at the source, manifest
// discovery, chunk accumulation, and selective retransmission at the
// destination.
//
// Every transfer resolves exactly once — with the object's bytes or
// with one of the terminal error kinds ([codec.FormatError],
// [reassembly.CorruptionError], [TimeoutError], [TransportError]).
package transfer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chunkcast-net/chunkcast/lib/digest"
	"github.com/chunkcast-net/chunkcast/transport"
)

// DefaultChunkSize is the chunk size used when the caller does not
// pick one.
const DefaultChunkSize = 1024 * 1024 // 1 MiB

// wireOverhead is the headroom reserved for the chunk message
// envelope (CBOR map keys, object id, digest) when validating the
// chunk size against the transport's payload ceiling. Generous: the
// envelope is far smaller unless object ids are pathological.
const wireOverhead = 4 * 1024

// Defaults for the retransmission schedule.
const (
	DefaultRetryInterval = 2 * time.Second
	DefaultRetryBudget   = 5
)

// Config configures a transfer Client.
type Config struct {
	// Transport is the pub/sub substrate. Required.
	Transport transport.Transport

	// Scheme maps object ids onto topics. The zero value uses the
	// default topic root.
	Scheme transport.Scheme

	// ChunkSize is the split size in bytes. Zero means
	// [DefaultChunkSize]. Validated against Transport.MaxPayload.
	ChunkSize int

	// Algorithm names the digest algorithm. Empty means the registry
	// default.
	Algorithm string

	// Compression is the chunk payload compression on the wire:
	// chunk.CompressionNone or chunk.CompressionZstd.
	Compression string

	// RetryInterval is the pause between retransmission requests
	// while a download is incomplete. Zero means
	// [DefaultRetryInterval].
	RetryInterval time.Duration

	// RetryBudget is how many retransmission requests a download may
	// issue before abandoning with a TimeoutError. Zero means
	// [DefaultRetryBudget].
	RetryBudget int

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Client performs uploads and downloads. Safe for concurrent use;
// concurrent transfers of distinct object ids proceed independently.
type Client struct {
	transport     transport.Transport
	scheme        transport.Scheme
	chunkSize     int
	algorithm     digest.Algorithm
	compression   string
	retryInterval time.Duration
	retryBudget   int
	logger        *slog.Logger

	// downloads marks the object ids with a download in flight. One
	// download per object id at a time: reassembly state is never
	// shared across transfers.
	mu        sync.Mutex
	downloads map[string]struct{}
}

// New creates a Client, applying defaults and validating the chunk
// size against the transport's payload ceiling.
func New(config Config) (*Client, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transfer: Transport is required")
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("transfer: chunk size %d is invalid (minimum 1)", chunkSize)
	}
	if ceiling := config.Transport.MaxPayload() - wireOverhead; chunkSize > ceiling {
		return nil, fmt.Errorf("transfer: chunk size %d exceeds transport ceiling %d", chunkSize, ceiling)
	}

	algorithm, err := digest.Lookup(config.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	retryInterval := config.RetryInterval
	if retryInterval == 0 {
		retryInterval = DefaultRetryInterval
	}
	retryBudget := config.RetryBudget
	if retryBudget == 0 {
		retryBudget = DefaultRetryBudget
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		transport:     config.Transport,
		scheme:        config.Scheme,
		chunkSize:     chunkSize,
		algorithm:     algorithm,
		compression:   config.Compression,
		retryInterval: retryInterval,
		retryBudget:   retryBudget,
		logger:        logger,
		downloads:     make(map[string]struct{}),
	}, nil
}
