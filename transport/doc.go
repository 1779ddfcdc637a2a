// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the publish/subscribe substrate chunkcast
// runs over, and provides two implementations: an in-process
// [MemoryTransport] for tests and single-process pipelines, and a
// TCP [Broker] / [BrokerTransport] pair for multi-process overlays.
//
// The transfer core is deliberately ignorant of how messages move:
// it sees only topics and opaque payloads. Delivery is best effort —
// no ordering, no dedup, no receipt guarantee. Everything the core
// needs beyond that (completeness detection, retransmission,
// integrity) lives above this interface.
//
// Topic patterns support a single wildcard form: a trailing "/**"
// segment matches the prefix and everything below it. That is the
// only pattern shape the chunkcast topic scheme needs.
package transport
