// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR encoding for all chunkcast wire
// messages.
//
// Every message that crosses the transport — chunk, manifest, resend
// request, broker frame — is a CBOR map encoded with Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. The same logical data
// always produces identical bytes, which keeps encoded messages
// stable across senders.
//
// The package also owns [FormatError], the error kind for wire bytes
// that cannot be decoded or that fail structural validation. A
// FormatError is always a local, non-retriable failure: the bytes are
// wrong, and receiving them again will not help.
package codec
