// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/chunkcast-net/chunkcast/lib/codec"
	"github.com/chunkcast-net/chunkcast/lib/digest"
)

// WireVersion is the chunk message format version. Decoders reject
// any other value.
const WireVersion = 1

// Compression names accepted in chunk messages. The digest always
// covers the uncompressed payload, so compression is a pure transport
// concern: a relay forwards the message unchanged, and dedup or
// verification on either end sees identical bytes regardless of how
// the payload travelled.
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
)

// MaxPayloadLen caps the declared uncompressed payload length. The
// header field arrives from the network, so the decoder must bound it
// before allocating; no transport in use frames messages anywhere near
// this large.
const MaxPayloadLen = 64 << 20

// wireChunk is the CBOR layout of a chunk message. PayloadLen is the
// uncompressed payload length; when Compression is set, Payload holds
// the compressed bytes and PayloadLen is the length after
// decompression. Carrying the length explicitly lets the decoder
// validate structural consistency before trusting the payload.
type wireChunk struct {
	Version     int    `cbor:"v"`
	ObjectID    string `cbor:"object_id"`
	Index       uint32 `cbor:"index"`
	ChunkCount  uint32 `cbor:"chunk_count"`
	PayloadLen  uint64 `cbor:"payload_len"`
	Algorithm   string `cbor:"algorithm"`
	Digest      []byte `cbor:"digest"`
	Compression string `cbor:"compression,omitempty"`
	Payload     []byte `cbor:"payload"`
}

// zstd encoder/decoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunk: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadLen))
	if err != nil {
		panic("chunk: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a chunk into its wire message. compression is
// [CompressionNone] or [CompressionZstd]; with zstd, the payload is
// sent uncompressed anyway when compression does not shrink it, so the
// wire message is never larger than the none case plus the header.
func Encode(c *Chunk, compression string) ([]byte, error) {
	message := wireChunk{
		Version:    WireVersion,
		ObjectID:   c.ObjectID,
		Index:      c.Index,
		ChunkCount: c.ChunkCount,
		PayloadLen: uint64(len(c.Payload)),
		Algorithm:  c.Algorithm,
		Digest:     c.Digest[:],
		Payload:    c.Payload,
	}

	switch compression {
	case CompressionNone:
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(c.Payload, nil)
		if len(compressed) < len(c.Payload) {
			message.Compression = CompressionZstd
			message.Payload = compressed
		}
	default:
		return nil, fmt.Errorf("chunk: unsupported compression %q", compression)
	}

	data, err := codec.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("chunk: encoding chunk %d of %q: %w", c.Index, c.ObjectID, err)
	}
	return data, nil
}

// Decode parses a chunk wire message. Structural problems — malformed
// CBOR, an unknown version or algorithm, an out-of-range index, a
// payload disagreeing with the declared length — fail with a
// [codec.FormatError]. Decode does not verify the payload digest;
// that check belongs to the receiver's reassembly path, where a
// mismatch is treated as "chunk not received" rather than a protocol
// error.
func Decode(data []byte) (*Chunk, error) {
	var message wireChunk
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, &codec.FormatError{Message: "chunk", Reason: "undecodable CBOR", Err: err}
	}

	if message.Version != WireVersion {
		return nil, &codec.FormatError{
			Message: "chunk",
			Reason:  fmt.Sprintf("unknown version %d", message.Version),
		}
	}
	if message.ObjectID == "" {
		return nil, &codec.FormatError{Message: "chunk", Reason: "empty object id"}
	}
	if message.ChunkCount == 0 {
		return nil, &codec.FormatError{Message: "chunk", Reason: "zero chunk count"}
	}
	if message.Index >= message.ChunkCount {
		return nil, &codec.FormatError{
			Message: "chunk",
			Reason:  fmt.Sprintf("index %d out of range (chunk count %d)", message.Index, message.ChunkCount),
		}
	}
	if _, err := digest.Lookup(message.Algorithm); err != nil {
		return nil, &codec.FormatError{Message: "chunk", Reason: "unknown digest algorithm", Err: err}
	}

	chunkDigest, err := digest.FromBytes(message.Digest)
	if err != nil {
		return nil, &codec.FormatError{Message: "chunk", Reason: "bad digest length", Err: err}
	}

	if message.PayloadLen > MaxPayloadLen {
		return nil, &codec.FormatError{
			Message: "chunk",
			Reason:  fmt.Sprintf("declared payload length %d exceeds limit %d", message.PayloadLen, MaxPayloadLen),
		}
	}

	payload := message.Payload
	switch message.Compression {
	case CompressionNone:
	case CompressionZstd:
		payload, err = zstdDecoder.DecodeAll(message.Payload, make([]byte, 0, message.PayloadLen))
		if err != nil {
			return nil, &codec.FormatError{Message: "chunk", Reason: "zstd decompression failed", Err: err}
		}
	default:
		return nil, &codec.FormatError{
			Message: "chunk",
			Reason:  fmt.Sprintf("unsupported compression %q", message.Compression),
		}
	}

	if uint64(len(payload)) != message.PayloadLen {
		return nil, &codec.FormatError{
			Message: "chunk",
			Reason:  fmt.Sprintf("payload is %d bytes, header declares %d", len(payload), message.PayloadLen),
		}
	}
	if len(payload) == 0 {
		return nil, &codec.FormatError{Message: "chunk", Reason: "empty payload"}
	}

	return &Chunk{
		ObjectID:   message.ObjectID,
		Index:      message.Index,
		ChunkCount: message.ChunkCount,
		Payload:    payload,
		Algorithm:  message.Algorithm,
		Digest:     chunkDigest,
	}, nil
}
