// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chunkcast-net/chunkcast/lib/codec"
)

// Broker wire protocol: CBOR frames, each prefixed with a 4-byte
// big-endian length. The length prefix avoids stream-decoder
// read-ahead and lets either side reject oversized frames before
// allocating.
const (
	// maxFrameSize bounds one frame on the wire.
	maxFrameSize = 8 * 1024 * 1024

	// brokerMaxPayload is the largest message payload the broker
	// transport carries. The gap below maxFrameSize leaves room for
	// the CBOR envelope.
	brokerMaxPayload = 4 * 1024 * 1024
)

// Frame operations.
const (
	opPublish     = "publish"     // client → broker: publish Topic/Payload
	opSubscribe   = "subscribe"   // client → broker: register pattern Topic under ID
	opUnsubscribe = "unsubscribe" // client → broker: drop subscription ID
	opQueryable   = "queryable"   // client → broker: register queryable pattern under ID
	opUnqueryable = "unqueryable" // client → broker: drop queryable ID
	opQuery       = "query"       // client → broker (ID = client query id), broker → responder (ID = broker query id, Ref = responder's queryable id)
	opReply       = "reply"       // responder → broker → origin; Final marks end of a responder's replies (broker → origin: end of the whole query)
	opMessage     = "message"     // broker → client: delivery for subscription ID
)

// frame is the single CBOR message type of the broker protocol.
type frame struct {
	Op      string `cbor:"op"`
	ID      uint64 `cbor:"id,omitempty"`
	Ref     uint64 `cbor:"ref,omitempty"`
	Topic   string `cbor:"topic,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
	Final   bool   `cbor:"final,omitempty"`
}

// writeFrame encodes f and writes it length-prefixed. The caller
// serializes concurrent writes to one writer.
func writeFrame(w io.Writer, f *frame) error {
	data, err := codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encoding %s frame: %w", f.Op, err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("transport: %s frame is %d bytes, limit %d", f.Op, len(data), maxFrameSize)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("transport: writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transport: writing frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame. io.EOF at a frame
// boundary is returned unchanged so callers can distinguish a clean
// peer shutdown from a torn frame.
func readFrame(r io.Reader) (*frame, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("transport: reading frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length == 0 || length > maxFrameSize {
		return nil, &codec.FormatError{
			Message: "frame",
			Reason:  fmt.Sprintf("frame length %d outside (0, %d]", length, maxFrameSize),
		}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("transport: reading frame body: %w", err)
	}
	var f frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, &codec.FormatError{Message: "frame", Reason: "undecodable CBOR", Err: err}
	}
	return &f, nil
}
