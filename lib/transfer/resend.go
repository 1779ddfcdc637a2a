// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chunkcast-net/chunkcast/lib/codec"
)

// resendWireVersion is the resend request format version.
const resendWireVersion = 1

// ResendRequest asks whoever holds an object's chunks — the original
// publisher or a caching relay — to republish the named indices.
// Only missing indices are ever named: present chunks are never
// re-requested, which bounds bandwidth on constrained links.
type ResendRequest struct {
	// RequestID is a UUID identifying this request, so responders
	// that see the same request through several paths answer once.
	RequestID string

	// ObjectID names the object.
	ObjectID string

	// Indices are the chunk indices to republish, ascending.
	Indices []uint32
}

// NewResendRequest creates a request for the given missing indices.
func NewResendRequest(objectID string, indices []uint32) *ResendRequest {
	return &ResendRequest{
		RequestID: uuid.NewString(),
		ObjectID:  objectID,
		Indices:   indices,
	}
}

type wireResend struct {
	Version   int      `cbor:"v"`
	RequestID string   `cbor:"request_id"`
	ObjectID  string   `cbor:"object_id"`
	Indices   []uint32 `cbor:"indices"`
}

// EncodeResend serializes the request into its wire message.
func EncodeResend(r *ResendRequest) ([]byte, error) {
	data, err := codec.Marshal(wireResend{
		Version:   resendWireVersion,
		RequestID: r.RequestID,
		ObjectID:  r.ObjectID,
		Indices:   r.Indices,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: encoding resend request for %q: %w", r.ObjectID, err)
	}
	return data, nil
}

// DecodeResend parses a resend request wire message.
func DecodeResend(data []byte) (*ResendRequest, error) {
	var message wireResend
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, &codec.FormatError{Message: "resend request", Reason: "undecodable CBOR", Err: err}
	}
	if message.Version != resendWireVersion {
		return nil, &codec.FormatError{
			Message: "resend request",
			Reason:  fmt.Sprintf("unknown version %d", message.Version),
		}
	}
	if message.ObjectID == "" {
		return nil, &codec.FormatError{Message: "resend request", Reason: "empty object id"}
	}
	return &ResendRequest{
		RequestID: message.RequestID,
		ObjectID:  message.ObjectID,
		Indices:   message.Indices,
	}, nil
}
