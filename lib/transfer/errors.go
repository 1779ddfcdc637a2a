// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"errors"
	"fmt"
)

// TimeoutError reports a transfer that exhausted its retry budget
// with chunks still missing. Missing lists the absent indices so the
// caller can decide whether to retry the whole object or accept
// partial data — that choice is caller policy, not made here.
//
// A nil Missing set with AwaitingManifest true means the transfer
// never got past the manifest: no responder produced one before the
// budget ran out.
type TimeoutError struct {
	ObjectID         string
	Missing          []uint32
	AwaitingManifest bool
}

func (e *TimeoutError) Error() string {
	if e.AwaitingManifest {
		return fmt.Sprintf("transfer of %q timed out awaiting manifest", e.ObjectID)
	}
	return fmt.Sprintf("transfer of %q timed out with %d chunks missing %v", e.ObjectID, len(e.Missing), e.Missing)
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// TransportError reports a failure of a pub/sub primitive itself. It
// is propagated, never retried here: retry policy for transport
// failures belongs to the transport.
type TransportError struct {
	// Op is the failing primitive: "publish", "subscribe", "query",
	// or "queryable".
	Op string

	// Topic is the topic or pattern the primitive was invoked with.
	Topic string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %q failed: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
