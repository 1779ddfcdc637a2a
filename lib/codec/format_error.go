// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
)

// FormatError reports wire bytes that could not be decoded or that
// failed structural validation after decoding (truncated input, a
// declared length disagreeing with the actual payload, an unknown
// message version). Callers extract it with errors.As:
//
//	var formatErr *codec.FormatError
//	if errors.As(err, &formatErr) { ... }
type FormatError struct {
	// Message names the wire message kind being decoded ("chunk",
	// "manifest", "resend request", "frame").
	Message string

	// Reason describes the structural problem.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s message: %s: %v", e.Message, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s message: %s", e.Message, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is (or wraps) a *FormatError.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}
