// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package reassembly

import (
	"errors"
	"fmt"
)

// CorruptionError reports a whole-object digest failure after all
// chunks arrived and individually verified. This is fatal for the
// transfer attempt: selective retransmission cannot repair it, and
// the caller must restart from the manifest.
type CorruptionError struct {
	ObjectID string
	Cause    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("object %q corrupt after reassembly: %v", e.ObjectID, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

// IsCorruption reports whether err is (or wraps) a *CorruptionError.
func IsCorruption(err error) bool {
	var corruptionErr *CorruptionError
	return errors.As(err, &corruptionErr)
}
