// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
)

// DigestMismatchError reports a chunk whose payload digest does not
// match the digest the manifest records for its index. The chunk is
// corrupt and must be treated as not received; the missing-index
// retransmission path recovers it.
type DigestMismatchError struct {
	ObjectID string
	Index    uint32
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("chunk %d of %q fails its digest check", e.Index, e.ObjectID)
}

// IsDigestMismatch reports whether err is (or wraps) a
// *DigestMismatchError.
func IsDigestMismatch(err error) bool {
	var mismatchErr *DigestMismatchError
	return errors.As(err, &mismatchErr)
}
