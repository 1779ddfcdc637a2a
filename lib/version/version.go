// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version stamped into chunkcast
// binaries at link time.
package version

import "runtime/debug"

// version is set via -ldflags "-X .../lib/version.version=v1.2.3" by
// release builds.
var version = ""

// Info returns the stamped version, falling back to the module
// version recorded in the build info, or "devel".
func Info() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "devel"
}
