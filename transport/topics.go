// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultRoot is the topic root used when a Scheme does not set one.
const DefaultRoot = "chunkcast"

// Scheme maps object ids and message roles onto topic names. The
// mapping is stable and collision-free across distinct object ids:
// the id is percent-escaped into a single topic segment, so an id
// containing "/" cannot masquerade as scheme structure.
//
// Layout under the root:
//
//	<root>/objects/<escaped-id>/manifest
//	<root>/objects/<escaped-id>/chunks/<index>
//	<root>/objects/<escaped-id>/resend
type Scheme struct {
	// Root is the topic prefix shared by every node of one overlay.
	// Empty means [DefaultRoot].
	Root string
}

func (s Scheme) root() string {
	if s.Root == "" {
		return DefaultRoot
	}
	return s.Root
}

func escapeID(objectID string) string {
	return url.PathEscape(objectID)
}

// Manifest returns the topic an object's manifest is published under.
func (s Scheme) Manifest(objectID string) string {
	return s.root() + "/objects/" + escapeID(objectID) + "/manifest"
}

// Chunk returns the topic one chunk is published under.
func (s Scheme) Chunk(objectID string, index uint32) string {
	return s.root() + "/objects/" + escapeID(objectID) + "/chunks/" + strconv.FormatUint(uint64(index), 10)
}

// Chunks returns the pattern matching every chunk of one object.
func (s Scheme) Chunks(objectID string) string {
	return s.root() + "/objects/" + escapeID(objectID) + "/chunks/**"
}

// Resend returns the topic retransmission requests for an object are
// published under.
func (s Scheme) Resend(objectID string) string {
	return s.root() + "/objects/" + escapeID(objectID) + "/resend"
}

// Objects returns the pattern matching the entire object space:
// manifests, chunks, and resend requests alike. Relays subscribe to
// this.
func (s Scheme) Objects() string {
	return s.root() + "/objects/**"
}

// Role identifies what kind of message a topic carries.
type Role int

const (
	// RoleManifest is a manifest publication topic.
	RoleManifest Role = iota
	// RoleChunk is a chunk publication topic.
	RoleChunk
	// RoleResend is a retransmission request topic.
	RoleResend
)

// Parse decomposes a topic produced by this scheme. For RoleChunk the
// chunk index is returned; otherwise index is zero.
func (s Scheme) Parse(topic string) (role Role, objectID string, index uint32, err error) {
	rest, ok := strings.CutPrefix(topic, s.root()+"/objects/")
	if !ok {
		return 0, "", 0, fmt.Errorf("topic %q is outside the %q object space", topic, s.root())
	}

	segments := strings.Split(rest, "/")
	objectID, err = url.PathUnescape(segments[0])
	if err != nil {
		return 0, "", 0, fmt.Errorf("topic %q has an undecodable object id: %w", topic, err)
	}

	switch {
	case len(segments) == 2 && segments[1] == "manifest":
		return RoleManifest, objectID, 0, nil
	case len(segments) == 2 && segments[1] == "resend":
		return RoleResend, objectID, 0, nil
	case len(segments) == 3 && segments[1] == "chunks":
		parsed, err := strconv.ParseUint(segments[2], 10, 32)
		if err != nil {
			return 0, "", 0, fmt.Errorf("topic %q has an unparseable chunk index: %w", topic, err)
		}
		return RoleChunk, objectID, uint32(parsed), nil
	default:
		return 0, "", 0, fmt.Errorf("topic %q does not match the chunkcast layout", topic)
	}
}
