// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package relaystore persists the manifests and chunks a relay has
// observed, so the relay can answer manifest queries and resend
// requests for objects whose publisher has gone away.
//
// Payloads are stored on disk exactly as they appeared on the wire
// (encoded manifest and chunk messages), one directory per object
// keyed by the SHA-256 of the object id, with a SQLite index
// answering "which chunk indices do I hold" without touching the
// payload files.
package relaystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/chunkcast-net/chunkcast/lib/sqlitepool"
)

// ErrNotFound is returned when the store does not hold the requested
// manifest or chunk.
var ErrNotFound = errors.New("relaystore: not found")

const schema = `
CREATE TABLE IF NOT EXISTS objects (
    object_id    TEXT PRIMARY KEY,
    has_manifest INTEGER NOT NULL DEFAULT 0,
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    object_id TEXT NOT NULL,
    idx       INTEGER NOT NULL,
    size      INTEGER NOT NULL,
    PRIMARY KEY (object_id, idx)
);
`

// Config configures a Store.
type Config struct {
	// Path is the data directory. Created if absent. Payloads live
	// under Path/objects/, the index at Path/index.db.
	Path string

	// Logger receives operational messages. Nil means no logging.
	Logger *slog.Logger
}

// Store is a disk-backed cache of wire-encoded manifests and chunks.
// Safe for concurrent use.
type Store struct {
	root   string
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the store rooted at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("relaystore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Path, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("relaystore: creating data directory: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(cfg.Path, "index.db"),
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		root:   cfg.Path,
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases the store's database connections. Payload files stay
// on disk for the next Open.
func (s *Store) Close() error {
	return s.pool.Close()
}

// objectDir is the payload directory for objectID. The directory name
// is the SHA-256 of the id, so arbitrary ids (slashes, dots, unicode)
// map onto safe fixed-length path segments.
func (s *Store) objectDir(objectID string) string {
	sum := sha256.Sum256([]byte(objectID))
	return filepath.Join(s.root, "objects", hex.EncodeToString(sum[:]))
}

// PutManifest stores the wire-encoded manifest for objectID.
// chunkCount is recorded in the index so holders can be compared
// against the object's full extent. Overwrites any previous manifest.
func (s *Store) PutManifest(ctx context.Context, objectID string, chunkCount uint32, encoded []byte) error {
	if objectID == "" {
		return fmt.Errorf("relaystore: object id is empty")
	}
	dir := s.objectDir(objectID)
	if err := writeAtomic(dir, "manifest", encoded); err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO objects (object_id, has_manifest, chunk_count, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (object_id) DO UPDATE SET
		    has_manifest = 1, chunk_count = excluded.chunk_count,
		    updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, int64(chunkCount), time.Now().Unix()},
		})
	if err != nil {
		return fmt.Errorf("relaystore: indexing manifest for %q: %w", objectID, err)
	}
	return nil
}

// PutChunk stores the wire-encoded chunk message for (objectID,
// index). Idempotent: re-storing an index overwrites the file and
// updates the index row.
func (s *Store) PutChunk(ctx context.Context, objectID string, index uint32, encoded []byte) error {
	if objectID == "" {
		return fmt.Errorf("relaystore: object id is empty")
	}
	dir := s.objectDir(objectID)
	name := strconv.FormatUint(uint64(index), 10)
	if err := writeAtomic(dir, name, encoded); err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO objects (object_id, updated_at) VALUES (?, ?)
		ON CONFLICT (object_id) DO UPDATE SET updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, time.Now().Unix()},
		})
	if err != nil {
		return fmt.Errorf("relaystore: indexing object %q: %w", objectID, err)
	}
	err = sqlitex.Execute(conn, `
		INSERT OR REPLACE INTO chunks (object_id, idx, size) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, int64(index), int64(len(encoded))},
		})
	if err != nil {
		return fmt.Errorf("relaystore: indexing chunk %d of %q: %w", index, objectID, err)
	}
	return nil
}

// Manifest returns the stored wire-encoded manifest for objectID, or
// ErrNotFound.
func (s *Store) Manifest(ctx context.Context, objectID string) ([]byte, error) {
	held, err := s.hasManifest(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.objectDir(objectID), "manifest"))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relaystore: reading manifest for %q: %w", objectID, err)
	}
	return data, nil
}

// Chunk returns the stored wire-encoded chunk message for (objectID,
// index), or ErrNotFound.
func (s *Store) Chunk(ctx context.Context, objectID string, index uint32) ([]byte, error) {
	name := strconv.FormatUint(uint64(index), 10)
	data, err := os.ReadFile(filepath.Join(s.objectDir(objectID), name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relaystore: reading chunk %d of %q: %w", index, objectID, err)
	}
	return data, nil
}

func (s *Store) hasManifest(ctx context.Context, objectID string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	var held bool
	err = sqlitex.Execute(conn, `
		SELECT has_manifest FROM objects WHERE object_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{objectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				held = stmt.ColumnInt64(0) != 0
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("relaystore: looking up %q: %w", objectID, err)
	}
	return held, nil
}

// Indices returns the sorted chunk indices held for objectID. An
// object with no stored chunks yields an empty slice.
func (s *Store) Indices(ctx context.Context, objectID string) ([]uint32, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var indices []uint32
	err = sqlitex.Execute(conn, `
		SELECT idx FROM chunks WHERE object_id = ? ORDER BY idx`,
		&sqlitex.ExecOptions{
			Args: []any{objectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				indices = append(indices, uint32(stmt.ColumnInt64(0)))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relaystore: listing chunks of %q: %w", objectID, err)
	}
	return indices, nil
}

// ObjectInfo summarizes one stored object.
type ObjectInfo struct {
	ObjectID    string
	HasManifest bool
	ChunkCount  uint32
	HeldChunks  uint32
	UpdatedAt   time.Time
}

// Objects lists every object the store holds anything for, most
// recently updated first.
func (s *Store) Objects(ctx context.Context) ([]ObjectInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var infos []ObjectInfo
	err = sqlitex.Execute(conn, `
		SELECT o.object_id, o.has_manifest, o.chunk_count, o.updated_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.object_id = o.object_id)
		FROM objects o ORDER BY o.updated_at DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				infos = append(infos, ObjectInfo{
					ObjectID:    stmt.ColumnText(0),
					HasManifest: stmt.ColumnInt64(1) != 0,
					ChunkCount:  uint32(stmt.ColumnInt64(2)),
					UpdatedAt:   time.Unix(stmt.ColumnInt64(3), 0),
					HeldChunks:  uint32(stmt.ColumnInt64(4)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relaystore: listing objects: %w", err)
	}
	return infos, nil
}

// Remove drops everything stored for objectID: index rows and payload
// files. Removing an unknown object is a no-op.
func (s *Store) Remove(ctx context.Context, objectID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	for _, statement := range []string{
		"DELETE FROM chunks WHERE object_id = ?",
		"DELETE FROM objects WHERE object_id = ?",
	} {
		err := sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{
			Args: []any{objectID},
		})
		if err != nil {
			return fmt.Errorf("relaystore: removing %q: %w", objectID, err)
		}
	}

	if err := os.RemoveAll(s.objectDir(objectID)); err != nil {
		return fmt.Errorf("relaystore: removing payload files for %q: %w", objectID, err)
	}
	return nil
}

// writeAtomic writes data to dir/name via temp file + rename, so a
// concurrent reader sees either the old payload or the new one, never
// a partial write.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("relaystore: creating object directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("relaystore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("relaystore: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("relaystore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("relaystore: renaming %s into place: %w", name, err)
	}
	success = true
	return nil
}
