// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by every
// chunkcast component that keeps local structured state, such as the
// relay's chunk index.
//
// It wraps zombiezen.com/go/sqlite with a fixed set of pragmas: WAL
// journal mode so readers never block the writer, NORMAL synchronous
// (transactions survive a process crash; the source of truth for a
// relay is the overlay, so power-failure durability is not required),
// a busy timeout instead of immediate SQLITE_BUSY, and memory-mapped
// reads.
//
// Callers [Pool.Take] a connection, do their work, and [Pool.Put] it
// back. Connections are not safe for concurrent use — one goroutine
// per borrowed connection.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/chunkcast/relay.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
// The package is intentionally thin: standard pragmas, a pool, and the
// underlying zombiezen types exposed directly. Components write their
// own SQL with sqlitex.Execute and manage transactions themselves.
package sqlitepool
