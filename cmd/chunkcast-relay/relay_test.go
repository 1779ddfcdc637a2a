// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/chunkcast-net/chunkcast/lib/relaystore"
	"github.com/chunkcast-net/chunkcast/lib/transfer"
	"github.com/chunkcast-net/chunkcast/transport"
)

func startTestRelay(t *testing.T, mt transport.Transport) (*relay, *relaystore.Store) {
	t.Helper()
	store, err := relaystore.Open(relaystore.Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("relaystore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := newRelay(mt, transport.Scheme{}, store, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.run(ctx)
	return r, store
}

func testTransferClient(t *testing.T, mt transport.Transport) *transfer.Client {
	t.Helper()
	client, err := transfer.New(transfer.Config{
		Transport:     mt,
		ChunkSize:     64,
		RetryInterval: 50 * time.Millisecond,
		RetryBudget:   40,
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("transfer.New: %v", err)
	}
	return client
}

// The flagship path: the publisher uploads and disconnects; the relay
// alone serves a later download from its store.
func TestRelayServesDownloadAfterPublisherLeft(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ctx := context.Background()

	_, store := startTestRelay(t, mt)

	uploader := testTransferClient(t, mt)
	data := make([]byte, 64*4+9)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	// Retry until the relay's subscription is registered and it has
	// stored the whole object.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := uploader.Upload(ctx, "cached.bin", data); err != nil {
			t.Fatalf("Upload: %v", err)
		}
		indices, err := store.Indices(ctx, "cached.bin")
		if err != nil {
			t.Fatalf("Indices: %v", err)
		}
		if _, err := store.Manifest(ctx, "cached.bin"); err == nil && len(indices) == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay did not capture the upload")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The publisher is gone: no ServeResends running. Only the relay
	// can answer the manifest query and the resend requests.
	downloader := testTransferClient(t, mt)
	got, err := downloader.Download(ctx, "cached.bin")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes do not match the uploaded object")
	}
}

func TestRelayAnswersManifestQueries(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ctx := context.Background()
	scheme := transport.Scheme{}

	r, store := startTestRelay(t, mt)
	_ = r

	if err := store.PutManifest(ctx, "held.bin", 3, []byte("encoded")); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}

	// Queryable registration races with the first query; retry.
	deadline := time.Now().Add(5 * time.Second)
	for {
		replies, err := mt.Query(ctx, scheme.Manifest("held.bin"), nil)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		var got [][]byte
		for reply := range replies {
			got = append(got, reply.Payload)
		}
		if len(got) == 1 && bytes.Equal(got[0], []byte("encoded")) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("manifest query not answered; last replies: %v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// A query for an object the store lacks yields no replies.
	replies, err := mt.Query(ctx, scheme.Manifest("absent.bin"), nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for reply := range replies {
		t.Fatalf("unexpected reply for an absent object: %q", reply.Payload)
	}
}

func TestRelayDeduplicatesResendRequests(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ctx := context.Background()
	scheme := transport.Scheme{}

	_, store := startTestRelay(t, mt)
	if err := store.PutChunk(ctx, "dup.bin", 0, []byte("chunk-bytes")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	sub, err := mt.Subscribe(ctx, scheme.Chunks("dup.bin"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	request := transfer.NewResendRequest("dup.bin", []uint32{0})
	payload, err := transfer.EncodeResend(request)
	if err != nil {
		t.Fatalf("EncodeResend: %v", err)
	}

	// Deliver the same request several times; retry publishing until
	// the relay's subscription has picked it up at least once.
	deadline := time.Now().Add(5 * time.Second)
	for {
		for range 3 {
			if err := mt.Publish(ctx, scheme.Resend("dup.bin"), payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
		}
		select {
		case msg := <-sub.Messages():
			if !bytes.Equal(msg.Payload, []byte("chunk-bytes")) {
				t.Fatalf("republished payload = %q", msg.Payload)
			}
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("relay never served the resend request")
			}
			continue
		}
		break
	}

	// The duplicates must not produce further republications.
	select {
	case msg := <-sub.Messages():
		t.Fatalf("duplicate request served again: %q", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelaySweepEvictsStaleObjects(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ctx := context.Background()

	r, store := startTestRelay(t, mt)
	if err := store.PutManifest(ctx, "old.bin", 1, []byte("m")); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	if err := store.PutChunk(ctx, "old.bin", 0, []byte("c")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	// A sweep with a generous age keeps the object.
	r.sweep(ctx, time.Hour)
	if _, err := store.Manifest(ctx, "old.bin"); err != nil {
		t.Fatalf("object evicted by a sweep it should have survived: %v", err)
	}

	// An update timestamp in the past ages the object out on the next
	// sweep. The store records seconds, so step well past the cutoff.
	time.Sleep(1100 * time.Millisecond)
	r.sweep(ctx, time.Second)
	if _, err := store.Manifest(ctx, "old.bin"); err == nil {
		t.Fatal("stale object survived the sweep")
	}

	indices, err := store.Indices(ctx, "old.bin")
	if err != nil {
		t.Fatalf("Indices: %v", err)
	}
	if len(indices) != 0 {
		t.Fatalf("chunks survived eviction: %v", indices)
	}
}
