// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// chunkcast is the command-line client: it uploads objects into the
// overlay and downloads them back out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/chunkcast-net/chunkcast/lib/chunk"
	"github.com/chunkcast-net/chunkcast/lib/transfer"
	"github.com/chunkcast-net/chunkcast/lib/version"
	"github.com/chunkcast-net/chunkcast/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &command{
		Name:    "chunkcast",
		Summary: "chunkcast moves objects through a best-effort pub/sub overlay",
		Usage:   "chunkcast <command> [flags]",
		Subcommands: []*command{
			uploadCommand(),
			downloadCommand(),
			versionCommand(),
		},
	}
	return root.execute(os.Args[1:])
}

func versionCommand() *command {
	return &command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			fmt.Printf("chunkcast %s\n", version.Info())
			return nil
		},
	}
}

// clientParams are the flags shared by upload and download.
type clientParams struct {
	broker        string
	topicRoot     string
	chunkSize     string
	compression   string
	algorithm     string
	retryInterval time.Duration
	retryBudget   int
	verbose       bool
}

func (p *clientParams) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&p.broker, "broker", "127.0.0.1:7447", "address of the overlay broker")
	fs.StringVar(&p.topicRoot, "topic-root", transport.DefaultRoot, "first segment of every overlay topic")
	fs.StringVar(&p.chunkSize, "chunk-size", "1MiB", "chunk size (accepts human-readable sizes)")
	fs.StringVar(&p.compression, "compression", "zstd", "chunk payload compression: zstd or none")
	fs.StringVar(&p.algorithm, "algorithm", "", "digest algorithm: sha256 or blake3 (default sha256)")
	fs.DurationVar(&p.retryInterval, "retry-interval", transfer.DefaultRetryInterval, "pause between retransmission requests")
	fs.IntVar(&p.retryBudget, "retry-budget", transfer.DefaultRetryBudget, "retransmission requests before giving up")
	fs.BoolVar(&p.verbose, "verbose", false, "enable debug logging")
}

func (p *clientParams) logger() *slog.Logger {
	level := slog.LevelInfo
	if p.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// connect dials the broker and builds a transfer client around it.
// The caller closes the returned transport when done.
func (p *clientParams) connect(ctx context.Context, logger *slog.Logger) (*transfer.Client, *transport.BrokerTransport, error) {
	chunkSize, err := humanize.ParseBytes(p.chunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing --chunk-size: %w", err)
	}

	var compression string
	switch p.compression {
	case "zstd":
		compression = chunk.CompressionZstd
	case "none", "":
		compression = chunk.CompressionNone
	default:
		return nil, nil, fmt.Errorf("--compression %q is not one of zstd, none", p.compression)
	}

	broker, err := transport.DialBroker(ctx, p.broker, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to broker %s: %w", p.broker, err)
	}

	client, err := transfer.New(transfer.Config{
		Transport:     broker,
		Scheme:        transport.Scheme{Root: p.topicRoot},
		ChunkSize:     int(chunkSize),
		Algorithm:     p.algorithm,
		Compression:   compression,
		RetryInterval: p.retryInterval,
		RetryBudget:   p.retryBudget,
		Logger:        logger,
	})
	if err != nil {
		broker.Close()
		return nil, nil, err
	}
	return client, broker, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
