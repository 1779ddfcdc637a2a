// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

// chunkcast-relay is the overlay relay daemon. It runs the broker
// that clients connect to, caches every manifest and chunk it sees,
// and replays them for downloads that start after the publisher has
// disconnected.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/chunkcast-net/chunkcast/lib/config"
	"github.com/chunkcast-net/chunkcast/lib/relaystore"
	"github.com/chunkcast-net/chunkcast/lib/version"
	"github.com/chunkcast-net/chunkcast/transport"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	pflag.StringVar(&configPath, "config", "", "path to the relay config file (default: $CHUNKCAST_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("chunkcast-relay %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := relaystore.Open(relaystore.Config{
		Path:   cfg.DataDir,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := transport.NewBroker(cfg.Listen, logger)
	if err != nil {
		return err
	}
	defer broker.Close()
	go func() {
		if err := broker.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("broker stopped", "error", err)
		}
	}()

	// The relay participates in its own overlay through a loopback
	// client connection, the same path every other peer uses.
	overlay, err := transport.DialBroker(ctx, broker.Address(), logger)
	if err != nil {
		return err
	}
	defer overlay.Close()

	scheme := transport.Scheme{Root: cfg.TopicRoot}
	r := newRelay(overlay, scheme, store, logger)

	sweepInterval := cfg.Retention.SweepInterval.Std()
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx, cfg.Retention.MaxAge.Std())
			}
		}
	}()

	logger.Info("chunkcast-relay starting",
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"topic_root", cfg.TopicRoot,
		"version", version.Info())

	return r.run(ctx)
}
