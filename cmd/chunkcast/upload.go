// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func uploadCommand() *command {
	var params clientParams
	var objectID string
	var serve bool

	return &command{
		Name:    "upload",
		Summary: "split a file into chunks and publish it",
		Usage:   "chunkcast upload [flags] <file>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
			params.addFlags(fs)
			fs.StringVar(&objectID, "id", "", "object id to publish under (default: the file's base name)")
			fs.BoolVar(&serve, "serve", false, "after publishing, keep answering manifest queries and resend requests until interrupted")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one file argument")
			}
			return runUpload(&params, objectID, serve, args[0])
		},
	}
}

func runUpload(params *clientParams, objectID string, serve bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if objectID == "" {
		objectID = filepath.Base(path)
	}

	ctx, stop := signalContext()
	defer stop()

	logger := params.logger()
	client, broker, err := params.connect(ctx, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	m, err := client.Upload(ctx, objectID, data)
	if err != nil {
		return err
	}
	fmt.Printf("published %s: %s in %d chunks\n",
		objectID, humanize.IBytes(m.TotalSize), m.ChunkCount)

	if !serve {
		return nil
	}
	fmt.Println("serving resend requests; interrupt to stop")
	if err := client.ServeResends(ctx, m, data); err != nil &&
		!errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
