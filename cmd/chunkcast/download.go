// Copyright 2026 The Chunkcast Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func downloadCommand() *command {
	var params clientParams
	var output string

	return &command{
		Name:    "download",
		Summary: "fetch an object and write it to a file",
		Usage:   "chunkcast download [flags] <object-id>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("download", pflag.ContinueOnError)
			params.addFlags(fs)
			fs.StringVarP(&output, "output", "o", "", "output path (default: the object id's base name in the current directory)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one object-id argument")
			}
			return runDownload(&params, output, args[0])
		},
	}
}

func runDownload(params *clientParams, output, objectID string) error {
	ctx, stop := signalContext()
	defer stop()

	logger := params.logger()
	client, broker, err := params.connect(ctx, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	data, err := client.Download(ctx, objectID)
	if err != nil {
		return err
	}

	if output == "" {
		output = filepath.Base(objectID)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("downloaded %s: %s to %s\n",
		objectID, humanize.IBytes(uint64(len(data))), output)
	return nil
}
