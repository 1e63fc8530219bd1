// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Command xrcompd runs the compositor IPC server standalone. CLI
// argument parsing is out of scope beyond selecting the device catalogue
// source (spec.md §1): a real device-enumeration subsystem is an
// external collaborator this module never implements, so the only mode
// offered here is the fixture-backed dev mode used for development and
// demos.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gazed/xrcompd"
	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/compositor/soft"
)

func main() {
	fixturePath := flag.String("fixture", "", "path to a YAML DeviceCatalogue fixture (required; no real device enumeration subsystem is wired into this module)")
	socketPath := flag.String("socket", "", "override the listener's filesystem path")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "xrcompd: -fixture is required (no real device enumeration subsystem is wired into this module)")
		os.Exit(2)
	}

	dc, err := catalogue.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xrcompd: %v\n", err)
		os.Exit(1)
	}

	opts := []xrcompd.Option{xrcompd.Fixture(*fixturePath)}
	if *socketPath != "" {
		opts = append(opts, xrcompd.SocketPath(*socketPath))
	}
	if *debug {
		opts = append(opts, xrcompd.Debug())
	}

	renderer := soft.New(slog.Default())
	srv, err := xrcompd.NewServer(dc, renderer, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xrcompd: init failed: %v\n", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		srv.Stop()
	}()

	srv.Run()
	if err := srv.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "xrcompd: teardown failed: %v\n", err)
		os.Exit(1)
	}
}
