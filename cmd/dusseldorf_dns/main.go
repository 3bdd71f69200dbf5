// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/microsoft/dusseldorf/config"
	"github.com/microsoft/dusseldorf/defaults"
	"github.com/microsoft/dusseldorf/listener/dnssrv"
	"github.com/microsoft/dusseldorf/recorder"
	"github.com/microsoft/dusseldorf/rules"
	"github.com/microsoft/dusseldorf/store"
	slogsyslog "github.com/samber/slog-syslog/v2"
)

func main() {
	var logdir string
	flag.StringVar(&logdir, "log-dir", "", "path to the log directory")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load the configuration: %v\n", err)
		os.Exit(1)
	}

	l, closer := newLogger(cfg, logdir, "dusseldorf_dns")
	defer closer()

	db, err := store.Connect(cfg.ConnStr, l)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to the store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("store connected")

	facto := defaults.New(db, cfg, l)
	reg := rules.NewRegistry(l)
	rules.RegisterDNSCatalogue(reg)
	engine := rules.NewEngine(db, facto, reg, l)

	rec := recorder.New(db, l)
	defer rec.Stop()

	srv := dnssrv.New(cfg, db, engine, facto, rec, l)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errs:
		l.Error("dns listener failed", "err", err)
		os.Exit(1)
	case <-quit:
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	l.Info("terminating the dns listener")
}

// newLogger builds the process logger: JSON to a file under the log
// directory when one is given, stderr otherwise. When a syslog address is
// configured and can be dialled, logs go to syslog instead of either.
func newLogger(cfg *config.Config, logdir, name string) (*slog.Logger, func()) {
	var out *os.File = os.Stderr
	closer := func() {}

	if logdir != "" {
		if err := os.MkdirAll(logdir, 0750); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create the log directory: %v\n", err)
		} else {
			filename := fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02T15:04:05"))
			if f, err := os.OpenFile(filepath.Join(logdir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				out = f
				closer = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			}
		}
	}

	if cfg.Syslog != "" {
		if conn, err := net.Dial("udp", cfg.Syslog); err == nil {
			h := slogsyslog.Option{Level: slog.LevelDebug, Writer: conn}.NewSyslogHandler()
			return slog.New(h).With("service", name), closer
		}
		fmt.Fprintf(os.Stderr, "Failed to reach syslog at %s, logging locally\n", cfg.Syslog)
	}

	return slog.New(slog.NewJSONHandler(out, nil)).With("service", name), closer
}
