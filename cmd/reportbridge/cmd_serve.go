// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
	"github.com/AleutianAI/ReportBridge/services/convert/server"
	"github.com/AleutianAI/ReportBridge/services/convert/strategy"
	"github.com/AleutianAI/ReportBridge/services/convert/telemetry"
)

type serveOptions struct {
	addr         string
	ledgerDir    string
	offline      bool
	maxBatchSize int
	watchConfig  bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversion pipeline over HTTP",
		Long: `serve exposes conversion, validation and the result ledger over HTTP.

When --config is set the file is watched and the pipeline is rebuilt on
change. Requests already running finish on the configuration they started
with.`,
		Example: `  reportbridge serve --addr :8080 --ledger-dir ./ledger
  OTEL_TRACES_EXPORTER=otlp reportbridge serve --config strategy.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	flags.StringVar(&opts.ledgerDir, "ledger-dir", "", "Persist results to a ledger in this directory (default: in memory)")
	flags.BoolVar(&opts.offline, "offline", false, "Skip the external converter and emit fallbacks only")
	flags.IntVar(&opts.maxBatchSize, "max-batch-size", server.DefaultMaxBatchSize, "Largest batch accepted by /v1/convert/batch")
	flags.BoolVar(&opts.watchConfig, "watch-config", true, "Reload the pipeline when --config changes")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.FromEnv())
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	cfg, err := strategy.LoadStrategyConfig(root.configPath)
	if err != nil {
		return err
	}

	conv, err := buildConverter(opts.offline)
	if err != nil {
		return err
	}

	var (
		sink    strategy.ResultSink
		results ledger.Reader
	)
	if opts.ledgerDir != "" {
		store, closeStore, err := openStore(opts.ledgerDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Warn("failed to close ledger", slog.String("error", err.Error()))
			}
		}()
		sink, results = store, store
	} else {
		mem := ledger.New()
		sink, results = mem, mem
	}

	holder, err := server.NewPipelineHolder(cfg, func(cfg strategy.StrategyConfig) (*strategy.FallbackStrategy, error) {
		return strategy.NewFallbackStrategy(cfg,
			strategy.WithLogger(logger),
			strategy.WithResultSink(sink),
			strategy.WithRegisterer(tel.Registry),
			strategy.WithMeterProvider(tel.MeterProvider),
		)
	})
	if err != nil {
		return err
	}

	if root.configPath != "" && opts.watchConfig {
		watcher, err := server.NewConfigWatcher(root.configPath, holder, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	srv := server.New(holder, conv, results,
		server.WithLogger(logger),
		server.WithMaxBatchSize(opts.maxBatchSize),
		server.WithMetricsHandler(tel.Handler()),
	)
	return srv.Run(ctx, opts.addr)
}
