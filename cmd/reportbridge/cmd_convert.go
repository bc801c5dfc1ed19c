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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
	"github.com/AleutianAI/ReportBridge/services/convert/strategy"
)

type convertOptions struct {
	input        string
	outputFile   string
	ledgerDir    string
	offline      bool
	failOnReview bool
}

// convertReport is the JSON document written by convert.
type convertReport struct {
	Results []datatypes.ConversionResult `json:"results"`
	Summary ledger.Summary               `json:"summary"`
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a batch of legacy formulas and queries",
		Example: `  reportbridge convert -i batch.yaml
  reportbridge convert -i batch.yaml --offline --output json
  reportbridge convert -i batch.yaml --ledger-dir ./ledger --fail-on-review`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "Batch file (YAML or JSON)")
	flags.StringVarP(&opts.outputFile, "output-file", "o", "", "Also write the JSON report to this file")
	flags.StringVar(&opts.ledgerDir, "ledger-dir", "", "Persist results to a ledger in this directory")
	flags.BoolVar(&opts.offline, "offline", false, "Skip the external converter and emit fallbacks only")
	flags.BoolVar(&opts.failOnReview, "fail-on-review", false, "Exit 1 when any result needs review")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runConvert(cmd *cobra.Command, root *rootOptions, opts *convertOptions) error {
	logger := slog.Default()
	out := cmd.OutOrStdout()

	jsonOut, err := root.wantJSON(out)
	if err != nil {
		return err
	}

	cfg, err := strategy.LoadStrategyConfig(root.configPath)
	if err != nil {
		return err
	}

	requests, err := readBatch(opts.input)
	if err != nil {
		return err
	}

	conv, err := buildConverter(opts.offline)
	if err != nil {
		return err
	}

	mem := ledger.New()
	sinks := ledger.Tee{mem}
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
		sinks = append(sinks, store)
	}

	progress := strategy.NewProgressTracker()
	progress.Begin(len(requests))

	pipeline, err := strategy.NewFallbackStrategy(cfg,
		strategy.WithLogger(logger),
		strategy.WithResultSink(sinks),
		strategy.WithProgressSink(progress),
	)
	if err != nil {
		return err
	}

	results := pipeline.ConvertBatch(cmd.Context(), requests, conv)
	progress.LogReport(logger)

	report := convertReport{Results: results, Summary: ledger.Summarize(results)}

	if opts.outputFile != "" {
		if err := writeReportFile(opts.outputFile, report); err != nil {
			return err
		}
	}

	if jsonOut {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		p := printer(out)
		printResults(p, results)
		printSummary(p, report.Summary)
		if report.Summary.NeedsReview > 0 {
			p.Warning(fmt.Sprintf("%d of %d results need review", report.Summary.NeedsReview, report.Summary.Total))
		} else {
			p.Success(fmt.Sprintf("%d results converted", report.Summary.Total))
		}
	}

	if opts.failOnReview && report.Summary.NeedsReview > 0 {
		return &exitError{code: ExitFindings}
	}
	return nil
}

func writeReportFile(path string, report convertReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := writeJSON(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
