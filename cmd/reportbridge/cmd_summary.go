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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
)

type summaryOptions struct {
	ledgerDir string
	review    bool
	limit     int
	kind      string
}

func newSummaryCmd(root *rootOptions) *cobra.Command {
	opts := &summaryOptions{}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize the results persisted in a ledger",
		Example: `  reportbridge summary --ledger-dir ./ledger
  reportbridge summary --ledger-dir ./ledger --review --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSummary(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ledgerDir, "ledger-dir", "", "Ledger directory written by convert or serve")
	flags.BoolVar(&opts.review, "review", false, "List the results that need review, most urgent first")
	flags.IntVar(&opts.limit, "limit", 0, "Maximum results listed with --review (0 = all)")
	flags.StringVar(&opts.kind, "kind", "", "Restrict to one expression kind")
	_ = cmd.MarkFlagRequired("ledger-dir")
	return cmd
}

func runSummary(cmd *cobra.Command, root *rootOptions, opts *summaryOptions) error {
	out := cmd.OutOrStdout()
	if opts.limit < 0 {
		return errors.New("--limit must be >= 0")
	}

	jsonOut, err := root.wantJSON(out)
	if err != nil {
		return err
	}

	listOpts := ledger.ListOptions{}
	if opts.kind != "" {
		kind, err := datatypes.ParseExpressionKind(opts.kind)
		if err != nil {
			return err
		}
		listOpts.Kind = kind
	}

	store, closeStore, err := openStore(opts.ledgerDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Default().Warn("failed to close ledger", slog.String("error", err.Error()))
		}
	}()

	results, err := store.List(listOpts)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if opts.review {
		queue := ledger.ReviewQueue(results)
		if opts.limit > 0 && len(queue) > opts.limit {
			queue = queue[:opts.limit]
		}
		if jsonOut {
			return writeJSON(out, queue)
		}
		p := printer(out)
		if len(queue) == 0 {
			p.Success("nothing needs review")
			return nil
		}
		p.Title("Review queue")
		printResults(p, queue)
		return nil
	}

	summary := ledger.Summarize(results)
	if jsonOut {
		return writeJSON(out, summary)
	}
	printSummary(printer(out), summary)
	return nil
}
