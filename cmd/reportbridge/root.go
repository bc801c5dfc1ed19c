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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ReportBridge/pkg/logging"
	"github.com/AleutianAI/ReportBridge/pkg/ux"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logFormat  string
	logLevel   string
	logDir     string
	output     string

	logger *logging.Logger
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reportbridge",
		Short: "Convert legacy report formulas and queries into validated Power BI artifacts",
		Long: `reportbridge converts legacy report formulas into DAX calculation
expressions and legacy data retrievals into Power Query M scripts.

Every conversion is validated before and after the external converter runs.
When the converter fails or its output does not validate, a deterministic
fallback is emitted and the result is flagged for review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logFormat, opts.logLevel, opts.logDir)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger.Slog())
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Strategy config file (YAML or JSON)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logDir, "log-dir", "", "Also write JSON logs to a daily file in this directory")
	flags.StringVar(&opts.output, "output", "auto", "Output format: auto, table or json")

	cmd.AddCommand(
		newConvertCmd(opts),
		newValidateCmd(opts),
		newSummaryCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// newLogger builds the process logger. Logs go to w (stderr) so stdout
// stays parseable.
func newLogger(w io.Writer, format, level, dir string) (*logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	f, err := logging.ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("--log-format: %w", err)
	}
	return logging.New(logging.Config{
		Level:   lvl,
		Format:  f,
		Output:  w,
		LogDir:  dir,
		Service: "reportbridge",
	})
}

// closeLogger flushes the log file, if any.
func (o *rootOptions) closeLogger() {
	if o.logger == nil {
		return
	}
	if err := o.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// wantJSON resolves --output against the stream being written.
func (o *rootOptions) wantJSON(w io.Writer) (bool, error) {
	switch strings.ToLower(o.output) {
	case "json":
		return true, nil
	case "table":
		return false, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return !ok || !ux.IsTerminal(f), nil
	default:
		return false, fmt.Errorf("invalid --output %q: want auto, table or json", o.output)
	}
}

// printer returns a styled printer for w.
func printer(w io.Writer) *ux.Printer {
	if f, ok := w.(*os.File); ok {
		return ux.NewPrinter(w, ux.DetectPersonality(f))
	}
	return ux.NewPrinter(w, ux.PersonalityMachine)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
