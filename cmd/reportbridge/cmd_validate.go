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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/strategy"
	"github.com/AleutianAI/ReportBridge/services/convert/validate"
)

type validateOptions struct {
	target      string
	file        string
	table       string
	columns     []string
	tables      []string
	strict      bool
	foldingPref string
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [text]",
		Short: "Validate a legacy formula, a calculation expression or a retrieval script",
		Long: `validate runs one validator without converting anything.

Targets:
  source  legacy formula (syntax, functions, complexity)
  expr    calculation expression (functions, table and column references)
  query   retrieval script (let/in structure, source, folding)

Exits 1 when the text has fatal issues.`,
		Example: `  reportbridge validate --kind source 'IIf({Sales.Amount} > 0, "Y", "N")'
  reportbridge validate --kind query -f extract.m --folding strict`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, root, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "kind", "k", "source", "Validator: source, expr or query")
	flags.StringVarP(&opts.file, "file", "f", "", "Read the text from a file instead of the argument")
	flags.StringVar(&opts.table, "table", "", "Entity (table) name used for column resolution")
	flags.StringSliceVar(&opts.columns, "columns", nil, "Known columns of the entity")
	flags.StringSliceVar(&opts.tables, "tables", nil, "Tables expressions may reference")
	flags.BoolVar(&opts.strict, "strict-columns", false, "Treat unknown columns as fatal")
	flags.StringVar(&opts.foldingPref, "folding", "", "Folding preference for query: strict, best_effort or none")
	return cmd
}

func runValidate(cmd *cobra.Command, root *rootOptions, opts *validateOptions, args []string) error {
	out := cmd.OutOrStdout()

	target, err := validate.ParseTarget(opts.target)
	if err != nil {
		return err
	}

	text, err := validateInput(opts, args)
	if err != nil {
		return err
	}

	cfg, err := strategy.LoadStrategyConfig(root.configPath)
	if err != nil {
		return err
	}

	checkOpts := validate.CheckOptions{
		StrictColumns:     cfg.StrictColumns || opts.strict,
		FoldingPreference: cfg.FoldingPreference,
		ComplexityWarning: cfg.SourceComplexityWarning,
	}
	if opts.foldingPref != "" {
		pref, err := datatypes.ParseFoldingPreference(opts.foldingPref)
		if err != nil {
			return err
		}
		checkOpts.FoldingPreference = pref
	}

	ctx := datatypes.ConversionContext{
		EntityName:      opts.table,
		AvailableTables: opts.tables,
	}
	for _, c := range opts.columns {
		ctx.Columns = append(ctx.Columns, datatypes.Column{Name: strings.TrimSpace(c)})
	}

	outcome, err := validate.Check(target, text, ctx, checkOpts)
	if err != nil {
		return err
	}

	jsonOut, err := root.wantJSON(out)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := writeJSON(out, outcome); err != nil {
			return err
		}
	} else {
		printOutcome(cmd, target, outcome)
	}

	if !outcome.IsValid {
		return &exitError{code: ExitFindings}
	}
	return nil
}

func validateInput(opts *validateOptions, args []string) (string, error) {
	switch {
	case opts.file != "" && len(args) > 0:
		return "", errors.New("pass either --file or a text argument, not both")
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", opts.file, err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("nothing to validate: pass text or --file")
	}
}

func printOutcome(cmd *cobra.Command, target validate.Target, v datatypes.ValidationOutcome) {
	p := printer(cmd.OutOrStdout())

	rows := [][]string{{"valid", yesNo(v.IsValid)}}
	if len(v.Functions) > 0 {
		rows = append(rows, []string{"functions", strings.Join(v.Functions, ", ")})
	}
	switch target {
	case validate.TargetSource, validate.TargetExpr:
		rows = append(rows, []string{"complexity", fmt.Sprint(v.ComplexityScore)})
		if len(v.ColumnReferences) > 0 {
			rows = append(rows, []string{"columns", strings.Join(v.ColumnReferences, ", ")})
		}
	case validate.TargetQuery:
		rows = append(rows,
			[]string{"output_step", v.OutputStep},
			[]string{"folding_preserved", yesNo(v.FoldingPreserved)},
			[]string{"performance", fmt.Sprint(v.PerformanceScore)},
		)
	}
	p.Table([]string{"check", "result"}, rows)

	for _, issue := range v.Issues {
		p.Error(issue)
	}
	for _, w := range v.Warnings {
		p.Warning(w)
	}
	if v.IsValid {
		p.Success(fmt.Sprintf("%s is valid", target))
	}
}
