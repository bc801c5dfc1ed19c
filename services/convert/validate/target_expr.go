// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

var (
	// exprTableRefPattern matches 'Quoted Table'[Col] and Table[Col].
	// The table must touch the bracket so keywords like RETURN [x] are not tables.
	exprTableRefPattern = regexp.MustCompile(`(?:'((?:[^']|'')+)'|\b([A-Za-z_][A-Za-z0-9_]*))\[((?:[^\]\n]|\]\])+)\]`)

	exprCallPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)

	exprDanglingCommaPattern = regexp.MustCompile(`,\s*[)\]}]`)
)

// TargetExpressionValidator checks generated calculation expressions.
//
// Description:
//
//	Runs four independent checks and unions their findings: syntax,
//	table references, column references (strict mode only) and function
//	names. Function-name findings are warnings and never invalidate.
//
// Thread Safety: Safe for concurrent use.
type TargetExpressionValidator struct {
	functions map[string]struct{}
}

// NewTargetExpressionValidator creates a validator with the built-in vocabulary.
func NewTargetExpressionValidator(extraFunctions ...string) *TargetExpressionValidator {
	fns := upperSet(exprFunctions)
	for _, f := range extraFunctions {
		fns[strings.ToUpper(f)] = struct{}{}
	}
	return &TargetExpressionValidator{functions: fns}
}

// Name returns the validator name used in metrics and logs.
func (v *TargetExpressionValidator) Name() string {
	return "target_expression"
}

// Validate checks a calculation expression against its context.
//
// Inputs:
//
//	text - The generated expression.
//	ctx - Table and column catalogs. Empty catalogs disable reference checks.
//
// Outputs:
//
//	datatypes.ValidationOutcome - IsValid is the conjunction of the syntax,
//	table and column checks.
//
// Thread Safety: Safe for concurrent use.
func (v *TargetExpressionValidator) Validate(text string, ctx datatypes.ConversionContext) datatypes.ValidationOutcome {
	out := datatypes.NewValidationOutcome()

	if strings.TrimSpace(text) == "" {
		out.AddIssue("Expression is empty")
		out.BalancedDelimiters = false
		return out
	}

	s := scan(text, exprDialect)
	v.checkSyntax(s, &out)

	refs := exprTableRefPattern.FindAllStringSubmatch(s.withIdents, -1)
	v.checkTables(refs, ctx, &out)
	v.checkColumns(refs, ctx, &out)
	v.checkFunctions(s.code, &out)

	return out
}

func (v *TargetExpressionValidator) checkSyntax(s scanned, out *datatypes.ValidationOutcome) {
	switch s.unterminated {
	case "":
	case "string literal":
		out.AddIssue("Unterminated string literal")
	case "quoted identifier":
		out.AddIssue("Unterminated quoted table name")
	default:
		out.AddIssue("Unterminated " + s.unterminated)
	}

	if b := checkBalance(s.code); !b.ok {
		out.BalancedDelimiters = false
		out.AddIssue(unbalancedIssue(b))
	}

	if exprDanglingCommaPattern.MatchString(s.code) {
		out.AddIssue("Dangling comma before closing delimiter")
	} else if strings.HasSuffix(strings.TrimSpace(s.code), ",") {
		out.AddIssue("Dangling trailing comma")
	}
}

func (v *TargetExpressionValidator) checkTables(refs [][]string, ctx datatypes.ConversionContext, out *datatypes.ValidationOutcome) {
	known := make(map[string]struct{}, len(ctx.AvailableTables))
	for _, t := range ctx.AvailableTables {
		known[strings.ToLower(t)] = struct{}{}
	}

	reported := map[string]bool{}
	for _, m := range refs {
		table := refTable(m)
		out.TableReferences = uniqueAppend(out.TableReferences, table)
		if len(known) == 0 {
			continue
		}
		if _, ok := known[strings.ToLower(table)]; !ok && !reported[table] {
			reported[table] = true
			out.AddIssue(fmt.Sprintf("Unknown table reference: '%s'", table))
		}
	}
}

func (v *TargetExpressionValidator) checkColumns(refs [][]string, ctx datatypes.ConversionContext, out *datatypes.ValidationOutcome) {
	catalog := make(map[string]map[string]struct{}, len(ctx.AvailableColumns))
	for table, cols := range ctx.AvailableColumns {
		set := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			set[strings.ToLower(c)] = struct{}{}
		}
		catalog[strings.ToLower(table)] = set
	}

	for _, m := range refs {
		table := refTable(m)
		col := strings.ReplaceAll(m[3], "]]", "]")
		out.ColumnReferences = uniqueAppend(out.ColumnReferences, fmt.Sprintf("'%s'[%s]", table, col))

		if !ctx.StrictColumns {
			continue
		}
		cols, ok := catalog[strings.ToLower(table)]
		if !ok {
			continue
		}
		if _, ok := cols[strings.ToLower(col)]; !ok {
			msg := fmt.Sprintf("Unknown column reference: '%s'[%s]", table, col)
			if !contains(out.Issues, msg) {
				out.AddIssue(msg)
			}
		}
	}
}

func (v *TargetExpressionValidator) checkFunctions(code string, out *datatypes.ValidationOutcome) {
	for _, m := range exprCallPattern.FindAllStringSubmatch(code, -1) {
		name := strings.ToUpper(m[1])
		out.Functions = uniqueAppend(out.Functions, name)
		if _, ok := v.functions[name]; ok {
			continue
		}
		if !contains(out.UnknownFunctions, name) {
			out.UnknownFunctions = append(out.UnknownFunctions, name)
			out.AddWarning(fmt.Sprintf("Unknown function: %s", name))
		}
	}
}

func refTable(m []string) string {
	if m[1] != "" {
		return strings.ReplaceAll(m[1], "''", "'")
	}
	return m[2]
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
