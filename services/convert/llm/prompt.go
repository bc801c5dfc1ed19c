// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

const defaultSystemPrompt = `You convert legacy report formulas and queries into Power BI artifacts.
Reply with a single JSON object and nothing else:
{"expression": "<converted text>", "confidence": <number between 0 and 1>, "notes": ["..."]}
Use only tables and columns given in the context. Lower the confidence when you guess.`

const expressionTemplate = `Convert this legacy formula into a DAX calculation expression.

Formula:
{{.source}}

Table: {{.table}}
Columns: {{.columns}}
Column mapping: {{.mapping}}
Expected result type: {{.result_type}}`

const queryTemplate = `Convert this legacy data retrieval into a Power Query M script.
Keep steps that the source can fold into its native query ahead of any step that breaks folding.
Folding preference: {{.folding}}

Query:
{{.source}}

Connector: {{.connector}}
Server: {{.server}}
Database: {{.database}}
Schema: {{.schema}}
Table: {{.table}}
Columns: {{.columns}}`

var promptVariables = []string{
	"source", "table", "columns", "mapping", "result_type",
	"folding", "connector", "server", "database", "schema",
}

// PromptSet holds the per-kind user prompt templates.
type PromptSet struct {
	System     string
	Expression prompts.PromptTemplate
	Query      prompts.PromptTemplate
}

// DefaultPromptSet returns the built-in prompts.
func DefaultPromptSet() PromptSet {
	return PromptSet{
		System:     defaultSystemPrompt,
		Expression: prompts.NewPromptTemplate(expressionTemplate, promptVariables),
		Query:      prompts.NewPromptTemplate(queryTemplate, promptVariables),
	}
}

// Render formats the user prompt for req.
func (p PromptSet) Render(req datatypes.ConversionRequest) (string, error) {
	values := promptValues(req)

	var tmpl prompts.PromptTemplate
	switch req.Kind {
	case datatypes.KindCalculationExpr:
		tmpl = p.Expression
	case datatypes.KindRetrievalQuery:
		tmpl = p.Query
	default:
		return "", fmt.Errorf("%w: %s", datatypes.ErrUnknownKind, req.Kind)
	}

	out, err := tmpl.Format(values)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", req.Kind, err)
	}
	return out, nil
}

func promptValues(req datatypes.ConversionRequest) map[string]any {
	ctx := req.Context

	folding := ctx.FoldingPreference
	if folding == "" {
		folding = datatypes.FoldingBestEffort
	}

	return map[string]any{
		"source":      req.SourceText,
		"table":       orNone(ctx.TableName()),
		"columns":     orNone(strings.Join(ctx.ColumnNames(), ", ")),
		"mapping":     orNone(formatMapping(ctx.ColumnMapping)),
		"result_type": orNone(ctx.ResultType),
		"folding":     string(folding),
		"connector":   orNone(ctx.Connection.Connector),
		"server":      orNone(ctx.Connection.Server),
		"database":    orNone(ctx.Connection.Database),
		"schema":      orNone(ctx.Connection.Schema),
	}
}

func formatMapping(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " -> " + m[k]
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
