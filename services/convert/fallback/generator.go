// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback produces deterministic, structurally valid substitutes
// for conversions whose external output cannot be trusted.
//
// Every function here is pure: identical inputs produce identical text and
// nothing touches the network or disk.
package fallback

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ManualFixMarker tags every generated fallback so reviewers can grep for it.
const ManualFixMarker = "MANUAL FIX REQUIRED"

// MaxOriginalLength caps how much of the original formula is echoed into a comment.
const MaxOriginalLength = 200

// Placeholder values used when the context carries no connection hints.
const (
	PlaceholderServer    = "SERVER_NAME"
	PlaceholderDatabase  = "DATABASE_NAME"
	PlaceholderTable     = "TABLE_NAME"
	PlaceholderWarehouse = "WAREHOUSE_NAME"
	PlaceholderSchema    = "SCHEMA_NAME"
)

// ErrUnknownConnector is returned when a safe select cannot be built for a connector.
var ErrUnknownConnector = errors.New("unknown connector")

// Generator builds fallback expressions and scripts.
//
// Thread Safety: Safe for concurrent use. Generator holds no mutable state.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// SafeTargetExpr returns a no-op calculation expression annotated with the original.
//
// Description:
//
//	Emits a blank literal (or 0 / "" when the context declares a number or
//	text result) preceded by line comments carrying the manual-fix marker
//	and the original formula, flattened to one line and truncated to
//	MaxOriginalLength runes.
//
// Inputs:
//
//	original - The legacy formula that could not be converted.
//	ctx - Supplies ResultType.
//
// Outputs:
//
//	string - An expression that always passes target expression validation.
func (g *Generator) SafeTargetExpr(original string, ctx datatypes.ConversionContext) string {
	var b strings.Builder
	b.WriteString("// ")
	b.WriteString(ManualFixMarker)
	b.WriteString(": automatic conversion failed, review the original formula\n")
	if flat := flatten(original); flat != "" {
		b.WriteString("// Original: ")
		b.WriteString(truncate(flat, MaxOriginalLength))
		b.WriteString("\n")
	}
	b.WriteString(blankLiteral(ctx.ResultType))
	return b.String()
}

// ManualExprTemplate returns the last-resort expression. It carries no
// caller-supplied text, so it is valid regardless of input.
func (g *Generator) ManualExprTemplate() string {
	return "// " + ManualFixMarker + ": no automatic conversion available\nBLANK()"
}

func blankLiteral(resultType string) string {
	switch strings.ToLower(resultType) {
	case "number":
		return "0"
	case "text":
		return `""`
	default:
		return "BLANK()"
	}
}

// connectorTemplate renders the data-source steps of a select-all script.
type connectorTemplate struct {
	defaultSchema string
	render        func(h connectionHints) []step
}

type step struct {
	name string
	expr string
}

type connectionHints struct {
	server    string
	database  string
	schema    string
	table     string
	warehouse string
}

var connectorTemplates = map[string]connectorTemplate{
	"sqlserver": {
		defaultSchema: "dbo",
		render: func(h connectionHints) []step {
			return []step{
				{"Source", fmt.Sprintf("Sql.Database(%s, %s)", mString(h.server), mString(h.database))},
				{"Data", fmt.Sprintf("Source{[Schema=%s, Item=%s]}[Data]", mString(h.schema), mString(h.table))},
			}
		},
	},
	"postgresql": {
		defaultSchema: "public",
		render: func(h connectionHints) []step {
			return []step{
				{"Source", fmt.Sprintf("PostgreSQL.Database(%s, %s)", mString(h.server), mString(h.database))},
				{"Data", fmt.Sprintf("Source{[Schema=%s, Item=%s]}[Data]", mString(h.schema), mString(h.table))},
			}
		},
	},
	"mysql": {
		render: func(h connectionHints) []step {
			schema := h.schema
			if schema == "" {
				schema = h.database
			}
			return []step{
				{"Source", fmt.Sprintf("MySQL.Database(%s, %s)", mString(h.server), mString(h.database))},
				{"Data", fmt.Sprintf("Source{[Schema=%s, Item=%s]}[Data]", mString(schema), mString(h.table))},
			}
		},
	},
	"oracle": {
		defaultSchema: PlaceholderSchema,
		render: func(h connectionHints) []step {
			return []step{
				{"Source", fmt.Sprintf("Oracle.Database(%s)", mString(h.server))},
				{"Data", fmt.Sprintf("Source{[Schema=%s, Item=%s]}[Data]", mString(h.schema), mString(h.table))},
			}
		},
	},
	"snowflake": {
		defaultSchema: "PUBLIC",
		render: func(h connectionHints) []step {
			return []step{
				{"Source", fmt.Sprintf("Snowflake.Databases(%s, %s)", mString(h.server), mString(h.warehouse))},
				{"Database", fmt.Sprintf(`Source{[Name=%s, Kind="Database"]}[Data]`, mString(h.database))},
				{"Schema", fmt.Sprintf(`Database{[Name=%s, Kind="Schema"]}[Data]`, mString(h.schema))},
				{"Data", fmt.Sprintf(`Schema{[Name=%s, Kind="Table"]}[Data]`, mString(h.table))},
			}
		},
	},
	"odbc": {
		defaultSchema: "dbo",
		render: func(h connectionHints) []step {
			query := fmt.Sprintf("SELECT * FROM %s.%s", h.schema, h.table)
			return []step{
				{"Source", fmt.Sprintf("Odbc.Query(%s, %s)", mString("dsn="+h.server), mString(query))},
				{"Data", "Source"},
			}
		},
	},
}

var connectorAliases = map[string]string{
	"":           "sqlserver",
	"sql":        "sqlserver",
	"sqlserver":  "sqlserver",
	"sql_server": "sqlserver",
	"mssql":      "sqlserver",
	"azuresql":   "sqlserver",
	"synapse":    "sqlserver",
	"postgres":   "postgresql",
	"postgresql": "postgresql",
	"mysql":      "mysql",
	"mariadb":    "mysql",
	"oracle":     "oracle",
	"snowflake":  "snowflake",
	"odbc":       "odbc",
}

// SupportedConnectors returns the connector names SafeTargetQuery can render.
func SupportedConnectors() []string {
	return []string{"sqlserver", "postgresql", "mysql", "oracle", "snowflake", "odbc"}
}

// SafeTargetQuery returns a select-all retrieval script for the context's table.
//
// Description:
//
//	Resolves server, database, schema, table and warehouse from the
//	context's Connection, then its Hints ("server", "database", ...),
//	then placeholders. When the context lists typed columns, a
//	Table.TransformColumnTypes step is appended.
//
// Outputs:
//
//	string - The script. Passes structural and source-definition validation.
//	error - ErrUnknownConnector when the connector has no template.
func (g *Generator) SafeTargetQuery(ctx datatypes.ConversionContext) (string, error) {
	name, ok := connectorAliases[strings.ToLower(strings.TrimSpace(ctx.Connection.Connector))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownConnector, ctx.Connection.Connector)
	}
	tmpl := connectorTemplates[name]

	h := resolveHints(ctx, tmpl.defaultSchema)
	steps := tmpl.render(h)

	output := steps[len(steps)-1].name
	if typed := typeTransforms(ctx.Columns); typed != "" {
		steps = append(steps, step{
			name: `#"Changed Type"`,
			expr: fmt.Sprintf("Table.TransformColumnTypes(%s, {%s})", output, typed),
		})
		output = `#"Changed Type"`
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s: generated select-all fallback for %s\n", ManualFixMarker, flatten(h.table))
	writeLet(&b, steps, output)
	return b.String(), nil
}

// ManualTemplate returns the last-resort retrieval script.
//
// Description:
//
//	Emits an empty inline table whose columns are the known column names,
//	untyped. Used when no connector template applies. Always structurally
//	valid.
func (g *Generator) ManualTemplate(ctx datatypes.ConversionContext) string {
	names := ctx.ColumnNames()
	if len(names) == 0 {
		names = []string{"Column1"}
	}
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, mString(n))
	}

	table := ctx.TableName()
	if table == "" {
		table = PlaceholderTable
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s: data source could not be determined for %s\n", ManualFixMarker, flatten(table))
	b.WriteString("// Replace the Source step with the connector call for this table.\n")
	writeLet(&b, []step{{"Source", fmt.Sprintf("#table({%s}, {})", strings.Join(quoted, ", "))}}, "Source")
	return b.String()
}

func writeLet(b *strings.Builder, steps []step, output string) {
	b.WriteString("let\n")
	for i, s := range steps {
		b.WriteString("    ")
		b.WriteString(s.name)
		b.WriteString(" = ")
		b.WriteString(s.expr)
		if i < len(steps)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("in\n    ")
	b.WriteString(output)
}

func resolveHints(ctx datatypes.ConversionContext, defaultSchema string) connectionHints {
	pick := func(explicit, hintKey, fallback string) string {
		if v := strings.TrimSpace(explicit); v != "" {
			return v
		}
		if v := strings.TrimSpace(ctx.Hints[hintKey]); v != "" {
			return v
		}
		return fallback
	}

	table := ctx.TableName()
	if table == "" {
		table = pick("", "table_name", PlaceholderTable)
	}

	return connectionHints{
		server:    pick(ctx.Connection.Server, "server", PlaceholderServer),
		database:  pick(ctx.Connection.Database, "database", PlaceholderDatabase),
		schema:    pick(ctx.Connection.Schema, "schema", defaultSchema),
		table:     table,
		warehouse: pick(ctx.Connection.Warehouse, "warehouse", PlaceholderWarehouse),
	}
}

// typeTransforms renders {"Col", type} pairs for columns with a known type.
func typeTransforms(cols []datatypes.Column) string {
	var pairs []string
	for _, c := range cols {
		mType, ok := mTypeFor(c.DataType)
		if !ok {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("{%s, %s}", mString(c.Name), mType))
	}
	return strings.Join(pairs, ", ")
}

func mTypeFor(dataType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "string", "text", "varchar", "nvarchar", "char":
		return "type text", true
	case "int", "integer", "int64", "bigint", "smallint":
		return "Int64.Type", true
	case "decimal", "numeric", "money", "currency":
		return "Currency.Type", true
	case "float", "double", "real", "number":
		return "type number", true
	case "date":
		return "type date", true
	case "datetime", "timestamp":
		return "type datetime", true
	case "time":
		return "type time", true
	case "bool", "boolean", "bit":
		return "type logical", true
	default:
		return "", false
	}
}

// mString renders s as a retrieval-script string literal.
func mString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// flatten collapses all whitespace runs, including newlines, to single spaces.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
