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
	"sort"
	"strings"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// StrictFoldingPenalty is deducted for each folding violation in strict mode.
const StrictFoldingPenalty = 20

var (
	queryLetPattern  = regexp.MustCompile(`\blet\b`)
	queryInPattern   = regexp.MustCompile(`\bin\b`)
	queryStepPattern = regexp.MustCompile(`(#"(?:[^"]|"")+"|[A-Za-z_][A-Za-z0-9_.]*)\s*=`)
	queryCallPattern = regexp.MustCompile(`\b([A-Z][A-Za-z0-9]*\.[A-Z][A-Za-z0-9.]*)\s*\(`)
	queryTypeAny     = regexp.MustCompile(`\btype\s+any\b`)
	queryEachPattern = regexp.MustCompile(`\beach\b|=>`)
	queryOutputIdent = regexp.MustCompile(`^(#"(?:[^"]|"")+"|[A-Za-z_][A-Za-z0-9_.]*)$`)
)

// foldingRule describes one operation that defeats source-side query folding.
type foldingRule struct {
	call    string
	penalty int
	reason  string

	// perRow limits the rule to calls whose arguments contain a custom function.
	perRow bool
}

var foldingRules = []foldingRule{
	{call: "Table.Buffer", penalty: 15, reason: "buffers the table in memory"},
	{call: "List.Buffer", penalty: 15, reason: "buffers a list in memory"},
	{call: "Table.AddColumn", penalty: 15, reason: "adds a column with a custom per-row function", perRow: true},
	{call: "Table.TransformRows", penalty: 15, reason: "applies a custom per-row function"},
	{call: "Table.FirstN", penalty: 10, reason: "limits rows client-side"},
	{call: "Table.LastN", penalty: 10, reason: "limits rows client-side"},
	{call: "Table.Range", penalty: 10, reason: "limits rows client-side"},
	{call: "Table.Skip", penalty: 10, reason: "limits rows client-side"},
	{call: "Table.AddIndexColumn", penalty: 5, reason: "adds an index column"},
}

// filterAfterBreakerPenalty applies when Table.SelectRows follows a folding breaker.
const filterAfterBreakerPenalty = 10

// TargetQueryValidator checks generated retrieval scripts.
//
// Description:
//
//	Checks let/in structure, delimiter and quote syntax, the presence of
//	a data source step, column type coercion and, unless folding analysis
//	is disabled, operations that defeat source-side query folding.
//
// Thread Safety: Safe for concurrent use.
type TargetQueryValidator struct {
	defaultFolding datatypes.FoldingPreference
}

// NewTargetQueryValidator creates a validator. defaultFolding applies when
// a request context leaves the folding preference unset.
func NewTargetQueryValidator(defaultFolding datatypes.FoldingPreference) *TargetQueryValidator {
	if defaultFolding == datatypes.FoldingUnset {
		defaultFolding = datatypes.FoldingBestEffort
	}
	return &TargetQueryValidator{defaultFolding: defaultFolding}
}

// Name returns the validator name used in metrics and logs.
func (v *TargetQueryValidator) Name() string {
	return "target_query"
}

// Validate checks a retrieval script.
//
// Inputs:
//
//	text - The generated script.
//	ctx - Supplies the folding preference.
//
// Outputs:
//
//	datatypes.ValidationOutcome - PerformanceScore starts at 100 and drops by
//	the penalty of each folding violation. FoldingPreserved is false only
//	when a strict-mode violation was found.
//
// Thread Safety: Safe for concurrent use.
func (v *TargetQueryValidator) Validate(text string, ctx datatypes.ConversionContext) datatypes.ValidationOutcome {
	out := datatypes.NewValidationOutcome()

	if strings.TrimSpace(text) == "" {
		out.AddIssue("Query is empty")
		out.BalancedDelimiters = false
		return out
	}

	s := scan(text, queryDialect)
	depths := depthAt(s.code)

	v.checkStructure(s, depths, &out)
	v.checkSyntax(s, &out)
	v.checkSource(s, &out)
	v.checkTypes(s, &out)

	pref := ctx.FoldingPreference
	if pref == datatypes.FoldingUnset {
		pref = v.defaultFolding
	}
	if pref != datatypes.FoldingNone {
		v.checkFolding(s.code, depths, pref, &out)
	}

	return out
}

func (v *TargetQueryValidator) checkStructure(s scanned, depths []int, out *datatypes.ValidationOutcome) {
	letLoc := queryLetPattern.FindStringIndex(s.code)
	inLocs := queryInPattern.FindAllStringIndex(s.code, -1)

	switch {
	case letLoc == nil && len(inLocs) == 0:
		out.AddIssue("Missing 'let' keyword")
		out.AddIssue("Missing 'in' keyword")
		return
	case letLoc == nil:
		out.AddIssue("Missing 'let' keyword")
		return
	case len(inLocs) == 0:
		out.AddIssue("Missing 'in' keyword")
		return
	}

	inLoc := inLocs[len(inLocs)-1]
	if inLoc[0] < letLoc[1] {
		out.AddIssue("'in' keyword appears before 'let'")
		return
	}

	// Steps are assignments at the let block's own nesting depth.
	baseDepth := depths[letLoc[0]]
	body := s.withIdents[letLoc[1]:inLoc[0]]
	for _, m := range queryStepPattern.FindAllStringSubmatchIndex(body, -1) {
		pos := letLoc[1] + m[0]
		if depths[pos] != baseDepth {
			continue
		}
		if !startsStatement(s.code, letLoc[1], pos) {
			continue
		}
		// "==" and "=>" are not assignments.
		eq := letLoc[1] + m[1]
		if eq < len(s.code) && (s.code[eq] == '=' || s.code[eq] == '>') {
			continue
		}
		out.Steps = append(out.Steps, unquoteStep(body[m[2]:m[3]]))
	}

	if len(out.Steps) == 0 {
		out.AddIssue("No step assignments found between 'let' and 'in'")
	}

	tail := strings.TrimSpace(s.withIdents[inLoc[1]:])
	out.OutputStep = unquoteStep(tail)
	if queryOutputIdent.MatchString(tail) && len(out.Steps) > 0 && !contains(out.Steps, out.OutputStep) {
		out.AddWarning(fmt.Sprintf("Output step '%s' is not defined", out.OutputStep))
	}
}

// startsStatement reports whether the only non-space character between
// the previous statement boundary and pos is nothing, i.e. pos begins a
// step definition after "let" or a top-level comma.
func startsStatement(code string, bodyStart, pos int) bool {
	for i := pos - 1; i >= bodyStart; i-- {
		switch code[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case ',':
			return true
		default:
			return false
		}
	}
	return true
}

func unquoteStep(name string) string {
	if strings.HasPrefix(name, `#"`) && strings.HasSuffix(name, `"`) && len(name) >= 3 {
		return strings.ReplaceAll(name[2:len(name)-1], `""`, `"`)
	}
	return name
}

func (v *TargetQueryValidator) checkSyntax(s scanned, out *datatypes.ValidationOutcome) {
	if s.unterminated != "" {
		out.AddIssue("Unterminated " + s.unterminated)
	}
	if b := checkBalance(s.code); !b.ok {
		out.BalancedDelimiters = false
		out.AddIssue(unbalancedIssue(b))
	}
}

func (v *TargetQueryValidator) checkSource(s scanned, out *datatypes.ValidationOutcome) {
	if contains(out.Steps, "Source") {
		out.HasSourceDefinition = true
	}
	for _, m := range queryCallPattern.FindAllStringSubmatch(s.code, -1) {
		out.Functions = uniqueAppend(out.Functions, m[1])
		if KnownConnector(m[1]) {
			out.HasSourceDefinition = true
		}
	}
	if !out.HasSourceDefinition {
		out.AddIssue("No data source step found (expected a 'Source' step or a known connector call)")
	}
}

func (v *TargetQueryValidator) checkTypes(s scanned, out *datatypes.ValidationOutcome) {
	out.HasTypeCoercion = strings.Contains(s.code, "Table.TransformColumnTypes")
	if !out.HasTypeCoercion {
		out.AddWarning("No explicit column type coercion (Table.TransformColumnTypes)")
	}
	if queryTypeAny.MatchString(s.code) {
		out.AddWarning("Generic 'type any' column typing")
	}
}

type foldingViolation struct {
	pos     int
	message string
	penalty int
}

func (v *TargetQueryValidator) checkFolding(code string, depths []int, pref datatypes.FoldingPreference, out *datatypes.ValidationOutcome) {
	var violations []foldingViolation
	firstBreaker := -1

	for _, rule := range foldingRules {
		for _, loc := range findCalls(code, rule.call) {
			if rule.perRow && !queryEachPattern.MatchString(callArgs(code, depths, loc)) {
				continue
			}
			violations = append(violations, foldingViolation{
				pos:     loc,
				message: fmt.Sprintf("%s %s and prevents query folding", rule.call, rule.reason),
				penalty: rule.penalty,
			})
			if firstBreaker < 0 || loc < firstBreaker {
				firstBreaker = loc
			}
		}
	}

	if firstBreaker >= 0 {
		for _, loc := range findCalls(code, "Table.SelectRows") {
			if loc > firstBreaker {
				violations = append(violations, foldingViolation{
					pos:     loc,
					message: "Table.SelectRows filters after a non-foldable step; filter before transforming",
					penalty: filterAfterBreakerPenalty,
				})
			}
		}
	}

	sort.SliceStable(violations, func(i, j int) bool { return violations[i].pos < violations[j].pos })

	score := 100
	for _, viol := range violations {
		if pref == datatypes.FoldingStrict {
			score -= StrictFoldingPenalty
			out.AddIssue("Folding violation: " + viol.message)
			out.FoldingPreserved = false
			continue
		}
		score -= viol.penalty
		out.AddWarning("Folding advisory: " + viol.message)
	}
	if score < 0 {
		score = 0
	}
	out.PerformanceScore = score
}

var callPatterns = func() map[string]*regexp.Regexp {
	out := map[string]*regexp.Regexp{"Table.SelectRows": callPattern("Table.SelectRows")}
	for _, r := range foldingRules {
		out[r.call] = callPattern(r.call)
	}
	return out
}()

func callPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)
}

// findCalls returns the offsets of name( calls in masked code.
func findCalls(code, name string) []int {
	pattern, ok := callPatterns[name]
	if !ok {
		pattern = callPattern(name)
	}
	var locs []int
	for _, m := range pattern.FindAllStringIndex(code, -1) {
		locs = append(locs, m[0])
	}
	return locs
}

// callArgs returns the argument text of the call starting at pos.
func callArgs(code string, depths []int, pos int) string {
	open := strings.IndexByte(code[pos:], '(')
	if open < 0 {
		return ""
	}
	open += pos
	base := depths[open]
	for i := open + 1; i < len(code); i++ {
		if code[i] == ')' && depths[i] == base+1 {
			return code[open+1 : i]
		}
	}
	return code[open+1:]
}
