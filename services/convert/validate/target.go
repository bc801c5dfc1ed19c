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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ErrUnknownTarget is returned for an unrecognized validation target.
var ErrUnknownTarget = errors.New("unknown validation target")

// Target selects which validator a standalone check runs.
type Target string

const (
	TargetSource Target = "source"
	TargetExpr   Target = "expr"
	TargetQuery  Target = "query"
)

// ParseTarget accepts the target names and the kind aliases ("dax", "m", ...).
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source", "legacy", "formula":
		return TargetSource, nil
	case "expr", "expression", "dax", "calculation_expr":
		return TargetExpr, nil
	case "query", "m", "mquery", "retrieval_query":
		return TargetQuery, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

// CheckOptions carries the configuration a standalone check honors.
type CheckOptions struct {
	StrictColumns     bool
	FoldingPreference datatypes.FoldingPreference
	ComplexityWarning int
}

// Check runs one validator outside the conversion pipeline.
func Check(target Target, text string, ctx datatypes.ConversionContext, opts CheckOptions) (datatypes.ValidationOutcome, error) {
	switch target {
	case TargetSource:
		return NewSourceExpressionValidator(WithComplexityWarning(opts.ComplexityWarning)).Validate(text), nil
	case TargetExpr:
		if opts.StrictColumns {
			ctx.StrictColumns = true
		}
		return NewTargetExpressionValidator().Validate(text, ctx), nil
	case TargetQuery:
		return NewTargetQueryValidator(opts.FoldingPreference).Validate(text, ctx), nil
	default:
		return datatypes.ValidationOutcome{}, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
}
