// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownKind is returned when an expression kind cannot be parsed.
	ErrUnknownKind = errors.New("unknown expression kind")

	// ErrUnknownFoldingPreference is returned when a folding preference cannot be parsed.
	ErrUnknownFoldingPreference = errors.New("unknown folding preference")

	// ErrInvalidRequest wraps struct-level request validation failures.
	ErrInvalidRequest = errors.New("invalid conversion request")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("expression_kind", validateExpressionKind); err != nil {
		panic(fmt.Sprintf("register expression_kind validator: %v", err))
	}
	if err := validate.RegisterValidation("folding_preference", validateFoldingPreference); err != nil {
		panic(fmt.Sprintf("register folding_preference validator: %v", err))
	}
}

func validateExpressionKind(fl validator.FieldLevel) bool {
	return ExpressionKind(fl.Field().Int()).Valid()
}

func validateFoldingPreference(fl validator.FieldLevel) bool {
	return FoldingPreference(fl.Field().String()).Valid()
}

// ConversionRequest is one legacy expression to convert.
//
// Thread Safety: Treat as immutable once built. Use Clone before mutating a copy.
type ConversionRequest struct {
	// ID is an optional caller-supplied identifier carried into the result.
	ID string `json:"id,omitempty" yaml:"id,omitempty" validate:"max=256"`

	// SourceText is the legacy formula or query. Empty text is a trivial success.
	SourceText string `json:"source_text" yaml:"source_text"`

	// Kind selects the target artifact.
	Kind ExpressionKind `json:"expression_kind" yaml:"expression_kind" validate:"expression_kind"`

	// Context carries entity, column and connection hints.
	Context ConversionContext `json:"context" yaml:"context"`
}

// ConversionContext describes the entity a request belongs to.
type ConversionContext struct {
	// EntityName is the target table name.
	EntityName string `json:"table_name,omitempty" yaml:"table_name,omitempty"`

	// Columns lists the known columns of the entity.
	Columns []Column `json:"columns,omitempty" yaml:"columns,omitempty" validate:"dive"`

	// ColumnMapping maps legacy column names to target column names.
	ColumnMapping map[string]string `json:"column_mapping,omitempty" yaml:"column_mapping,omitempty"`

	// AvailableTables, when non-empty, restricts table references in target expressions.
	AvailableTables []string `json:"available_tables,omitempty" yaml:"available_tables,omitempty"`

	// AvailableColumns maps table name to its column catalog.
	AvailableColumns map[string][]string `json:"available_columns,omitempty" yaml:"available_columns,omitempty"`

	// StrictColumns makes unknown column references fatal.
	StrictColumns bool `json:"strict_columns,omitempty" yaml:"strict_columns,omitempty"`

	// FoldingPreference overrides the configured folding preference.
	FoldingPreference FoldingPreference `json:"folding_preference,omitempty" yaml:"folding_preference,omitempty" validate:"folding_preference"`

	// Connection carries data source hints for retrieval scripts.
	Connection Connection `json:"connection" yaml:"connection"`

	// ResultType is the expected scalar type of an expression ("number", "text" or empty).
	ResultType string `json:"result_type,omitempty" yaml:"result_type,omitempty" validate:"omitempty,oneof=number text"`

	// Hints holds free-form capability hints.
	Hints map[string]string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// Column is one known column of an entity.
type Column struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
}

// Connection carries connection hints for a retrieval script.
type Connection struct {
	// Connector selects the source connector ("sqlserver", "postgresql", ...). Empty means sqlserver.
	Connector string `json:"connector,omitempty" yaml:"connector,omitempty"`
	Server    string `json:"server,omitempty" yaml:"server,omitempty"`
	Database  string `json:"database,omitempty" yaml:"database,omitempty"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Table     string `json:"table,omitempty" yaml:"table,omitempty"`
	Warehouse string `json:"warehouse,omitempty" yaml:"warehouse,omitempty"`
}

// TableName returns the explicit connection table or, failing that, the entity name.
func (c ConversionContext) TableName() string {
	if t := strings.TrimSpace(c.Connection.Table); t != "" {
		return t
	}
	return strings.TrimSpace(c.EntityName)
}

// ColumnNames returns the names of the known columns in order.
func (c ConversionContext) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Clone returns a deep copy of the context.
func (c ConversionContext) Clone() ConversionContext {
	out := c
	out.Columns = append([]Column(nil), c.Columns...)
	out.AvailableTables = append([]string(nil), c.AvailableTables...)
	out.ColumnMapping = cloneStringMap(c.ColumnMapping)
	out.Hints = cloneStringMap(c.Hints)
	if c.AvailableColumns != nil {
		out.AvailableColumns = make(map[string][]string, len(c.AvailableColumns))
		for k, v := range c.AvailableColumns {
			out.AvailableColumns[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Clone returns a deep copy of the request.
func (r ConversionRequest) Clone() ConversionRequest {
	out := r
	out.Context = r.Context.Clone()
	return out
}

// IsTrivial reports whether the request has no source text to convert.
func (r ConversionRequest) IsTrivial() bool {
	return strings.TrimSpace(r.SourceText) == ""
}

// ValidateRequest checks struct-level constraints on a request.
//
// Description:
//
//	Runs the go-playground validator over the request. Empty source text
//	is allowed; it is handled as a trivial success by the pipeline.
//
// Outputs:
//
//	error - Wraps ErrInvalidRequest with every failed field, or nil.
//
// Thread Safety: Safe for concurrent use.
func ValidateRequest(r ConversionRequest) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
