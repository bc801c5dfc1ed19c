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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
)

var (
	// ErrNoChoices is returned when the completion carries no choices.
	ErrNoChoices = errors.New("OpenAI returned no choices")

	// ErrMalformedReply is returned when the reply holds no usable JSON object.
	ErrMalformedReply = errors.New("malformed converter reply")
)

type reply struct {
	Expression string   `json:"expression"`
	Confidence *float64 `json:"confidence"`
	Notes      []string `json:"notes"`
}

// ParseReply extracts the converted text and confidence from a model reply.
//
// Accepts a bare JSON object, one wrapped in a markdown code fence, or one
// surrounded by prose. Confidence is passed through unclamped; the pipeline
// owns clamping and the absent-confidence rule.
func ParseReply(content string) (converter.Response, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return converter.Response{}, fmt.Errorf("%w: no JSON object", ErrMalformedReply)
	}

	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return converter.Response{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if strings.TrimSpace(r.Expression) == "" {
		return converter.Response{}, converter.ErrEmptyOutput
	}

	return converter.Response{
		Text:       strings.TrimSpace(r.Expression),
		Confidence: r.Confidence,
		Success:    true,
	}, nil
}

func extractJSONObject(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
