// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
	"github.com/AleutianAI/ReportBridge/services/convert/validate"
)

// BatchRequest is the body of POST /v1/convert/batch.
type BatchRequest struct {
	Requests []datatypes.ConversionRequest `json:"requests"`
}

// BatchResponse is returned by POST /v1/convert/batch.
type BatchResponse struct {
	BatchID string                       `json:"batch_id"`
	Results []datatypes.ConversionResult `json:"results"`
	Summary ledger.Summary               `json:"summary"`
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	Target  string                      `json:"target"`
	Text    string                      `json:"text"`
	Context datatypes.ConversionContext `json:"context"`
}

func errorJSON(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	p := s.holder.Load()
	hitRate, size := p.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"reloads": s.holder.Reloads(),
		"cache": gin.H{
			"hit_rate": hitRate,
			"size":     size,
		},
	})
}

func (s *Server) handleConvert(c *gin.Context) {
	var req datatypes.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := datatypes.ValidateRequest(req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	result := s.holder.Load().Convert(c.Request.Context(), req, s.conv)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleConvertBatch(c *gin.Context) {
	var body BatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(body.Requests) == 0 {
		errorJSON(c, http.StatusBadRequest, errors.New("batch has no requests"))
		return
	}
	if len(body.Requests) > s.maxBatch {
		errorJSON(c, http.StatusRequestEntityTooLarge,
			fmt.Errorf("batch of %d exceeds the limit of %d", len(body.Requests), s.maxBatch))
		return
	}
	for i, req := range body.Requests {
		if err := datatypes.ValidateRequest(req); err != nil {
			errorJSON(c, http.StatusBadRequest, fmt.Errorf("request %d: %w", i, err))
			return
		}
	}

	batchID := uuid.NewString()
	s.logger.Info("batch conversion started",
		slog.String("batch_id", batchID),
		slog.Int("requests", len(body.Requests)),
	)
	results := s.holder.Load().ConvertBatch(c.Request.Context(), body.Requests, s.conv)
	c.JSON(http.StatusOK, BatchResponse{
		BatchID: batchID,
		Results: results,
		Summary: ledger.Summarize(results),
	})
}

func (s *Server) handleValidate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	target, err := validate.ParseTarget(req.Target)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	cfg := s.holder.Load().Config()
	outcome, err := validate.Check(target, req.Text, req.Context, validate.CheckOptions{
		StrictColumns:     cfg.StrictColumns,
		FoldingPreference: cfg.FoldingPreference,
		ComplexityWarning: cfg.SourceComplexityWarning,
	})
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleSummary(c *gin.Context) {
	results, err := s.results.List(ledger.ListOptions{})
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ledger.Summarize(results))
}

func (s *Server) handleListResults(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	results, err := s.results.List(opts)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if c.Query("order") == "review" {
		results = ledger.ReviewQueue(results)
	}
	if results == nil {
		results = []datatypes.ConversionResult{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func listOptions(c *gin.Context) (ledger.ListOptions, error) {
	var opts ledger.ListOptions
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}
	if v := c.Query("needs_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid needs_review %q", v)
		}
		opts.NeedsReview = b
	}
	if v := c.Query("kind"); v != "" {
		kind, err := datatypes.ParseExpressionKind(v)
		if err != nil {
			return opts, err
		}
		opts.Kind = kind
	}
	return opts, nil
}

func (s *Server) handleGetResult(c *gin.Context) {
	result, err := s.results.Get(c.Param("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
