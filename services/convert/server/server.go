// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes a conversion pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
	"github.com/AleutianAI/ReportBridge/services/convert/telemetry"
)

// DefaultMaxBatchSize is the largest batch accepted when WithMaxBatchSize is not set.
const DefaultMaxBatchSize = 500

const defaultShutdownGrace = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBatchSize caps the number of requests in one batch call.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithMetricsHandler serves h on /metrics. Defaults to the prometheus
// default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = h
		}
	}
}

// Server serves conversions, validation and ledger reports.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	holder   *PipelineHolder
	conv     converter.Converter
	results  ledger.Reader
	logger   *slog.Logger
	maxBatch int
	metrics  http.Handler
	engine   *gin.Engine
}

// New creates a server over the pipeline in holder.
//
// Inputs:
//
//	holder - Current pipeline instance. Swapped by ConfigWatcher on reload.
//	conv - The external converter passed to every conversion.
//	results - Read side of the ledger the pipeline appends to.
func New(holder *PipelineHolder, conv converter.Converter, results ledger.Reader, opts ...Option) *Server {
	s := &Server{
		holder:   holder,
		conv:     conv,
		results:  results,
		logger:   slog.Default(),
		maxBatch: DefaultMaxBatchSize,
		metrics:  promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("reportbridge"))
	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics))

	v1 := router.Group("/v1")
	{
		v1.POST("/convert", s.handleConvert)
		v1.POST("/convert/batch", s.handleConvertBatch)
		v1.POST("/validate", s.handleValidate)

		ledgerGroup := v1.Group("/ledger")
		{
			ledgerGroup.GET("/summary", s.handleSummary)
			ledgerGroup.GET("/results", s.handleListResults)
			ledgerGroup.GET("/results/:id", s.handleGetResult)
		}
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
