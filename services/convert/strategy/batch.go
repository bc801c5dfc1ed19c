// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ConvertBatch converts requests in parallel.
//
// Description:
//
//	Runs up to 2*max_concurrent_requests conversions at once so that
//	validation of one request overlaps the external call of another.
//	External calls stay bounded by the pipeline semaphore. Cancelling ctx
//	drives the remaining requests to their fallbacks; every request still
//	gets a result.
//
// Outputs:
//
//	[]datatypes.ConversionResult - One result per request, in submission order.
//
// Thread Safety: Safe for concurrent use.
func (s *FallbackStrategy) ConvertBatch(ctx context.Context, requests []datatypes.ConversionRequest, conv converter.Converter) []datatypes.ConversionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]datatypes.ConversionResult, len(requests))
	if len(requests) == 0 {
		return results
	}

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(2 * s.config.MaxConcurrentRequests)
	for i := range requests {
		g.Go(func() error {
			results[i] = s.Convert(ctx, requests[i], conv)
			return nil
		})
	}
	_ = g.Wait()

	fallbacks := 0
	for _, r := range results {
		if r.FallbackApplied {
			fallbacks++
		}
	}
	s.logger.Info("batch conversion finished",
		slog.Int("requests", len(requests)),
		slog.Int("fallbacks", fallbacks),
		slog.Duration("duration", time.Since(start)),
	)
	return results
}
