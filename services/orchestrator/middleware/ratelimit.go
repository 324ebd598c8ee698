// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator
// service.
//
// This file contains the admission-control middleware. Each request is
// checked against per-client sliding windows before the handler runs;
// rejected requests get a 429 with a Retry-After header and never
// reach the engine.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
	"github.com/answerdock/answerdock/services/orchestrator/observability"
	"github.com/answerdock/answerdock/services/orchestrator/ratelimit"
)

// RateLimit returns a middleware enforcing the given endpoint's
// windows against the client's IP.
//
// # Description
//
// The client key is gin's ClientIP, which honors trusted proxy
// headers. On rejection the response carries:
//   - Status 429
//   - Retry-After header in whole seconds, rounded up
//   - JSON body with the violated window and retry delay in ms
//
// # Inputs
//
//   - limiter: Shared limiter instance. Must not be nil.
//   - endpoint: Which endpoint's windows to enforce.
//   - metrics: Optional metrics sink. May be nil in tests.
func RateLimit(limiter *ratelimit.Limiter, endpoint ratelimit.Endpoint, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Admit(c.ClientIP(), endpoint)
		if decision.Allowed {
			c.Next()
			return
		}

		if metrics != nil {
			metrics.RecordRateLimitRejection(string(endpoint), string(decision.Reason))
		}

		retrySeconds := int64(math.Ceil(decision.RetryAfter.Seconds()))
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
			Error:        "rate limit exceeded",
			Reason:       string(decision.Reason),
			RetryAfterMs: decision.RetryAfter.Milliseconds(),
		})
	}
}
