// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
	"github.com/answerdock/answerdock/services/orchestrator/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(limiter *ratelimit.Limiter, endpoint ratelimit.Endpoint) *gin.Engine {
	r := gin.New()
	r.POST("/x", RateLimit(limiter, endpoint, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doPost(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.SystemClock{})
	r := newTestRouter(limiter, ratelimit.EndpointUpload)

	for i := 0; i < 10; i++ {
		w := doPost(r)
		assert.Equal(t, http.StatusOK, w.Code, "request %d under the limit", i+1)
	}
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.SystemClock{})
	r := newTestRouter(limiter, ratelimit.EndpointUpload)

	for i := 0; i < 10; i++ {
		doPost(r)
	}
	w := doPost(r)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.Equal(t, "minute", body.Reason)
	assert.Positive(t, body.RetryAfterMs)
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.SystemClock{})
	r := newTestRouter(limiter, ratelimit.EndpointUpload)

	for i := 0; i < 10; i++ {
		doPost(r)
	}

	// Different client IP is unaffected.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_DailyReasonSurfaces(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.ChatPerDay = 3
	cfg.ChatBurstPerMinute = 100
	limiter := ratelimit.New(cfg, ratelimit.SystemClock{})
	r := newTestRouter(limiter, ratelimit.EndpointChat)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doPost(r).Code)
	}
	w := doPost(r)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "daily", body.Reason)
}
