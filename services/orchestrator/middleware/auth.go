// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator
// service: bearer-token authentication and per-client rate limiting.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// BearerAuth requires every request to carry "Authorization: Bearer
// <token>" matching the configured token. Deployments without an
// auth requirement simply do not install this middleware.
//
// The health endpoint must stay reachable for liveness probes, so it
// is exempt.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				datatypes.ErrorResponse{Error: "missing authorization header"})
			return
		}

		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				datatypes.ErrorResponse{Error: "malformed authorization header"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				datatypes.ErrorResponse{Error: "invalid token"})
			return
		}
		c.Next()
	}
}
