// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/answerdock/answerdock/services/orchestrator/handlers"
	"github.com/answerdock/answerdock/services/orchestrator/middleware"
	"github.com/answerdock/answerdock/services/orchestrator/observability"
	"github.com/answerdock/answerdock/services/orchestrator/ratelimit"
)

// SetupRoutes registers every endpoint on the router. Upload and chat
// carry separate rate-limit budgets; delete shares the upload budget
// since it hits the same backing stores. Listing is a registry read
// and stays unbudgeted.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatStreamHandler, documents *handlers.DocumentsHandler,
	limiter *ratelimit.Limiter) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	uploadLimit := middleware.RateLimit(limiter, ratelimit.EndpointUpload, observability.DefaultMetrics)
	chatLimit := middleware.RateLimit(limiter, ratelimit.EndpointChat, observability.DefaultMetrics)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/documents", uploadLimit, documents.HandleIngestDocument)
		v1.GET("/documents", documents.HandleListDocuments)
		v1.DELETE("/documents/:name", uploadLimit, documents.HandleDeleteDocument)
		v1.POST("/chat/stream", chatLimit, chat.HandleChatStream)
	}
}
