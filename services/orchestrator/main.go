// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/answerdock/answerdock/services/engine"
	"github.com/answerdock/answerdock/services/guard"
	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
	"github.com/answerdock/answerdock/services/orchestrator/handlers"
	"github.com/answerdock/answerdock/services/orchestrator/middleware"
	"github.com/answerdock/answerdock/services/orchestrator/observability"
	"github.com/answerdock/answerdock/services/orchestrator/ratelimit"
	"github.com/answerdock/answerdock/services/orchestrator/registry"
	"github.com/answerdock/answerdock/services/orchestrator/routes"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

const defaultSystemInstructions = `You are a document question answering assistant. Answer strictly from the provided context blocks. Every context block starts with a [DOCUMENT: name | PAGE: n] marker; cite the markers of the blocks you used, verbatim, inside your answer. If the context does not contain the answer, say that you could not find it. Answer in the language of the question.`

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "answerdock-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("answerdock-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newWeaviateClient() *weaviate.Client {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Trim quotes and whitespace in case the container runtime passes
	// them literally.
	weaviateURL = strings.Trim(weaviateURL, "\"' ")
	if weaviateURL == "" {
		log.Fatal("WEAVIATE_SERVICE_URL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	return client
}

func newCompletionClient() *openai.Client {
	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if apiKey == "" && baseURL == "" {
		log.Fatal("OPENAI_API_KEY or OPENAI_BASE_URL is required")
	}
	if baseURL == "" {
		return openai.NewClient(apiKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	slog.Info("Using OpenAI-compatible backend", "baseUrl", baseURL)
	return openai.NewClientWithConfig(cfg)
}

func main() {
	port := os.Getenv("ANSWERDOCK_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient := newWeaviateClient()
	datatypes.EnsureWeaviateSchema(weaviateClient)

	oaiClient := newCompletionClient()
	model := os.Getenv("COMPLETION_MODEL_NAME")
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("COMPLETION_MODEL_NAME is not set, using default", "model", model)
	}

	registryPath := os.Getenv("DOCUMENT_REGISTRY_PATH")
	if registryPath == "" {
		registryPath = "/var/lib/answerdock/registry"
	}
	reg, err := registry.Open(registry.DefaultConfig(registryPath))
	if err != nil {
		log.Fatalf("Failed to open the document registry: %v", err)
	}
	defer func() { _ = reg.Close() }()

	filter, err := guard.NewFilter()
	if err != nil {
		log.Fatalf("Failed to initialize the content filter: %v", err)
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.SystemClock{})
	limiter.Start()
	defer limiter.Stop()

	ragEngine := engine.NewRAGEngine(weaviateClient, oaiClient, engine.RAGConfig{Model: model})

	chunkStore, err := handlers.NewWeaviateChunkStore(weaviateClient, datatypes.PageBlockClass)
	if err != nil {
		log.Fatalf("Failed to create the chunk store: %v", err)
	}

	chatHandler := handlers.NewChatStreamHandler(ragEngine, filter, reg, handlers.ChatStreamConfig{
		SystemInstructions: defaultSystemInstructions,
		IndexRef:           datatypes.PageBlockClass,
	})
	documentsHandler := handlers.NewDocumentsHandler(chunkStore, reg)

	router := gin.Default()
	router.Use(otelgin.Middleware("answerdock-orchestrator"))
	if token := os.Getenv("ANSWERDOCK_API_TOKEN"); token != "" {
		router.Use(middleware.BearerAuth(token))
		slog.Info("API token authentication enabled")
	}

	routes.SetupRoutes(router, chatHandler, documentsHandler, limiter)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		slog.Info("Starting the orchestrator server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
	}
	handlers.PurgeAllSecureMemory()
}
