// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PageBlockClass is the Weaviate class holding page chunks.
const PageBlockClass = "PageBlock"

// GetPageBlockSchema returns the schema for one retrieval unit: a page
// chunk carrying its filename and original page number so provenance
// survives indexing.
func GetPageBlockSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PageBlockClass,
		Description: "A chunk of one document page, tagged with its provenance marker.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:            "filename",
				DataType:        []string{"text"},
				Description:     "The uploaded document this chunk came from",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "text",
				DataType:    []string{"text"},
				Description: "The chunk text, marker included",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "1-based page number in the original document",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetPageBlockSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client errors when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
