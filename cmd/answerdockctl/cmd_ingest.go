// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var ingestName string // Override the document name (defaults to the directory name)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// ingestCmd uploads one page-split document.
//
// # Description
//
// Reads one text file per page from a directory, in lexical filename
// order, and uploads them as a single document. Page numbers follow
// file order starting at 1; blank files keep their page number and are
// skipped at indexing time on the server.
//
// # Examples
//
//	answerdockctl ingest ./policy-pdf-pages
//	answerdockctl ingest ./pages --name "HR Policy.pdf"
var ingestCmd = &cobra.Command{
	Use:   "ingest <pages-dir>",
	Short: "Upload a page-split document",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestCommand,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Document name (defaults to the directory name)")
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	dir := args[0]
	name := ingestName
	if name == "" {
		name = filepath.Base(dir)
	}

	pages, err := readPageFiles(dir)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no page files found in %s", dir)
	}
	logger.Info("Uploading document", "document", name, "pages", len(pages))

	body, err := json.Marshal(datatypes.IngestDocumentRequest{Name: name, Pages: pages})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := http.Post(serverURL+"/v1/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeServerError(resp)
	}

	var result datatypes.IngestDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case result.Unchanged:
		fmt.Printf("%s is already up to date (%d pages, %d chunks)\n",
			result.Document, result.Pages, result.Chunks)
	case result.Replaced:
		fmt.Printf("Replaced %s: %d pages, %d chunks\n",
			result.Document, result.Pages, result.Chunks)
	default:
		fmt.Printf("Ingested %s: %d pages, %d chunks\n",
			result.Document, result.Pages, result.Chunks)
	}
	return nil
}

// readPageFiles loads every regular file in the directory as one page,
// in lexical filename order.
func readPageFiles(dir string) ([]datatypes.PageUpload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pages := make([]datatypes.PageUpload, 0, len(names))
	for i, fname := range names {
		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil {
			return nil, fmt.Errorf("failed to read page file %s: %w", fname, err)
		}
		pages = append(pages, datatypes.PageUpload{
			PageNumber: i + 1,
			Text:       string(data),
		})
	}
	return pages, nil
}
