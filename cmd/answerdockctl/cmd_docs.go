// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the uploaded document corpus",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsListCommand,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a document and its indexed chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDeleteCommand,
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

func runDocsListCommand(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/v1/documents")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var result datatypes.ListDocumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Documents) == 0 {
		fmt.Println("No documents uploaded.")
		return nil
	}
	for _, doc := range result.Documents {
		ingested := time.UnixMilli(doc.IngestedAt).Format("2006-01-02 15:04")
		fmt.Printf("%-40s %4d pages %5d chunks  %s\n", doc.Name, doc.Pages, doc.Chunks, ingested)
	}
	return nil
}

func runDocsDeleteCommand(cmd *cobra.Command, args []string) error {
	name := args[0]

	req, err := http.NewRequest(http.MethodDelete,
		serverURL+"/v1/documents/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var result datatypes.DeleteDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Printf("Deleted %s (%d indexed objects removed)\n", result.Document, result.ObjectsRemoved)
	return nil
}
