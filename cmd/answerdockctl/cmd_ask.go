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
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// askCmd streams one question through the chat endpoint.
//
// # Description
//
// Sends the question, prints answer deltas as they arrive, and ends
// with the source list from the terminal frame. The deltas may carry
// inline citation markers; the final answer shown by the server's done
// frame has them stripped, but a terminal is a streaming surface, so
// this command prints what streams.
//
// # Examples
//
//	answerdockctl ask "How many vacation days do I get?"
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the uploaded documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAskCommand,
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	body, err := json.Marshal(datatypes.ChatStreamRequest{
		RequestID: uuid.NewString(),
		Question:  question,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := http.Post(serverURL+"/v1/chat/stream", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var done *datatypes.StreamFrame
	err = readStreamFrames(resp.Body, func(frame datatypes.StreamFrame) error {
		switch frame.Type {
		case datatypes.FrameDelta:
			fmt.Print(frame.Text)
		case datatypes.FrameDone:
			f := frame
			done = &f
		case datatypes.FrameError:
			return fmt.Errorf("stream failed: %s", frame.Error)
		}
		return nil
	})
	fmt.Println()
	if err != nil {
		return err
	}
	if done == nil {
		return fmt.Errorf("stream ended without a terminal frame")
	}

	if len(done.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range done.Sources {
			if src.Page > 0 {
				fmt.Printf("  - %s, page %d\n", src.Document, src.Page)
			} else {
				fmt.Printf("  - %s\n", src.Document)
			}
		}
	}
	return nil
}
