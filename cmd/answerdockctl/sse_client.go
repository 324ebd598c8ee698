// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

// readStreamFrames parses a data-only SSE body and invokes handle for
// each frame, in order. Comment lines (keepalive pings) are ignored.
// Stops after the handler returns an error or the body ends.
func readStreamFrames(body io.Reader, handle func(datatypes.StreamFrame) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame datatypes.StreamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			return fmt.Errorf("malformed stream frame: %w", err)
		}
		if err := handle(frame); err != nil {
			return err
		}
		if frame.Type == datatypes.FrameDone || frame.Type == datatypes.FrameError {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

// decodeServerError turns a non-2xx response into an error carrying
// the server's message when one is present.
func decodeServerError(resp *http.Response) error {
	var serverErr datatypes.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&serverErr); err == nil && serverErr.Error != "" {
		if serverErr.Reason != "" {
			return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, serverErr.Error, serverErr.Reason)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, serverErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
