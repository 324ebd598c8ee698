// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdock/answerdock/services/orchestrator/datatypes"
)

func TestReadStreamFrames_OrderedDelivery(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"delta","text":"Annual "}`,
		"",
		`: ping`,
		"",
		`data: {"type":"delta","text":"leave"}`,
		"",
		`data: {"type":"done","answer":"Annual leave","sources":[{"document":"Policy.pdf","page":3}]}`,
		"",
	}, "\n")

	var frames []datatypes.StreamFrame
	err := readStreamFrames(strings.NewReader(body), func(f datatypes.StreamFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, datatypes.FrameDelta, frames[0].Type)
	assert.Equal(t, "Annual ", frames[0].Text)
	assert.Equal(t, datatypes.FrameDone, frames[2].Type)
	require.Len(t, frames[2].Sources, 1)
	assert.Equal(t, "Policy.pdf", frames[2].Sources[0].Document)
	assert.Equal(t, 3, frames[2].Sources[0].Page)
}

func TestReadStreamFrames_StopsAfterTerminalFrame(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"error","error":"the answer service is unavailable"}`,
		"",
		`data: {"type":"delta","text":"never delivered"}`,
		"",
	}, "\n")

	var frames []datatypes.StreamFrame
	err := readStreamFrames(strings.NewReader(body), func(f datatypes.StreamFrame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, datatypes.FrameError, frames[0].Type)
}

func TestReadStreamFrames_MalformedFrame(t *testing.T) {
	err := readStreamFrames(strings.NewReader("data: {not json}\n\n"), func(datatypes.StreamFrame) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed stream frame")
}
