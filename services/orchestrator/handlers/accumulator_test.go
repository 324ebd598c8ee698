// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccumulator(t *testing.T) AnswerAccumulator {
	t.Helper()
	t.Setenv("ANSWERDOCK_INSECURE_MEMORY", "true")
	acc, err := NewAnswerAccumulator()
	require.NoError(t, err)
	t.Cleanup(acc.Destroy)
	return acc
}

func TestAnswerAccumulator_WriteAndFinalize(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("Annual leave "))
	require.NoError(t, acc.Write("is 30 days."))

	answer, digest, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Annual leave is 30 days.", answer)

	want := sha256.Sum256([]byte("Annual leave is 30 days."))
	assert.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestAnswerAccumulator_EmptyFinalize(t *testing.T) {
	acc := newTestAccumulator(t)

	answer, digest, err := acc.Finalize()
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.NotEmpty(t, digest)
}

func TestAnswerAccumulator_UnicodeDeltas(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("الإجازة السنوية "))
	require.NoError(t, acc.Write("ثلاثون يوما"))

	answer, _, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "الإجازة السنوية ثلاثون يوما", answer)
}

func TestAnswerAccumulator_OverflowRejected(t *testing.T) {
	acc := newTestAccumulator(t)

	big := strings.Repeat("x", SecureBufferSize)
	require.NoError(t, acc.Write(big))

	err := acc.Write("one more byte")
	require.Error(t, err)
}

func TestAnswerAccumulator_WriteAfterDestroyFails(t *testing.T) {
	acc := newTestAccumulator(t)
	acc.Destroy()

	assert.Error(t, acc.Write("late"))
	_, _, err := acc.Finalize()
	assert.Error(t, err)
}

func TestAnswerAccumulator_DestroyIdempotent(t *testing.T) {
	acc := newTestAccumulator(t)
	acc.Destroy()
	acc.Destroy()
}

func TestAnswerAccumulator_HasIdentity(t *testing.T) {
	acc := newTestAccumulator(t)
	other := newTestAccumulator(t)

	assert.NotEmpty(t, acc.ID())
	assert.NotEqual(t, acc.ID(), other.ID())
	assert.False(t, acc.CreatedAt().IsZero())
}
