// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_PutGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec := Record{
		Name:        "Policy.pdf",
		ContentHash: "abc123",
		Pages:       12,
		Chunks:      40,
	}
	require.NoError(t, r.Put(ctx, rec))

	got, found, err := r.Get(ctx, "Policy.pdf")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, 12, got.Pages)
	assert.Positive(t, got.IngestedAt, "IngestedAt stamped on put")
}

func TestRegistry_GetMissing(t *testing.T) {
	r := newTestRegistry(t)

	_, found, err := r.Get(context.Background(), "never-ingested.pdf")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegistry_PutReplaces(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, Record{Name: "a.pdf", ContentHash: "v1", Pages: 3}))
	require.NoError(t, r.Put(ctx, Record{Name: "a.pdf", ContentHash: "v2", Pages: 4}))

	got, found, err := r.Get(ctx, "a.pdf")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", got.ContentHash)
	assert.Equal(t, 4, got.Pages)
}

func TestRegistry_Delete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, Record{Name: "a.pdf", ContentHash: "h"}))

	existed, err := r.Delete(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, existed)

	_, found, err := r.Get(ctx, "a.pdf")
	require.NoError(t, err)
	assert.False(t, found)

	existed, err = r.Delete(ctx, "a.pdf")
	require.NoError(t, err)
	assert.False(t, existed, "second delete reports nothing removed")
}

func TestRegistry_ListAndNames(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, Record{Name: "b.pdf", ContentHash: "h2"}))
	require.NoError(t, r.Put(ctx, Record{Name: "a.pdf", ContentHash: "h1"}))

	records, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.pdf", records[0].Name, "key order")
	assert.Equal(t, "b.pdf", records[1].Name)

	names, err := r.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names)
}

func TestRegistry_EmptyNameRejected(t *testing.T) {
	r := newTestRegistry(t)
	assert.Error(t, r.Put(context.Background(), Record{ContentHash: "h"}))
}

func TestRegistry_CancelledContext(t *testing.T) {
	r := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, r.Put(ctx, Record{Name: "a.pdf"}))
	_, _, err := r.Get(ctx, "a.pdf")
	assert.Error(t, err)
}
