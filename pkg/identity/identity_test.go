// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfPathMatchesOfOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	viaPath, err := OfPath(path)
	require.NoError(t, err)
	assert.False(t, viaPath.Zero())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	viaHandle, err := Of(f)
	require.NoError(t, err)

	assert.Equal(t, viaPath, viaHandle)
}

func TestOfPathStableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.log")
	newPath := filepath.Join(dir, "new.log")
	require.NoError(t, os.WriteFile(oldPath, []byte("hello\n"), 0644))

	before, err := OfPath(oldPath)
	require.NoError(t, err)

	require.NoError(t, os.Rename(oldPath, newPath))
	after, err := OfPath(newPath)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestOfPathDistinguishesDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(a, []byte("a\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("b\n"), 0644))

	idA, err := OfPath(a)
	require.NoError(t, err)
	idB, err := OfPath(b)
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

func TestZeroID(t *testing.T) {
	var id ID
	assert.True(t, id.Zero())
	assert.Equal(t, "0:0", id.String())
}
