/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	t.Run("non-existent-file", func(t *testing.T) {
		exists, size, err := FileExists("/non-existent-file")
		require.NoError(t, err)
		require.False(t, exists)
		require.Equal(t, int64(0), size)
	})

	t.Run("dir-path", func(t *testing.T) {
		testPath := t.TempDir()

		exists, _, err := FileExists(testPath)
		require.EqualError(t, err, fmt.Sprintf("the supplied path [%s] is a dir", testPath))
		require.False(t, exists)
	})

	t.Run("file-with-content", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "Admin@tebon.com.key")
		contents := []byte("some random contents")
		require.NoError(t, os.WriteFile(file, contents, 0o600))

		exists, size, err := FileExists(file)
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, int64(len(contents)), size)
	})
}

func TestCreateDirIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store", "members")

	empty, err := CreateDirIfMissing(dir)
	require.NoError(t, err)
	require.True(t, empty)
	require.DirExists(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin"), []byte("{}"), 0o644))
	empty, err = CreateDirIfMissing(dir)
	require.NoError(t, err)
	require.False(t, empty)
}

func TestCreateDirIfMissingOverFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := CreateDirIfMissing(file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "error while creating dir: "+file)
}

func TestDirEmptyMissing(t *testing.T) {
	_, err := DirEmpty(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "error opening dir")
}

func TestWriteFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabrictest.yaml")

	require.NoError(t, WriteFileAtomically(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomically(path, []byte("second"), 0o600))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(contents))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not remain")
}

func TestWriteFileAtomicallyMissingDir(t *testing.T) {
	err := WriteFileAtomically(filepath.Join(t.TempDir(), "missing", "file"), []byte("x"), 0o644)
	require.Error(t, err)
	require.Contains(t, err.Error(), "error while creating temporary file")
}

func TestSyncDir(t *testing.T) {
	require.NoError(t, SyncDir(t.TempDir()))
}
