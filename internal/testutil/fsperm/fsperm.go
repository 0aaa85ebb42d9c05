// Package fsperm holds test assertions for on-disk state permissions.
package fsperm

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertPrivateDirPerm verifies that dir exists and is only accessible by the owner.
func AssertPrivateDirPerm(t testing.TB, dir string) {
	t.Helper()
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir(), "expected directory: %s", dir)
	if runtime.GOOS == "windows" {
		return
	}
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "dir perm for %s", dir)
}

// AssertPrivateFilePerm verifies that path is a regular file readable only by the owner.
func AssertPrivateFilePerm(t testing.TB, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, info.IsDir(), "expected file: %s", path)
	if runtime.GOOS == "windows" {
		return
	}
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "file perm for %s", path)
}
