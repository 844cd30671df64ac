package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunRestartPrintsOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xdd.src.a.dst.b.2026-01-01-0000-GMT.rst")
	require.NoError(t, os.WriteFile(path, []byte("-restart offset 4096\n"), 0o644))

	cmd := restartCmd
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := runRestart(cmd, []string{path})
	require.NoError(t, err)
	require.Contains(t, out.String(), "last committed offset 4096")
}

func TestRunRestartRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.rst")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	err := runRestart(restartCmd, []string{path})
	require.Error(t, err)
}
