package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stderr bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&stderr)
	err := root.Execute()
	return stderr.String(), err
}

func TestVerifyReqsCommand(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "requirements.in")
	lock := filepath.Join(dir, "requirements.txt")
	require.NoError(t, os.WriteFile(lock, []byte("falcon==1.4.1\n"), 0o644))

	require.NoError(t, os.WriteFile(source, []byte("falcon==1.4.1\n"), 0o644))
	stderr, err := runCLI(t, "verify-reqs", "--source", source, "--lockfile", lock, "--resolver", "cp {source} {output}")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	require.NoError(t, os.WriteFile(source, []byte("falcon==1.4.1\nmarkus\n"), 0o644))
	stderr, err = runCLI(t, "verify-reqs", "--source", source, "--lockfile", lock, "--resolver", "cp {source} {output}")
	require.Error(t, err)
	assert.Contains(t, stderr, "+markus")
}

func TestVerifyReqsCommand_Offline(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "requirements.txt")
	require.NoError(t, os.WriteFile(lock, []byte("falcon==1.4.1\nmarkus\n"), 0o644))

	stderr, err := runCLI(t, "verify-reqs", "--offline", "--lockfile", lock)
	require.Error(t, err)
	assert.Contains(t, stderr, "-markus")
}
