package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestRequiresAccount(t *testing.T) {
	err := execute(t, "--retention-days", "30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--account")
}

func TestRequiresRetentionDays(t *testing.T) {
	err := execute(t, "--account", "acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--retention-days")
}

func TestRejectsNegativeRetentionDays(t *testing.T) {
	err := execute(t, "--account", "acct-1", "--retention-days", "-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ">= 0")
}

func TestVersionFlagSkipsRequiredFlags(t *testing.T) {
	require.NoError(t, execute(t, "--version"))
}
