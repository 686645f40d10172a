package core

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestExecute_SuccessCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "tool", `echo "args: $*"; echo warn >&2`)

	res, err := NewExecutor(dir).Execute(context.Background(), Command{Tool: tool, Args: []string{"sign", "x"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "args: sign x\n", string(res.Stdout))
	assert.Equal(t, "warn\n", string(res.Stderr))
}

func TestExecute_NonZeroExitIsProcessExitError(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "tool", `echo "bad password $2" >&2; exit 3`)

	res, err := NewExecutor(dir).Execute(context.Background(), Command{
		Tool:   tool,
		Args:   []string{"/p", "hunter2"},
		Redact: []string{"hunter2"},
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, KindProcessExit, KindOf(err))

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.ExitCode)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func TestExecute_MissingToolIsProcessSpawnError(t *testing.T) {
	res, err := NewExecutor(t.TempDir()).Execute(context.Background(), Command{Tool: "releasepost-no-such-tool"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, KindProcessSpawn, KindOf(err))
}

func TestExecute_CancelledContextDoesNotSpawn(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	tool := writeScript(t, dir, "tool", `touch "`+marker+`"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecutor(dir).Execute(ctx, Command{Tool: tool})
	require.Error(t, err)
	assert.Equal(t, KindProcessSpawn, KindOf(err))
	assert.NoFileExists(t, marker)
}

func TestExecute_UsesConfiguredEnv(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "tool", `echo "V=${RELEASEPOST_TEST_VAR:-unset}"`)

	e := NewExecutor(dir)
	e.Env = []string{"RELEASEPOST_TEST_VAR=set"}
	res, err := e.Execute(context.Background(), Command{Tool: tool})
	require.NoError(t, err)
	assert.Equal(t, "V=set", strings.TrimSpace(string(res.Stdout)))
}

func TestCommandString_MasksRedactedValues(t *testing.T) {
	c := Command{Tool: "signtool", Args: []string{"sign", "/p", "s3cret", "app.exe"}, Redact: []string{"s3cret", ""}}
	assert.Equal(t, "signtool sign /p [REDACTED] app.exe", c.String())
}

func TestCommandString_MasksWholeArgumentsOnly(t *testing.T) {
	c := Command{Tool: "signtool", Args: []string{"sign", "/p", "o", "/f", "cert.pfx", "o.exe"}, Redact: []string{"o"}}
	assert.Equal(t, "signtool sign /p [REDACTED] /f cert.pfx o.exe", c.String())
}

func TestExecute_ShortSecretLeavesOutputReadable(t *testing.T) {
	dir := t.TempDir()
	tool := writeScript(t, dir, "tool", `echo "SignTool Error: file not found" >&2; exit 1`)

	_, err := NewExecutor(dir).Execute(context.Background(), Command{
		Tool:   tool,
		Args:   []string{"/p", "o"},
		Redact: []string{"o"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SignTool Error: file not found")
	assert.NotContains(t, err.Error(), "[REDACTED]")
}
