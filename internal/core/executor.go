package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// maxMessageBytes bounds how much tool output is carried into an error message.
const maxMessageBytes = 512

// Command is a single external tool invocation.
type Command struct {
	// Tool is the executable name or path. Names are looked up on PATH.
	Tool string

	// Args is the argument vector, excluding the tool itself.
	Args []string

	// Redact lists values (passwords) that must be masked wherever the
	// command or its output is rendered.
	Redact []string
}

// minMaskLen is the shortest redacted value masked inside free-form output.
// Arguments are always masked by exact match.
const minMaskLen = 4

// String renders the command line with redacted values masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Tool)
	for _, a := range c.Args {
		parts = append(parts, c.maskArg(a))
	}
	return strings.Join(parts, " ")
}

// maskArg replaces an argument that is exactly a redacted value.
func (c Command) maskArg(a string) string {
	for _, r := range c.Redact {
		if r != "" && a == r {
			return redacted
		}
	}
	return a
}

// maskOutput masks redacted values inside tool output and error text.
func (c Command) maskOutput(s string) string {
	for _, r := range c.Redact {
		if len(r) < minMaskLen {
			continue
		}
		s = strings.ReplaceAll(s, r, redacted)
	}
	return s
}

// ExecutionResult contains the captured output of a tool invocation.
type ExecutionResult struct {
	Stdout []byte
	Stderr []byte

	// ExitCode is the process exit code; 0 indicates success.
	ExitCode int
}

// Executor runs external tools.
//
// Unlike a sandboxed task runner, signing tools need the host environment
// (PATH, SDK locations), so Env defaults to the process environment.
//
// Started processes are never killed on context cancellation: a signing tool
// interrupted mid-write can leave a corrupt binary behind. The child is also
// placed in its own process group so a terminal interrupt aimed at this
// process does not reach it.
type Executor struct {
	// WorkingDir is the directory tools run in. Empty means the current directory.
	WorkingDir string

	// Env overrides the child environment when non-nil.
	Env []string
}

// NewExecutor creates an Executor running tools in workingDir.
func NewExecutor(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir}
}

// Execute runs cmd to completion.
//
// A non-nil *ExecutionResult is returned whenever the process started. The
// error is a *ToolError of kind KindProcessSpawn when the process could not be
// started and KindProcessExit when it exited non-zero.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if cmd.Tool == "" {
		return nil, &ToolError{Kind: KindProcessSpawn, Tool: "<empty>", Message: "tool is empty"}
	}
	// A cancelled run must not spawn anything new.
	if err := ctx.Err(); err != nil {
		return nil, &ToolError{Kind: KindProcessSpawn, Tool: cmd.Tool, Message: "run cancelled", Cause: err}
	}

	c := exec.Command(cmd.Tool, cmd.Args...)
	c.Dir = e.WorkingDir
	if e.Env != nil {
		c.Env = e.Env
	} else {
		c.Env = os.Environ()
	}
	detachProcessGroup(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, &ToolError{
			Kind:    KindProcessSpawn,
			Tool:    cmd.Tool,
			Message: cmd.maskOutput(err.Error()),
			Cause:   err,
		}
	}

	err := c.Wait()
	res := &ExecutionResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ToolError{
			Kind:     KindProcessExit,
			Tool:     cmd.Tool,
			ExitCode: res.ExitCode,
			Message:  cmd.maskOutput(tail(res.Stderr, res.Stdout)),
			Cause:    err,
		}
	}
	// Wait failed for a non-exit reason (I/O copy failure).
	return res, &ToolError{
		Kind:    KindProcessExit,
		Tool:    cmd.Tool,
		Message: fmt.Sprintf("waiting for process: %s", cmd.maskOutput(err.Error())),
		Cause:   err,
	}
}

// tail returns the last non-empty output, trimmed to maxMessageBytes.
func tail(preferred, fallback []byte) string {
	out := bytes.TrimSpace(preferred)
	if len(out) == 0 {
		out = bytes.TrimSpace(fallback)
	}
	if len(out) > maxMessageBytes {
		out = out[len(out)-maxMessageBytes:]
	}
	return string(out)
}
