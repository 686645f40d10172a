package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable discriminator of the pipeline's error taxonomy.
// The string values appear in reports; do not rename.
type ErrorKind string

const (
	KindFilesystem           ErrorKind = "FilesystemError"
	KindProcessSpawn         ErrorKind = "ProcessSpawnError"
	KindProcessExit          ErrorKind = "ProcessExitError"
	KindConfigurationMissing ErrorKind = "ConfigurationMissing"
	KindConfigurationInvalid ErrorKind = "ConfigurationInvalid"
	KindPlatformMismatch     ErrorKind = "PlatformMismatch"
	KindCancelled            ErrorKind = "Cancelled"
	KindUnknown              ErrorKind = "UnknownError"
)

// FilesystemError represents a failed read, stat, delete or rename.
type FilesystemError struct {
	Op    string
	Path  string
	Cause error
}

func (e *FilesystemError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("filesystem failure (%s %s): %v", e.Op, e.Path, e.Cause)
}

func (e *FilesystemError) Unwrap() error { return e.Cause }

// ToolError represents a failed external tool invocation.
//
// Kind is KindProcessSpawn when the process could not be started and
// KindProcessExit when it ran and exited non-zero.
type ToolError struct {
	Kind     ErrorKind
	Tool     string
	ExitCode int
	Message  string
	Cause    error
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindProcessExit:
		if e.Message != "" {
			return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Message)
		}
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	case KindProcessSpawn:
		return fmt.Sprintf("%s could not be started: %s", e.Tool, e.Message)
	default:
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
	}
}

func (e *ToolError) Unwrap() error { return e.Cause }

// ConfigError covers ConfigurationMissing, ConfigurationInvalid and
// PlatformMismatch conditions.
type ConfigError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindConfigurationMissing:
		return fmt.Sprintf("configuration missing: %s", e.Message)
	case KindPlatformMismatch:
		return fmt.Sprintf("platform mismatch: %s", e.Message)
	default:
		return fmt.Sprintf("configuration invalid: %s", e.Message)
	}
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ConfigMissingf returns a ConfigurationMissing error.
func ConfigMissingf(format string, args ...any) error {
	return &ConfigError{Kind: KindConfigurationMissing, Message: fmt.Sprintf(format, args...)}
}

// ConfigInvalidf returns a ConfigurationInvalid error.
func ConfigInvalidf(format string, args ...any) error {
	return &ConfigError{Kind: KindConfigurationInvalid, Message: fmt.Sprintf(format, args...)}
}

// PlatformMismatchf returns a PlatformMismatch error.
func PlatformMismatchf(format string, args ...any) error {
	return &ConfigError{Kind: KindPlatformMismatch, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		return te.Kind
	}
	var ce *ConfigError
	if errors.As(err, &ce) && ce != nil {
		return ce.Kind
	}
	var fe *FilesystemError
	if errors.As(err, &fe) && fe != nil {
		return KindFilesystem
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsSkippable reports whether err should turn into a logged no-op instead of
// a failure: missing configuration and platform mismatch.
func IsSkippable(err error) bool {
	switch KindOf(err) {
	case KindConfigurationMissing, KindPlatformMismatch:
		return true
	default:
		return false
	}
}
