package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/pipeline"
)

const (
	ExitSuccess           = pipeline.ExitSuccess
	ExitArtifactFailure   = pipeline.ExitArtifactFailure
	ExitInvalidInvocation = 2
	ExitConfigError       = pipeline.ExitSetupError
	ExitInternalError     = 4
	ExitCancelled         = pipeline.ExitCancelled
)

// Command selects which transforms a run applies.
type Command string

const (
	// CommandRun applies the configured transform list.
	CommandRun Command = "run"
	// CommandStripMaps only deletes debug maps.
	CommandStripMaps Command = "strip-maps"
	// CommandSign only signs; the root may come from a packager hook context.
	CommandSign Command = "sign"
)

// Invocation is the parsed command line.
//
// Flags keeps the parsed flag set so config.Load can tell explicitly set
// flags from defaults.
type Invocation struct {
	Command     Command
	Root        string
	ConfigFile  string
	ContextFile string
	Help        bool
	Usage       string
	Flags       *pflag.FlagSet
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses `releasepost <command> [flags] [root]`.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("missing command (expected run|strip-maps|sign)\n%s", usage(nil))
	}
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return Invocation{Help: true, Usage: usage(nil)}, nil
	}

	cmd, err := parseCommand(args[0])
	if err != nil {
		return Invocation{}, err
	}

	fs := pflag.NewFlagSet("releasepost "+string(cmd), pflag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed
	fs.SortFlags = false

	var inv Invocation
	inv.Command = cmd
	fs.StringVar(&inv.ConfigFile, "config", "", "configuration file (yaml, json or toml)")
	if cmd == CommandSign {
		fs.StringVar(&inv.ContextFile, "context", "", "packager hook context JSON supplying appOutDir")
	}
	config.RegisterFlags(fs)

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Invocation{Command: cmd, Help: true, Usage: usage(fs)}, nil
		}
		return Invocation{}, invalidInvocationf("%v", err)
	}
	switch fs.NArg() {
	case 0:
	case 1:
		if fs.Changed("root") {
			return Invocation{}, invalidInvocationf("root given both as --root and as an argument")
		}
		inv.Root = filepath.Clean(fs.Arg(0))
	default:
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args()[1:], " "))
	}
	inv.Flags = fs
	return inv, nil
}

func parseCommand(raw string) (Command, error) {
	switch Command(strings.ToLower(strings.TrimSpace(raw))) {
	case CommandRun:
		return CommandRun, nil
	case CommandStripMaps:
		return CommandStripMaps, nil
	case CommandSign:
		return CommandSign, nil
	default:
		return "", invalidInvocationf("unknown command %q (expected run|strip-maps|sign)", raw)
	}
}

func usage(fs *pflag.FlagSet) string {
	var b bytes.Buffer
	b.WriteString("usage: releasepost run|strip-maps|sign [flags] [root]\n")
	if fs != nil {
		b.WriteString(fs.FlagUsages())
	}
	return b.String()
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
