package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/report"
)

// Result is the outcome of Execute.
type Result struct {
	ExitCode int
	Report   *report.Report
}

// Execute maps a parsed Invocation to a pipeline run.
//
// Responsibilities:
//   - Resolve configuration (defaults, config file, env, flags).
//   - Pick the root: positional argument, then hook context, then config.
//   - Translate the run outcome to a semantic exit code, including panics.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (res Result, execErr error) {
	res.ExitCode = ExitInternalError
	if inv.Help {
		fmt.Fprint(stdout, inv.Usage)
		return Result{ExitCode: ExitSuccess}, nil
	}

	cfg, err := config.Load(config.Options{ConfigFile: inv.ConfigFile, Flags: inv.Flags})
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	switch inv.Command {
	case CommandStripMaps:
		cfg.Transforms = []string{config.TransformStripMaps}
	case CommandSign:
		cfg.Transforms = signTransforms(cfg.Transforms)
	}

	switch {
	case inv.Root != "":
		cfg.Root = inv.Root
	case inv.ContextFile != "":
		hc, err := LoadHookContext(inv.ContextFile)
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
		if dir := hc.OutDir(); dir != "" {
			cfg.Root = dir
		}
	}
	if cfg.Root == "" {
		res.ExitCode = ExitInvalidInvocation
		return res, invalidInvocationf("no root directory given (argument, --root, --context or RELEASEPOST_ROOT)")
	}

	logger, err := NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.Report = nil
			execErr = fmt.Errorf("panic: %v", r)
			logger.Error("internal error", "panic", r)
		}
	}()

	rep, err := runPipeline(ctx, cfg, logger)
	res.ExitCode = exitCodeFor(rep, err)
	if rep.RunID != "" {
		res.Report = &rep
		fmt.Fprintf(stdout, "releasepost: %d succeeded, %d skipped, %d failed (exit %d)\n",
			rep.Counts.Success, rep.Counts.Skipped, rep.Counts.Failed, res.ExitCode)
	}
	return res, err
}
