package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/report"
)

// Packager mirrors the packager object of a build-tool hook context.
type Packager struct {
	AppOutDir string `json:"appOutDir"`
}

// HookContext is the subset of a packager's after-pack/sign hook context
// that locates the output directory.
type HookContext struct {
	AppOutDir string    `json:"appOutDir"`
	Packager  *Packager `json:"packager,omitempty"`
}

// OutDir returns AppOutDir, falling back to Packager.AppOutDir.
func (h HookContext) OutDir() string {
	if h.AppOutDir != "" {
		return h.AppOutDir
	}
	if h.Packager != nil {
		return h.Packager.AppOutDir
	}
	return ""
}

// LoadHookContext reads a hook context from a JSON file. Comments and
// trailing commas are accepted. Fields other than the output directory are
// ignored.
func LoadHookContext(path string) (HookContext, error) {
	var hc HookContext
	data, err := os.ReadFile(path)
	if err != nil {
		return HookContext{}, fmt.Errorf("reading hook context: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &hc); err != nil {
		return HookContext{}, fmt.Errorf("decoding hook context %s: %w", path, err)
	}
	return hc, nil
}

// HookError reports a hook run that did not succeed.
type HookError struct {
	ExitCode int
	Report   report.Report
}

func (e *HookError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("releasepost: run exited with code %d (%d failed)", e.ExitCode, e.Report.Counts.Failed)
}

// StripMaps deletes every debug map under rootDir. Configuration comes from
// the environment. A missing rootDir is a no-op.
func StripMaps(ctx context.Context, rootDir string) error {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return err
	}
	logger, err := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	cfg.Root = rootDir
	cfg.Transforms = []string{config.TransformStripMaps}
	return runHook(ctx, cfg, logger)
}

// SignArtifacts signs every signable artifact under outputDir, or under the
// hook context's output directory when outputDir is empty. Configuration and
// certificate material come from the environment. A missing directory, a
// missing certificate and a non-target platform are logged no-ops; an
// artifact that both signers fail on is an error.
func SignArtifacts(ctx context.Context, outputDir string, hc HookContext) error {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return err
	}
	logger, err := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	root := outputDir
	if root == "" {
		root = hc.OutDir()
	}
	if info, err := os.Stat(root); root == "" || err != nil || !info.IsDir() {
		logger.Warn("output directory not found; skipping signing", "dir", root)
		return nil
	}
	cfg.Root = root
	cfg.Transforms = signTransforms(cfg.Transforms)
	return runHook(ctx, cfg, logger)
}

func runHook(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rep, err := runPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rep.ExitCode != ExitSuccess {
		return &HookError{ExitCode: rep.ExitCode, Report: rep}
	}
	return nil
}
