package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
	"github.com/releasepost/releasepost/internal/credential"
	"github.com/releasepost/releasepost/internal/pipeline"
	"github.com/releasepost/releasepost/internal/report"
	"github.com/releasepost/releasepost/internal/signing"
	"github.com/releasepost/releasepost/internal/telemetry"
	"github.com/releasepost/releasepost/internal/transform"
)

// NewRunner assembles a pipeline runner from cfg.
func NewRunner(cfg config.Config, logger *slog.Logger) (*pipeline.Runner, error) {
	exec := core.NewExecutor("")
	primary := &signing.PrimaryTool{Tool: cfg.PrimaryTool, Exec: exec}
	var fallback signing.Backend
	if cfg.FallbackTool != "" {
		fallback = &signing.FallbackTool{Tool: cfg.FallbackTool, ProductName: cfg.ProductName, Exec: exec}
	}
	chain := signing.NewChain(logger, signing.NewGuard(cfg.SignConcurrency, cfg.SignRate), primary, fallback)

	reg, err := transform.Build(cfg.Transforms, transform.Deps{
		Chain:       chain,
		Credentials: credential.NewLazy(credential.FromConfig(cfg.Credential), logger),
		TargetOS:    cfg.TargetOS,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	classifier := core.NewClassifier(cfg.SignExtensions)
	logger.Debug("pipeline configured",
		"transforms", reg.Names(),
		"signable", classifier.SignableExtensions(),
		"workers", cfg.Workers)
	scanner := core.NewScanner(classifier)
	return pipeline.NewRunner(scanner, reg, pipeline.Options{
		Root:         cfg.Root,
		Workers:      cfg.Workers,
		RequireRoot:  cfg.RequireRoot,
		RequireFiles: cfg.RequireFiles,
	}, logger), nil
}

const telemetryShutdownTimeout = 5 * time.Second

// startTelemetry installs OTLP exporters when an endpoint is configured.
// Exporter problems never fail the run.
func startTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}
	shutdown, err := telemetry.Init(ctx, logger, telemetry.Config{
		Endpoint:   cfg.OTLPEndpoint,
		Insecure:   cfg.OTLPInsecure,
		Attributes: map[string]string{"releasepost.root": cfg.Root},
	})
	if err != nil {
		logger.Warn("telemetry disabled", "endpoint", cfg.OTLPEndpoint, "error", err)
		return func() {}
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("flushing telemetry", "error", err)
		}
	}
}

// runPipeline runs cfg and persists the report when a path is configured.
func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (report.Report, error) {
	stop := startTelemetry(ctx, cfg, logger)
	defer stop()

	runner, err := NewRunner(cfg, logger)
	if err != nil {
		return report.Report{}, err
	}
	rep, runErr := runner.Run(ctx)
	if cfg.ReportPath != "" && rep.RunID != "" {
		if err := report.Save(cfg.ReportPath, rep, report.Format(cfg.ReportFormat)); err != nil {
			logger.Error("writing report", "path", cfg.ReportPath, "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("saving report: %w", err)
			}
		} else {
			logger.Info("report written", "path", cfg.ReportPath, "format", cfg.ReportFormat)
		}
	}
	return rep, runErr
}

// signTransforms keeps sign, and verify when configured, in configured order.
func signTransforms(configured []string) []string {
	out := []string{config.TransformSign}
	for _, name := range configured {
		if name == config.TransformVerify {
			out = append(out, config.TransformVerify)
		}
	}
	return out
}

// exitCodeFor maps a run outcome to the process exit code.
func exitCodeFor(rep report.Report, err error) int {
	if err == nil {
		return rep.ExitCode
	}
	switch core.KindOf(err) {
	case core.KindConfigurationInvalid, core.KindConfigurationMissing, core.KindPlatformMismatch:
		return ExitConfigError
	default:
		return ExitInternalError
	}
}
