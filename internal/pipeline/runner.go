// Package pipeline drives a run: scan the tree, apply the transform registry
// to each targeted artifact, and assemble the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/releasepost/releasepost/internal/core"
	"github.com/releasepost/releasepost/internal/report"
	"github.com/releasepost/releasepost/internal/transform"
)

// Run exit codes carried by the report.
const (
	ExitSuccess         = 0
	ExitArtifactFailure = 1
	ExitSetupError      = 3
	ExitCancelled       = 5
)

// DetailCancelled marks artifacts that were never started because the run
// was cancelled.
const DetailCancelled = "cancelled before processing"

const instrumentationName = "github.com/releasepost/releasepost/internal/pipeline"

// Options controls a run.
type Options struct {
	Root string

	// Workers bounds how many artifacts are processed at once; 1 is serial.
	Workers int

	// RequireRoot makes a missing or non-directory root a setup error.
	RequireRoot bool
	// RequireFiles makes a tree with no targeted artifact a setup error.
	RequireFiles bool
}

// Runner executes one pipeline run. A Runner is single use.
type Runner struct {
	Scanner  *core.Scanner
	Registry *transform.Registry
	Options  Options
	Logger   *slog.Logger

	machine *Machine
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRunner wires a runner.
func NewRunner(scanner *core.Scanner, registry *transform.Registry, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if scanner == nil {
		scanner = core.NewScanner(nil)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		Scanner:  scanner,
		Registry: registry,
		Options:  opts,
		Logger:   logger,
		machine:  NewMachine(),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
}

// State returns the run's current lifecycle state.
func (r *Runner) State() RunState { return r.machine.State() }

// History returns the lifecycle states entered so far.
func (r *Runner) History() []RunState { return r.machine.History() }

// Run executes the pipeline.
//
// The returned report is complete whenever err is nil or a setup error; its
// ExitCode is ExitCancelled when ctx was cancelled before every artifact
// started, else ExitArtifactFailure when a Signable artifact failed. Setup
// errors move the run to Failed and are returned as *core.ConfigError.
func (r *Runner) Run(ctx context.Context) (report.Report, error) {
	if r.Registry == nil {
		return report.Report{}, errors.New("nil transform registry")
	}
	runID := uuid.NewString()
	started := r.now()
	logger := r.Logger.With("run_id", runID)

	root, err := filepath.Abs(r.Options.Root)
	if err != nil {
		return report.Report{}, fmt.Errorf("resolving root %q: %w", r.Options.Root, err)
	}
	meta := report.Meta{RunID: runID, Root: root, StartedAt: started}
	rec := report.NewRecorder()

	ctx, span := r.tracer.Start(ctx, "releasepost.run", trace.WithAttributes(
		attribute.String("releasepost.root", root),
		attribute.Int("releasepost.workers", r.Options.Workers),
	))
	defer span.End()

	if setupErr := r.checkRoot(root); setupErr != nil {
		return r.fail(StateIdle, meta, rec, logger, span, setupErr)
	}

	if err := r.machine.Transition(StateIdle, StateScanning); err != nil {
		return report.Report{}, err
	}
	logger.Info("scanning", "root", root, "transforms", r.Registry.Names())

	var targets []core.ArtifactRecord
	scanned := 0
	for a, err := range r.Scanner.Scan(root) {
		if err != nil {
			logger.Warn("scan error", "error", err)
			rec.RecordScanError(err)
			continue
		}
		scanned++
		if r.Registry.Targets(a) {
			targets = append(targets, a)
		}
	}
	logger.Info("scan complete", "files", scanned, "targeted", len(targets))

	if r.Options.RequireFiles && len(targets) == 0 {
		return r.fail(StateScanning, meta, rec, logger, span,
			core.ConfigInvalidf("no targeted artifacts found under %s", root))
	}

	if err := r.machine.Transition(StateScanning, StateProcessing); err != nil {
		return report.Report{}, err
	}
	notStarted := r.process(ctx, targets, rec, logger)

	if err := r.machine.Transition(StateProcessing, StateReporting); err != nil {
		return report.Report{}, err
	}
	meta.FinishedAt = r.now()
	meta.State = string(StateDone)

	cancelled := notStarted > 0
	switch {
	case cancelled:
		meta.ExitCode = ExitCancelled
	case signableFailed(rec.Snapshot()):
		meta.ExitCode = ExitArtifactFailure
	default:
		meta.ExitCode = ExitSuccess
	}
	rep, err := rec.Report(meta, r.Registry.Names())
	if err != nil {
		return report.Report{}, err
	}

	if err := r.machine.Transition(StateReporting, StateDone); err != nil {
		return report.Report{}, err
	}

	span.SetAttributes(
		attribute.Int("releasepost.results.success", rep.Counts.Success),
		attribute.Int("releasepost.results.skipped", rep.Counts.Skipped),
		attribute.Int("releasepost.results.failed", rep.Counts.Failed),
	)
	if meta.ExitCode != ExitSuccess {
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", meta.ExitCode))
	}
	logger.Info("run finished",
		"success", rep.Counts.Success,
		"skipped", rep.Counts.Skipped,
		"failed", rep.Counts.Failed,
		"exit_code", rep.ExitCode,
		"cancelled", cancelled,
		"digest", rep.Digest)
	return rep, nil
}

func (r *Runner) checkRoot(root string) error {
	info, err := os.Stat(root)
	switch {
	case err == nil && info.IsDir():
		return nil
	case !r.Options.RequireRoot:
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.Logger.Warn("root not found; nothing to do", "root", root)
		case err != nil:
			r.Logger.Warn("root is not accessible; nothing to do", "root", root, "error", err)
		default:
			r.Logger.Warn("root is not a directory; nothing to do", "root", root)
		}
		return nil
	case err != nil:
		return &core.ConfigError{Kind: core.KindConfigurationInvalid, Message: "root " + root + " is not accessible", Cause: err}
	default:
		return core.ConfigInvalidf("root %s is not a directory", root)
	}
}

func (r *Runner) fail(from RunState, meta report.Meta, rec *report.Recorder, logger *slog.Logger, span trace.Span, setupErr error) (report.Report, error) {
	if err := r.machine.Transition(from, StateFailed); err != nil {
		return report.Report{}, errors.Join(setupErr, err)
	}
	logger.Error("run setup failed", "error", setupErr)
	span.RecordError(setupErr)
	span.SetStatus(codes.Error, setupErr.Error())

	meta.FinishedAt = r.now()
	meta.State = string(StateFailed)
	meta.ExitCode = ExitSetupError
	rep, err := rec.Report(meta, r.Registry.Names())
	if err != nil {
		return report.Report{}, errors.Join(setupErr, err)
	}
	return rep, setupErr
}

// process applies the registry to every target on a bounded pool and
// returns how many artifacts were never started.
//
// Once ctx is cancelled no further artifact starts; those are recorded as
// Skipped. Artifacts already started run to completion under a context that
// ignores the cancellation, so no signing tool is interrupted.
func (r *Runner) process(ctx context.Context, targets []core.ArtifactRecord, rec *report.Recorder, logger *slog.Logger) int {
	var g errgroup.Group
	g.SetLimit(r.Options.Workers)

	var notStarted atomic.Int64
	for _, a := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				notStarted.Add(1)
				rec.Record(r.Registry.SkipAll(a, DetailCancelled, err)...)
				return nil
			}
			rec.Record(r.processOne(context.WithoutCancel(ctx), a, logger)...)
			return nil
		})
	}
	_ = g.Wait()

	n := int(notStarted.Load())
	if n > 0 {
		logger.Warn("run cancelled; remaining artifacts were not started", "not_started", n)
	}
	return n
}

func (r *Runner) processOne(ctx context.Context, a core.ArtifactRecord, logger *slog.Logger) []core.TransformResult {
	ctx, span := r.tracer.Start(ctx, "releasepost.artifact", trace.WithAttributes(
		attribute.String("releasepost.artifact.path", a.AbsolutePath),
		attribute.String("releasepost.artifact.category", string(a.Category)),
		attribute.Int64("releasepost.artifact.size", a.SizeBytes),
	))
	defer span.End()

	results := r.Registry.Apply(ctx, a)
	for _, res := range results {
		attrs := []any{
			"file", a.AbsolutePath,
			"transform", res.TransformName,
			"outcome", res.Outcome,
		}
		switch res.Outcome {
		case core.OutcomeFailed:
			attrs = append(attrs, "error_kind", res.ErrorKind, "detail", res.Detail)
			span.SetStatus(codes.Error, res.TransformName+": "+res.Detail)
			if a.Category == core.CategorySignable {
				logger.Error("transform failed", attrs...)
			} else {
				logger.Warn("transform failed", attrs...)
			}
		case core.OutcomeSkipped:
			logger.Debug("transform skipped", append(attrs, "detail", res.Detail)...)
		default:
			logger.Debug("transform succeeded", append(attrs, "detail", res.Detail)...)
		}
	}
	return results
}

func signableFailed(results []core.TransformResult) bool {
	for _, res := range results {
		if res.Outcome == core.OutcomeFailed && res.Artifact.Category == core.CategorySignable {
			return true
		}
	}
	return false
}
