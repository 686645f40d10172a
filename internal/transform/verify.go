package transform

import (
	"context"
	"log/slog"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
	"github.com/releasepost/releasepost/internal/signing"
)

// Verify checks signatures produced earlier in the same run. Artifacts whose
// sign result is absent or unsuccessful are skipped.
type Verify struct {
	Chain  *signing.Chain
	Logger *slog.Logger
}

func (v *Verify) Name() string { return config.TransformVerify }

func (v *Verify) Applies(rec core.ArtifactRecord) bool { return rec.Category == core.CategorySignable }

func (v *Verify) Apply(ctx context.Context, rec core.ArtifactRecord, prior []core.TransformResult) core.TransformResult {
	if !signedInRun(prior) {
		return core.Skipped(v.Name(), rec, "not signed in this run", nil)
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := v.Chain.Verify(ctx, logger.With("file", rec.AbsolutePath), rec.AbsolutePath)
	if err != nil {
		return core.Failed(v.Name(), rec, err)
	}
	res := core.Succeeded(v.Name(), rec, "signature verified by "+backend)
	res.Backend = backend
	return res
}

func signedInRun(prior []core.TransformResult) bool {
	for _, r := range prior {
		if r.TransformName == config.TransformSign && r.Outcome == core.OutcomeSuccess {
			return true
		}
	}
	return false
}
