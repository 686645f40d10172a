package transform

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
)

// StripMaps deletes generated debug-map files. Deleting an already absent
// file succeeds, so repeated runs converge on the same tree.
type StripMaps struct {
	Logger *slog.Logger
}

func (StripMaps) Name() string { return config.TransformStripMaps }

func (StripMaps) Applies(rec core.ArtifactRecord) bool {
	return rec.Category == core.CategoryDebugMap || rec.Extension == core.DebugMapExtension
}

func (s StripMaps) Apply(_ context.Context, rec core.ArtifactRecord, _ []core.TransformResult) core.TransformResult {
	err := os.Remove(rec.AbsolutePath)
	switch {
	case err == nil:
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("deleted debug map", "file", rec.AbsolutePath)
		return core.Succeeded(s.Name(), rec, "deleted")
	case errors.Is(err, fs.ErrNotExist):
		return core.Succeeded(s.Name(), rec, "already absent")
	default:
		return core.Failed(s.Name(), rec, &core.FilesystemError{Op: "remove", Path: rec.AbsolutePath, Cause: err})
	}
}
