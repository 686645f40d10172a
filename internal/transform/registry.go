// Package transform defines the per-artifact transforms and the ordered
// registry that applies them.
package transform

import (
	"context"

	"github.com/releasepost/releasepost/internal/core"
)

// Transform is one post-processing step.
//
// Applies is a pure predicate over the scanned record. Apply always returns
// a terminal result; prior holds the results already produced for the same
// artifact in this run, in registry order.
type Transform interface {
	Name() string
	Applies(rec core.ArtifactRecord) bool
	Apply(ctx context.Context, rec core.ArtifactRecord, prior []core.TransformResult) core.TransformResult
}

// DetailAborted marks transforms skipped because an earlier transform on the
// same artifact failed.
const DetailAborted = "aborted: an earlier transform on this artifact failed"

// Registry is an ordered, duplicate-free list of transforms.
type Registry struct {
	transforms []Transform
	index      map[string]int
}

// NewRegistry builds a registry in the given order.
func NewRegistry(ts ...Transform) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(ts))}
	for _, t := range ts {
		if t == nil {
			return nil, core.ConfigInvalidf("nil transform")
		}
		name := t.Name()
		if _, dup := r.index[name]; dup {
			return nil, core.ConfigInvalidf("duplicate transform %q", name)
		}
		r.index[name] = len(r.transforms)
		r.transforms = append(r.transforms, t)
	}
	return r, nil
}

// Transforms returns the registered transforms in order.
func (r *Registry) Transforms() []Transform { return append([]Transform(nil), r.transforms...) }

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.transforms))
	for i, t := range r.transforms {
		out[i] = t.Name()
	}
	return out
}

// Index returns the registry position of name.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

// Targets reports whether any registered transform applies to rec.
func (r *Registry) Targets(rec core.ArtifactRecord) bool {
	for _, t := range r.transforms {
		if t.Applies(rec) {
			return true
		}
	}
	return false
}

// Apply runs every applicable transform on rec in registry order.
//
// Exactly one result is produced per applicable transform. After a Failed
// result the remaining applicable transforms are recorded Skipped without
// being invoked.
func (r *Registry) Apply(ctx context.Context, rec core.ArtifactRecord) []core.TransformResult {
	var results []core.TransformResult
	failed := false
	for _, t := range r.transforms {
		if !t.Applies(rec) {
			continue
		}
		if failed {
			results = append(results, core.Skipped(t.Name(), rec, DetailAborted, nil))
			continue
		}
		res := t.Apply(ctx, rec, results)
		res.TransformName = t.Name()
		res.Artifact = rec
		if res.Outcome == core.OutcomeFailed {
			failed = true
		}
		results = append(results, res)
	}
	return results
}

// SkipAll records every applicable transform on rec as Skipped with detail.
// It is used for artifacts that were never started, such as after cancellation.
func (r *Registry) SkipAll(rec core.ArtifactRecord, detail string, err error) []core.TransformResult {
	var results []core.TransformResult
	for _, t := range r.transforms {
		if t.Applies(rec) {
			results = append(results, core.Skipped(t.Name(), rec, detail, err))
		}
	}
	return results
}
