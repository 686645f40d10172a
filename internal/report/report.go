// Package report aggregates transform results into a canonical run report.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/releasepost/releasepost/internal/core"
)

// Counts tallies results by outcome.
type Counts struct {
	Success int `json:"success" yaml:"success"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Failed  int `json:"failed" yaml:"failed"`
}

func (c *Counts) add(o core.Outcome) {
	switch o {
	case core.OutcomeSuccess:
		c.Success++
	case core.OutcomeSkipped:
		c.Skipped++
	case core.OutcomeFailed:
		c.Failed++
	}
}

// Total is the number of tallied results.
func (c Counts) Total() int { return c.Success + c.Skipped + c.Failed }

// Report is the outcome of one pipeline run.
//
// Results are in canonical order: by artifact path, then by the transform's
// registry position. Digest covers everything except RunID and the
// timestamps, so identical trees processed serially or in parallel produce
// the same digest.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Root       string    `json:"root" yaml:"root"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	State      string    `json:"state" yaml:"state"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`

	Transforms  []string               `json:"transforms" yaml:"transforms"`
	Results     []core.TransformResult `json:"results" yaml:"results"`
	Counts      Counts                 `json:"counts" yaml:"counts"`
	ByTransform map[string]Counts      `json:"by_transform" yaml:"by_transform"`
	ScanErrors  []string               `json:"scan_errors,omitempty" yaml:"scan_errors,omitempty"`
	Digest      core.Digest            `json:"digest" yaml:"digest"`
}

// Meta is the run-level information supplied when building a report.
type Meta struct {
	RunID      string
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	ExitCode   int
}

// Build assembles a canonical report from results.
func Build(meta Meta, transforms []string, results []core.TransformResult, scanErrors []string) (Report, error) {
	rep := Report{
		RunID:       meta.RunID,
		Root:        meta.Root,
		StartedAt:   meta.StartedAt.UTC(),
		FinishedAt:  meta.FinishedAt.UTC(),
		State:       meta.State,
		ExitCode:    meta.ExitCode,
		Transforms:  append([]string{}, transforms...),
		Results:     Canonicalize(results, transforms),
		ByTransform: make(map[string]Counts, len(transforms)),
		ScanErrors:  append([]string(nil), scanErrors...),
	}
	sort.Strings(rep.ScanErrors)
	for _, name := range transforms {
		rep.ByTransform[name] = Counts{}
	}
	for _, r := range rep.Results {
		rep.Counts.add(r.Outcome)
		c := rep.ByTransform[r.TransformName]
		c.add(r.Outcome)
		rep.ByTransform[r.TransformName] = c
	}

	d, err := rep.ComputeDigest()
	if err != nil {
		return Report{}, err
	}
	rep.Digest = d
	return rep, nil
}

// Canonicalize returns a copy of results sorted by artifact path, then by
// the transform's position in order. Unknown transforms sort last by name.
func Canonicalize(results []core.TransformResult, order []string) []core.TransformResult {
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	rank := func(name string) int {
		if i, ok := pos[name]; ok {
			return i
		}
		return len(order)
	}

	out := append([]core.TransformResult{}, results...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Artifact.AbsolutePath != b.Artifact.AbsolutePath {
			return a.Artifact.AbsolutePath < b.Artifact.AbsolutePath
		}
		if ra, rb := rank(a.TransformName), rank(b.TransformName); ra != rb {
			return ra < rb
		}
		return a.TransformName < b.TransformName
	})
	return out
}

// digestView is the subset of Report covered by the digest.
type digestView struct {
	Root        string                 `json:"root"`
	State       string                 `json:"state"`
	ExitCode    int                    `json:"exit_code"`
	Transforms  []string               `json:"transforms"`
	Results     []core.TransformResult `json:"results"`
	Counts      Counts                 `json:"counts"`
	ByTransform map[string]Counts      `json:"by_transform"`
	ScanErrors  []string               `json:"scan_errors,omitempty"`
}

// ComputeDigest hashes the RFC 8785 canonical JSON of the report content.
func (r Report) ComputeDigest() (core.Digest, error) {
	raw, err := json.Marshal(digestView{
		Root:        r.Root,
		State:       r.State,
		ExitCode:    r.ExitCode,
		Transforms:  r.Transforms,
		Results:     r.Results,
		Counts:      r.Counts,
		ByTransform: r.ByTransform,
		ScanErrors:  r.ScanErrors,
	})
	if err != nil {
		return "", fmt.Errorf("marshal report for digest: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize report: %w", err)
	}
	return core.DigestBytes(canon), nil
}

// SignableFailed reports whether any Signable artifact ended Failed.
func (r Report) SignableFailed() bool {
	for _, res := range r.Results {
		if res.Outcome == core.OutcomeFailed && res.Artifact.Category == core.CategorySignable {
			return true
		}
	}
	return false
}

// Failures returns the Failed results in canonical order.
func (r Report) Failures() []core.TransformResult {
	var out []core.TransformResult
	for _, res := range r.Results {
		if res.Outcome == core.OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}
