package report

import (
	"sync"

	"github.com/releasepost/releasepost/internal/core"
)

// Recorder is a concurrency-safe accumulator of transform results.
//
// Recording takes a single mutex and never blocks on I/O. Arrival order is
// irrelevant: reports are canonicalized after collection.
type Recorder struct {
	mu         sync.Mutex
	results    []core.TransformResult
	scanErrors []string
}

func NewRecorder() *Recorder { return &Recorder{} }

// Record appends results.
func (r *Recorder) Record(results ...core.TransformResult) {
	if r == nil || len(results) == 0 {
		return
	}
	r.mu.Lock()
	r.results = append(r.results, results...)
	r.mu.Unlock()
}

// RecordScanError notes a scan error element.
func (r *Recorder) RecordScanError(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	r.scanErrors = append(r.scanErrors, err.Error())
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the recorded results.
func (r *Recorder) Snapshot() []core.TransformResult {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.TransformResult, len(r.results))
	copy(out, r.results)
	return out
}

// Report builds a canonical report from what has been recorded so far.
func (r *Recorder) Report(meta Meta, transforms []string) (Report, error) {
	r.mu.Lock()
	results := append([]core.TransformResult(nil), r.results...)
	scanErrors := append([]string(nil), r.scanErrors...)
	r.mu.Unlock()
	return Build(meta, transforms, results, scanErrors)
}
