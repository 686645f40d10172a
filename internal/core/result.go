package core

// Outcome is the terminal state of a single transform on a single artifact.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// TransformResult is the terminal outcome of one transform applied to one artifact.
type TransformResult struct {
	Artifact      ArtifactRecord `json:"artifact" yaml:"artifact"`
	TransformName string         `json:"transform" yaml:"transform"`
	Outcome       Outcome        `json:"outcome" yaml:"outcome"`
	Detail        string         `json:"detail,omitempty" yaml:"detail,omitempty"`

	// ErrorKind classifies Failed and Skipped outcomes that originate from an error.
	ErrorKind ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	// Backend names the signing backend that produced the outcome, if any.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// DigestBefore/DigestAfter are content digests around a mutating transform.
	DigestBefore Digest `json:"digest_before,omitempty" yaml:"digest_before,omitempty"`
	DigestAfter  Digest `json:"digest_after,omitempty" yaml:"digest_after,omitempty"`
}

// Succeeded builds a Success result.
func Succeeded(transform string, rec ArtifactRecord, detail string) TransformResult {
	return TransformResult{Artifact: rec, TransformName: transform, Outcome: OutcomeSuccess, Detail: detail}
}

// Skipped builds a Skipped result. err may be nil.
func Skipped(transform string, rec ArtifactRecord, detail string, err error) TransformResult {
	r := TransformResult{Artifact: rec, TransformName: transform, Outcome: OutcomeSkipped, Detail: detail}
	if err != nil {
		r.ErrorKind = KindOf(err)
		if r.Detail == "" {
			r.Detail = err.Error()
		}
	}
	return r
}

// Failed builds a Failed result from err.
func Failed(transform string, rec ArtifactRecord, err error) TransformResult {
	r := TransformResult{Artifact: rec, TransformName: transform, Outcome: OutcomeFailed}
	if err != nil {
		r.ErrorKind = KindOf(err)
		r.Detail = err.Error()
	}
	return r
}

// IsTerminal reports whether o is one of the three terminal outcomes.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeSkipped, OutcomeFailed:
		return true
	default:
		return false
	}
}
