package transform

import (
	"log/slog"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
	"github.com/releasepost/releasepost/internal/signing"
)

// Deps carries what the built-in transforms need.
type Deps struct {
	Chain       *signing.Chain
	Credentials CredentialProvider
	TargetOS    string
	HostOS      string
	Logger      *slog.Logger
}

// Build creates a registry from an ordered list of transform names.
// Unknown and duplicate names are configuration errors.
func Build(names []string, deps Deps) (*Registry, error) {
	ts := make([]Transform, 0, len(names))
	for _, name := range names {
		switch name {
		case config.TransformStripMaps:
			ts = append(ts, StripMaps{Logger: deps.Logger})
		case config.TransformSign:
			if deps.Chain == nil || deps.Credentials == nil {
				return nil, core.ConfigInvalidf("transform %q requires a signing chain and credentials", name)
			}
			ts = append(ts, &Sign{
				Chain:       deps.Chain,
				Credentials: deps.Credentials,
				TargetOS:    deps.TargetOS,
				HostOS:      deps.HostOS,
				Logger:      deps.Logger,
			})
		case config.TransformVerify:
			if deps.Chain == nil {
				return nil, core.ConfigInvalidf("transform %q requires a signing chain", name)
			}
			ts = append(ts, &Verify{Chain: deps.Chain, Logger: deps.Logger})
		default:
			return nil, core.ConfigInvalidf("unknown transform %q", name)
		}
	}
	return NewRegistry(ts...)
}
