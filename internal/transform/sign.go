package transform

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
	"github.com/releasepost/releasepost/internal/signing"
)

// CredentialProvider supplies the run's signing credential. *credential.Lazy
// implements it.
type CredentialProvider interface {
	Get(ctx context.Context) (*core.Credential, error)
}

// Sign signs Signable artifacts through a signing.Chain.
type Sign struct {
	Chain       *signing.Chain
	Credentials CredentialProvider

	// TargetOS is the platform signing is meant for; empty matches any host.
	TargetOS string
	// HostOS defaults to runtime.GOOS.
	HostOS string

	Logger *slog.Logger

	mismatchOnce sync.Once
}

func (s *Sign) Name() string { return config.TransformSign }

func (s *Sign) Applies(rec core.ArtifactRecord) bool { return rec.Category == core.CategorySignable }

func (s *Sign) Apply(ctx context.Context, rec core.ArtifactRecord, _ []core.TransformResult) core.TransformResult {
	logger := s.logger().With("file", rec.AbsolutePath)

	if err := s.checkPlatform(); err != nil {
		s.mismatchOnce.Do(func() {
			s.logger().Info("signing skipped for this run", "reason", err.Error())
		})
		return core.Skipped(s.Name(), rec, "", err)
	}

	cred, err := s.Credentials.Get(ctx)
	if err != nil {
		if core.IsSkippable(err) {
			return core.Skipped(s.Name(), rec, "", err)
		}
		return core.Failed(s.Name(), rec, err)
	}

	before, err := core.DigestFile(rec.AbsolutePath)
	if err != nil {
		return core.Failed(s.Name(), rec, err)
	}
	backend, err := s.Chain.Sign(ctx, logger, rec.AbsolutePath, *cred)
	if err != nil {
		res := core.Failed(s.Name(), rec, err)
		res.DigestBefore = before
		return res
	}
	after, err := core.DigestFile(rec.AbsolutePath)
	if err != nil {
		return core.Failed(s.Name(), rec, err)
	}

	logger.Info("signed", "backend", backend)
	res := core.Succeeded(s.Name(), rec, "signed with "+backend)
	res.Backend = backend
	res.DigestBefore = before
	res.DigestAfter = after
	return res
}

func (s *Sign) checkPlatform() error {
	host := s.HostOS
	if host == "" {
		host = runtime.GOOS
	}
	if s.TargetOS != "" && s.TargetOS != host {
		return core.PlatformMismatchf("target platform is %s, host is %s", s.TargetOS, host)
	}
	return nil
}

func (s *Sign) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
