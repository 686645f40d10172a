// Package credential resolves signing certificate material.
//
// A Resolver walks ordered sources for the certificate path and, separately,
// for the password. The first source that yields a non-empty value wins.
// No certificate path at all is not an error: signing is best-effort and is
// skipped for the run.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
)

// Source yields one candidate value.
type Source interface {
	// Name describes the source for logs (never the value).
	Name() string
	// Origin is recorded on the resolved Credential.
	Origin() core.CredentialSource
	// Lookup returns "" when the source provides nothing.
	Lookup() (string, error)
}

// Value is a Source backed by an already-loaded value.
type Value struct {
	Label string
	From  core.CredentialSource
	V     string
}

func (v Value) Name() string                  { return v.Label }
func (v Value) Origin() core.CredentialSource { return v.From }
func (v Value) Lookup() (string, error)       { return v.V, nil }

// File is a Source whose value is the content of a file, for secrets mounted
// on disk. Trailing newlines are trimmed.
type File struct {
	Label string
	Path  string
}

func (f File) Name() string                  { return f.Label }
func (f File) Origin() core.CredentialSource { return core.SourceFilePath }

func (f File) Lookup() (string, error) {
	if f.Path == "" {
		return "", nil
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", &core.FilesystemError{Op: "read", Path: f.Path, Cause: err}
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// Resolver resolves a Credential from ordered sources.
type Resolver struct {
	PathSources     []Source
	PasswordSources []Source
}

// FromConfig builds the standard source order:
//
//	path:     CSC_LINK | WIN_CERT_PATH, then config file / --certificate
//	password: CSC_KEY_PASSWORD | WIN_CERT_PASSWORD, then config file, then WIN_CERT_PASSWORD_FILE
func FromConfig(c config.Credential) *Resolver {
	return &Resolver{
		PathSources: []Source{
			Value{Label: strings.Join(config.CertificatePathEnv, "|"), From: core.SourceEnvVar, V: c.EnvPath},
			Value{Label: "certificate.path", From: core.SourceFilePath, V: c.Path},
		},
		PasswordSources: []Source{
			Value{Label: strings.Join(config.CertificatePasswordEnv, "|"), From: core.SourceEnvVar, V: c.EnvPassword.Reveal()},
			Value{Label: "certificate.password", From: core.SourceFilePath, V: c.Password.Reveal()},
			File{Label: "certificate.password_file", Path: c.PasswordFile},
		},
	}
}

// Resolve returns the credential, or nil when no certificate path is
// configured. A configured path that does not name a regular file is a
// ConfigurationInvalid error. The password defaults to empty, which some
// PFX files accept.
func (r *Resolver) Resolve(ctx context.Context) (*core.Credential, error) {
	if r == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, origin, err := first(r.PathSources)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, core.ConfigInvalidf("certificate %s does not exist", path)
	case err != nil:
		return nil, &core.FilesystemError{Op: "stat", Path: path, Cause: err}
	case !info.Mode().IsRegular():
		return nil, core.ConfigInvalidf("certificate %s is not a regular file", path)
	}

	password, _, err := first(r.PasswordSources)
	if err != nil {
		return nil, err
	}
	return &core.Credential{CertificatePath: path, Password: core.Secret(password), Source: origin}, nil
}

func first(sources []Source) (string, core.CredentialSource, error) {
	for _, s := range sources {
		v, err := s.Lookup()
		if err != nil {
			return "", "", fmt.Errorf("credential source %s: %w", s.Name(), err)
		}
		if v != "" {
			return v, s.Origin(), nil
		}
	}
	return "", "", nil
}

// Lazy resolves at most once per run, on first use, and logs the outcome once.
type Lazy struct {
	Resolver *Resolver
	Logger   *slog.Logger

	once sync.Once
	cred *core.Credential
	err  error
}

// NewLazy wraps r.
func NewLazy(r *Resolver, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{Resolver: r, Logger: logger}
}

// Get returns the resolved credential. A missing credential is reported as a
// ConfigurationMissing error so callers can skip signing.
func (l *Lazy) Get(ctx context.Context) (*core.Credential, error) {
	l.once.Do(func() {
		l.cred, l.err = l.Resolver.Resolve(ctx)
		switch {
		case l.err != nil:
			l.Logger.Error("resolving signing credential", "error", l.err)
		case l.cred == nil:
			l.err = core.ConfigMissingf("no PFX specified (%s); skipping signing",
				strings.Join(append(append([]string(nil), config.CertificatePathEnv...), "--certificate"), ", "))
			l.Logger.Warn("signing credential not configured", "reason", l.err.Error())
		default:
			l.Logger.Info("signing credential resolved", "credential", *l.cred)
		}
	})
	return l.cred, l.err
}
