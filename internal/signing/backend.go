// Package signing invokes external code-signing tools.
//
// Two backends exist: PrimaryTool drives the platform signer (signtool) and
// FallbackTool drives an alternate signer (osslsigncode) that writes a signed
// copy next to the original and renames it into place. Chain composes them:
// the fallback runs only after the primary fails, once, and never loops.
package signing

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/releasepost/releasepost/internal/core"
)

// Backend is a signing capability.
type Backend interface {
	Name() string
	Sign(ctx context.Context, file string, cred core.Credential) error
	Verify(ctx context.Context, file string) error
}

// Runner executes a tool invocation. *core.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, cmd core.Command) (*core.ExecutionResult, error)
}

// SignedSuffix names the fallback signer's temporary output sibling.
const SignedSuffix = ".signed"

// PrimaryTool signs in place with a signtool-compatible CLI:
//
//	signtool sign /fd sha256 /a /f <pfx> /p <password> <file>
type PrimaryTool struct {
	Tool string
	Exec Runner
}

func (p *PrimaryTool) Name() string { return p.Tool }

func (p *PrimaryTool) Sign(ctx context.Context, file string, cred core.Credential) error {
	pw := cred.Password.Reveal()
	_, err := p.Exec.Execute(ctx, core.Command{
		Tool:   p.Tool,
		Args:   []string{"sign", "/fd", "sha256", "/a", "/f", cred.CertificatePath, "/p", pw, file},
		Redact: []string{pw},
	})
	return err
}

// Verify runs: signtool verify /pa <file>
func (p *PrimaryTool) Verify(ctx context.Context, file string) error {
	_, err := p.Exec.Execute(ctx, core.Command{Tool: p.Tool, Args: []string{"verify", "/pa", file}})
	return err
}

// FallbackTool signs with an osslsigncode-compatible CLI:
//
//	osslsigncode sign -pkcs12 <pfx> -pass <password> -n <product> -in <file> -out <file>.signed
//
// The original is replaced only after the tool succeeds, by renaming the
// sibling over it, so a half-written artifact is never left in place.
type FallbackTool struct {
	Tool string

	// ProductName is embedded as the program name; "-n" is omitted when empty.
	ProductName string

	Exec Runner
}

func (f *FallbackTool) Name() string { return f.Tool }

// Sign signs the file a symlink points to, so the link keeps pointing at
// the signed artifact instead of being replaced by a copy.
func (f *FallbackTool) Sign(ctx context.Context, file string, cred core.Credential) error {
	target, err := filepath.EvalSymlinks(file)
	if err != nil {
		return &core.FilesystemError{Op: "resolve", Path: file, Cause: err}
	}
	file = target
	out := file + SignedSuffix
	// A leftover from an interrupted run would otherwise be renamed over a
	// freshly signed file.
	if err := removeIfExists(out); err != nil {
		return err
	}

	pw := cred.Password.Reveal()
	args := []string{"sign", "-pkcs12", cred.CertificatePath, "-pass", pw}
	if f.ProductName != "" {
		args = append(args, "-n", f.ProductName)
	}
	args = append(args, "-in", file, "-out", out)

	if _, err := f.Exec.Execute(ctx, core.Command{Tool: f.Tool, Args: args, Redact: []string{pw}}); err != nil {
		_ = removeIfExists(out)
		return err
	}
	info, err := os.Stat(out)
	if err != nil {
		return &core.FilesystemError{Op: "stat", Path: out, Cause: err}
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		_ = removeIfExists(out)
		return &core.FilesystemError{Op: "stat", Path: out, Cause: errors.New("signer produced no output")}
	}
	if err := os.Rename(out, file); err != nil {
		_ = removeIfExists(out)
		return &core.FilesystemError{Op: "rename", Path: out, Cause: err}
	}
	return nil
}

// Verify runs: osslsigncode verify -in <file>
func (f *FallbackTool) Verify(ctx context.Context, file string) error {
	_, err := f.Exec.Execute(ctx, core.Command{Tool: f.Tool, Args: []string{"verify", "-in", file}})
	return err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &core.FilesystemError{Op: "remove", Path: path, Cause: err}
	}
	return nil
}
