package credential

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releasepost/releasepost/internal/config"
	"github.com/releasepost/releasepost/internal/core"
)

func writePFX(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cert.pfx")
	require.NoError(t, os.WriteFile(p, []byte("pfx"), 0o600))
	return p
}

func TestResolve_NoPathIsNone(t *testing.T) {
	cred, err := FromConfig(config.Credential{EnvPassword: "ignored"}).Resolve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestResolve_EnvBeatsConfigFile(t *testing.T) {
	envPFX := writePFX(t)
	filePFX := writePFX(t)

	cred, err := FromConfig(config.Credential{
		EnvPath:  envPFX,
		Path:     filePFX,
		Password: "file-pass",
	}).Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, envPFX, cred.CertificatePath)
	assert.Equal(t, core.SourceEnvVar, cred.Source)
	// Passwords resolve independently of the path source.
	assert.Equal(t, "file-pass", cred.Password.Reveal())
}

func TestResolve_ConfigFileSource(t *testing.T) {
	pfx := writePFX(t)
	cred, err := FromConfig(config.Credential{Path: pfx}).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.SourceFilePath, cred.Source)
	assert.Equal(t, "", cred.Password.Reveal(), "password defaults to empty")
}

func TestResolve_PasswordFile(t *testing.T) {
	pfx := writePFX(t)
	pwFile := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(pwFile, []byte("from-file\n"), 0o600))

	cred, err := FromConfig(config.Credential{EnvPath: pfx, PasswordFile: pwFile}).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cred.Password.Reveal())

	_, err = FromConfig(config.Credential{EnvPath: pfx, PasswordFile: pwFile + ".missing"}).Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.KindFilesystem, core.KindOf(err))
}

func TestResolve_MissingCertificateFileIsInvalid(t *testing.T) {
	_, err := FromConfig(config.Credential{EnvPath: filepath.Join(t.TempDir(), "nope.pfx")}).Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.KindConfigurationInvalid, core.KindOf(err))

	_, err = FromConfig(config.Credential{EnvPath: t.TempDir()}).Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.KindConfigurationInvalid, core.KindOf(err))
}

type countingSource struct {
	n *int
	v string
}

func (c countingSource) Name() string                  { return "counting" }
func (c countingSource) Origin() core.CredentialSource { return core.SourceEnvVar }
func (c countingSource) Lookup() (string, error)       { *c.n++; return c.v, nil }

func TestLazy_ResolvesOnceAndLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := 0
	lazy := NewLazy(&Resolver{PathSources: []Source{countingSource{n: &n}}}, logger)
	for i := 0; i < 3; i++ {
		cred, err := lazy.Get(context.Background())
		assert.Nil(t, cred)
		require.Error(t, err)
		assert.True(t, core.IsSkippable(err))
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, strings.Count(buf.String(), "signing credential not configured"))
}

func TestLazy_LogsRedactedCredential(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	pfx := writePFX(t)
	lazy := NewLazy(FromConfig(config.Credential{EnvPath: pfx, EnvPassword: "hunter2"}), logger)
	cred, err := lazy.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "cert.pfx")
}
