package signing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releasepost/releasepost/internal/core"
)

func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

// fakeOsslsigncode copies -in to -out with a marker appended and logs its argv.
func fakeOsslsigncode(t *testing.T, dir string) (tool, argLog string) {
	argLog = filepath.Join(dir, "fallback.args")
	tool = writeTool(t, dir, "osslsigncode", `echo "$*" >> '`+argLog+`'
in=""; out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -in) in="$2"; shift ;;
    -out) out="$2"; shift ;;
  esac
  shift
done
cat "$in" > "$out"
echo SIGNED >> "$out"`)
	return tool, argLog
}

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func countLevel(logs, level string) int {
	return strings.Count(logs, `"level":"`+level+`"`)
}

func testCredential(t *testing.T, dir string) core.Credential {
	t.Helper()
	pfx := filepath.Join(dir, "cert.pfx")
	require.NoError(t, os.WriteFile(pfx, []byte("pfx"), 0o600))
	return core.Credential{CertificatePath: pfx, Password: "s3cret", Source: core.SourceEnvVar}
}

func TestChain_FallbackAfterPrimaryFailure(t *testing.T) {
	dir := t.TempDir()
	exec := core.NewExecutor(dir)
	primary := &PrimaryTool{Tool: writeTool(t, dir, "signtool", `echo "SignTool Error: password s3cret rejected" >&2; exit 1`), Exec: exec}
	fbTool, argLog := fakeOsslsigncode(t, dir)
	fallback := &FallbackTool{Tool: fbTool, ProductName: "My App", Exec: exec}

	file := filepath.Join(dir, "app.exe")
	require.NoError(t, os.WriteFile(file, []byte("MZ"), 0o644))

	var logs bytes.Buffer
	chain := NewChain(jsonLogger(&logs), NewGuard(1, 0), primary, fallback)

	used, err := chain.Sign(context.Background(), nil, file, testCredential(t, dir))
	require.NoError(t, err)
	assert.Equal(t, fbTool, used)

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "MZSIGNED\n", string(got))
	assert.NoFileExists(t, file+SignedSuffix)

	assert.Equal(t, 1, countLevel(logs.String(), "WARN"), logs.String())
	assert.NotContains(t, logs.String(), "s3cret")

	args, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-n My App")
	assert.Contains(t, string(args), "-pass s3cret")
}

func TestChain_PrimarySuccessSkipsFallback(t *testing.T) {
	dir := t.TempDir()
	exec := core.NewExecutor(dir)
	primary := &PrimaryTool{Tool: writeTool(t, dir, "signtool", `exit 0`), Exec: exec}
	fbTool, argLog := fakeOsslsigncode(t, dir)

	file := filepath.Join(dir, "app.exe")
	require.NoError(t, os.WriteFile(file, []byte("MZ"), 0o644))

	var logs bytes.Buffer
	chain := NewChain(jsonLogger(&logs), nil, primary, &FallbackTool{Tool: fbTool, Exec: exec})
	used, err := chain.Sign(context.Background(), nil, file, testCredential(t, dir))
	require.NoError(t, err)
	assert.Equal(t, primary.Tool, used)
	assert.Zero(t, countLevel(logs.String(), "WARN"))
	assert.NoFileExists(t, argLog)
}

func TestChain_BothFailAggregates(t *testing.T) {
	dir := t.TempDir()
	exec := core.NewExecutor(dir)
	primary := &PrimaryTool{Tool: writeTool(t, dir, "signtool", `echo "primary broke" >&2; exit 1`), Exec: exec}
	fallback := &FallbackTool{Tool: writeTool(t, dir, "osslsigncode", `
for a in "$@"; do prev="$cur"; cur="$a"; if [ "$prev" = "-out" ]; then echo partial > "$a"; fi; done
echo "fallback broke" >&2; exit 2`), Exec: exec}

	file := filepath.Join(dir, "app.exe")
	require.NoError(t, os.WriteFile(file, []byte("MZ"), 0o644))

	var logs bytes.Buffer
	chain := NewChain(jsonLogger(&logs), nil, primary, fallback)
	_, err := chain.Sign(context.Background(), nil, file, testCredential(t, dir))
	require.Error(t, err)

	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Attempts, 2)
	assert.Contains(t, err.Error(), "primary broke")
	assert.Contains(t, err.Error(), "fallback broke")
	assert.Equal(t, core.KindProcessExit, core.KindOf(err))

	assert.Equal(t, 1, countLevel(logs.String(), "WARN"))
	assert.NoFileExists(t, file+SignedSuffix)
	got, _ := os.ReadFile(file)
	assert.Equal(t, "MZ", string(got))
}

func TestChain_MissingPrimaryToolFallsBack(t *testing.T) {
	dir := t.TempDir()
	exec := core.NewExecutor(dir)
	primary := &PrimaryTool{Tool: filepath.Join(dir, "no-such-signtool"), Exec: exec}
	fbTool, _ := fakeOsslsigncode(t, dir)

	file := filepath.Join(dir, "setup.msi")
	require.NoError(t, os.WriteFile(file, []byte("MSI"), 0o644))

	var logs bytes.Buffer
	chain := NewChain(jsonLogger(&logs), nil, primary, &FallbackTool{Tool: fbTool, Exec: exec})
	used, err := chain.Sign(context.Background(), nil, file, testCredential(t, dir))
	require.NoError(t, err)
	assert.Equal(t, fbTool, used)
	assert.Equal(t, 1, countLevel(logs.String(), "WARN"))
}

func TestFallbackTool_OmitsEmptyProductName(t *testing.T) {
	dir := t.TempDir()
	fbTool, argLog := fakeOsslsigncode(t, dir)
	file := filepath.Join(dir, "a.dll")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	f := &FallbackTool{Tool: fbTool, Exec: core.NewExecutor(dir)}
	require.NoError(t, f.Sign(context.Background(), file, testCredential(t, dir)))

	args, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.NotContains(t, string(args), " -n ")
	resolved, err := filepath.EvalSymlinks(file)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-out "+resolved+SignedSuffix)
}

func TestFallbackTool_SignsSymlinkTarget(t *testing.T) {
	dir := t.TempDir()
	fbTool, argLog := fakeOsslsigncode(t, dir)
	target := filepath.Join(dir, "lib", "real.exe")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("MZ"), 0o644))
	link := filepath.Join(dir, "app.exe")
	require.NoError(t, os.Symlink(filepath.Join("lib", "real.exe"), link))

	f := &FallbackTool{Tool: fbTool, Exec: core.NewExecutor(dir)}
	require.NoError(t, f.Sign(context.Background(), link, testCredential(t, dir)))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "MZSIGNED\n", string(got))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "link must stay a symlink")
	assert.NoFileExists(t, link+SignedSuffix)

	args, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.Contains(t, string(args), "real.exe"+SignedSuffix)
}

func TestFallbackTool_DanglingSymlinkIsFilesystemError(t *testing.T) {
	dir := t.TempDir()
	fbTool, argLog := fakeOsslsigncode(t, dir)
	link := filepath.Join(dir, "app.exe")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.exe"), link))

	f := &FallbackTool{Tool: fbTool, Exec: core.NewExecutor(dir)}
	err := f.Sign(context.Background(), link, testCredential(t, dir))
	require.Error(t, err)
	assert.Equal(t, core.KindFilesystem, core.KindOf(err))
	assert.NoFileExists(t, argLog)
}

func TestFallbackTool_RemovesStaleSibling(t *testing.T) {
	dir := t.TempDir()
	fbTool, _ := fakeOsslsigncode(t, dir)
	file := filepath.Join(dir, "a.exe")
	require.NoError(t, os.WriteFile(file, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(file+SignedSuffix, []byte("stale"), 0o644))

	f := &FallbackTool{Tool: fbTool, Exec: core.NewExecutor(dir)}
	require.NoError(t, f.Sign(context.Background(), file, testCredential(t, dir)))

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "newSIGNED\n", string(got))
}

func TestFallbackTool_EmptyOutputIsFailure(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "osslsigncode", `
for a in "$@"; do prev="$cur"; cur="$a"; if [ "$prev" = "-out" ]; then : > "$a"; fi; done
exit 0`)
	file := filepath.Join(dir, "a.exe")
	require.NoError(t, os.WriteFile(file, []byte("orig"), 0o644))

	f := &FallbackTool{Tool: tool, Exec: core.NewExecutor(dir)}
	err := f.Sign(context.Background(), file, testCredential(t, dir))
	require.Error(t, err)
	assert.Equal(t, core.KindFilesystem, core.KindOf(err))
	assert.NoFileExists(t, file+SignedSuffix)
	got, _ := os.ReadFile(file)
	assert.Equal(t, "orig", string(got))
}

func TestPrimaryTool_ArgumentsAndVerify(t *testing.T) {
	dir := t.TempDir()
	argLog := filepath.Join(dir, "primary.args")
	tool := writeTool(t, dir, "signtool", `echo "$*" >> '`+argLog+`'`)
	p := &PrimaryTool{Tool: tool, Exec: core.NewExecutor(dir)}
	cred := testCredential(t, dir)

	require.NoError(t, p.Sign(context.Background(), "/out/app.exe", cred))
	require.NoError(t, p.Verify(context.Background(), "/out/app.exe"))

	args, err := os.ReadFile(argLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "sign /fd sha256 /a /f "+cred.CertificatePath+" /p s3cret /out/app.exe", lines[0])
	assert.Equal(t, "verify /pa /out/app.exe", lines[1])
}

type stubBackend struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Sign(context.Context, string, core.Credential) error {
	s.calls.Add(1)
	return s.err
}
func (s *stubBackend) Verify(context.Context, string) error {
	s.calls.Add(1)
	return s.err
}

func TestTryInOrder_EachBackendOnce(t *testing.T) {
	a := &stubBackend{name: "a", err: errors.New("a down")}
	b := &stubBackend{name: "b", err: errors.New("b down")}
	var logs bytes.Buffer

	_, err := TryInOrder(context.Background(), jsonLogger(&logs), "sign", []Backend{a, b},
		func(ctx context.Context, be Backend) error { return be.Sign(ctx, "f", core.Credential{}) })
	require.Error(t, err)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.Equal(t, 1, countLevel(logs.String(), "WARN"))
	assert.Equal(t, "sign failed: a: a down; b: b down", err.Error())
}

func TestTryInOrder_NoBackends(t *testing.T) {
	_, err := TryInOrder(context.Background(), slog.Default(), "verify", nil, nil)
	assert.Equal(t, core.KindConfigurationInvalid, core.KindOf(err))
}

func TestChain_WithoutFallbackDoesNotWarn(t *testing.T) {
	a := &stubBackend{name: "a", err: errors.New("a down")}
	var logs bytes.Buffer
	chain := NewChain(jsonLogger(&logs), nil, a, nil)
	_, err := chain.Verify(context.Background(), nil, "f")
	require.Error(t, err)
	assert.Zero(t, countLevel(logs.String(), "WARN"))
	assert.Len(t, chain.Backends(), 1)
}

func TestGuard_CapsConcurrency(t *testing.T) {
	g := NewGuard(2, 0)
	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func() error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGuard_CancelledWhileWaiting(t *testing.T) {
	g := NewGuard(1, 0)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func() error { t.Fatal("must not run"); return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	close(hold)
}

func TestGuard_NilRunsDirectly(t *testing.T) {
	var g *Guard
	ran := false
	require.NoError(t, g.Do(context.Background(), func() error { ran = true; return nil }))
	assert.True(t, ran)
}
