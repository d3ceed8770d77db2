package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/x-stp/topdomains/internal/client"
	"github.com/x-stp/topdomains/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// run executes the CLI with args and returns stdout, stderr and the error.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	a.close()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootRunsExport(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "top-1m.csv", "1,google.com\n2,youtube.com\n")
	out := filepath.Join(dir, "topDomains.js")

	_, _, err := run(t, "-i", in, "-o", out)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "'google.com', 'youtube.com', ", string(got))
}

func TestExportCommandFlags(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "list.tsv", "a.com\t1\nb.com\t2\n")
	out := filepath.Join(dir, "out", "domains.js")

	_, stderr, err := run(t, "export", "-i", in, "-o", out, "-d", "\t", "--column", "0", "--var", "topDomains", "--load-all", "-s")
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "export const topDomains = ['a.com', 'b.com', ];\n", string(got))
	assert.Contains(t, stderr, "Final Export Statistics")
	assert.Contains(t, stderr, "Tokens Written: 2")
}

func TestExportConfigFileWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "top.csv", "1;a.com\n")
	fromFile := filepath.Join(dir, "from-file.js")
	fromFlag := filepath.Join(dir, "from-flag.js")
	cfg := writeFile(t, dir, "topdomains.yaml", "input: "+in+"\noutput: "+fromFile+"\ndelimiter: \";\"\n")

	_, _, err := run(t, "--config", cfg, "export")
	require.NoError(t, err)
	got, err := os.ReadFile(fromFile)
	require.NoError(t, err)
	assert.Equal(t, "'a.com', ", string(got))

	_, _, err = run(t, "--config", cfg, "export", "-o", fromFlag)
	require.NoError(t, err)
	_, err = os.Stat(fromFlag)
	assert.NoError(t, err)
}

func TestExportErrorsExitWithKind(t *testing.T) {
	dir := t.TempDir()

	_, _, err := run(t, "export", "-i", filepath.Join(dir, "missing.csv"), "-o", filepath.Join(dir, "x.js"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindFileNotFound), "got %v", err)

	in := writeFile(t, dir, "short.csv", "1,a.com\n2\n")
	_, _, err = run(t, "export", "-i", in, "-o", filepath.Join(dir, "x.js"))
	assert.True(t, core.IsKind(err, core.KindMalformedRow), "got %v", err)

	_, _, err = run(t, "export", "-i", in, "-d", ";;")
	assert.True(t, core.IsKind(err, core.KindInvalidConfig), "got %v", err)

	_, _, err = run(t, "--config", filepath.Join(dir, "nope.yaml"))
	assert.True(t, core.IsKind(err, core.KindFileNotFound), "got %v", err)
}

func TestFetchCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1,google.com\n2,youtube.com\n"))
	}))
	defer srv.Close()
	defer client.GetHTTPClient().CloseIdleConnections()

	dest := filepath.Join(t.TempDir(), "top-1m.csv")
	stdout, _, err := run(t, "fetch", "--url", srv.URL+"/top-1m.csv.zip", "-o", dest)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved 2 rows to "+dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "1,google.com\n2,youtube.com\n", string(got))
}

func TestFetchCommandUsesConfiguredLayout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1;google.com\n2;youtube.com\n"))
	}))
	defer srv.Close()
	defer client.GetHTTPClient().CloseIdleConnections()

	dir := t.TempDir()
	dest := filepath.Join(dir, "top-1m.csv")
	cfg := writeFile(t, dir, "topdomains.yaml", "delimiter: \";\"\n")

	stdout, _, err := run(t, "--config", cfg, "fetch", "--url", srv.URL, "-o", dest)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved 2 rows to "+dest)
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "top.csv", "1,google.com\n2,github.com\n")
	html := writeFile(t, dir, "mail.html",
		`<p>Open <a href="https://docs.google.com/x">the doc</a> or visit www.login-verify.test/now</p>`)

	stdout, _, err := run(t, "check", "--list", list, "--html", html, "https://github.com/x-stp")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "listed")
	assert.Contains(t, lines[0], "google.com")
	assert.Contains(t, lines[1], "UNLISTED")
	assert.Contains(t, lines[1], "login-verify.test")
	assert.Contains(t, lines[2], "github.com")

	stdout, _, err = run(t, "check", "--list", list, "--html", html, "--unlisted", "--fail-unlisted")
	require.ErrorIs(t, err, errUnlisted)
	assert.Equal(t, 1, strings.Count(stdout, "\n"))
}

func TestCheckWithoutLinks(t *testing.T) {
	_, _, err := run(t, "check", "--list", filepath.Join(t.TempDir(), "top.csv"))
	assert.True(t, core.IsKind(err, core.KindInvalidConfig), "got %v", err)
}
