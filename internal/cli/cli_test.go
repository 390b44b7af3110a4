package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stampede.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootHelp(t *testing.T) {
	code, out, _ := execute("--help")
	assert.Equal(t, ExitOK, code)
	for _, sub := range []string{"run", "stress", "bench", "validate"} {
		assert.Contains(t, out, sub)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := execute("nope")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestRunRequiresTarget(t *testing.T) {
	code, _, errOut := execute("run")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "--config or --url")
}

func TestRunConfigAndURLConflict(t *testing.T) {
	code, _, errOut := execute("run", "--config", "x.yaml", "--url", "http://localhost")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "mutually exclusive")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
name: broken
maxConcurrentUsers: 0
testDuration: 1s
scenarios:
  - name: s
    requests:
      - url: http://localhost
`)
	code, _, errOut := execute("run", "--config", path)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "maxConcurrentUsers")
}

func TestRunQuickURL(t *testing.T) {
	srv, hits := newTarget(t, http.StatusOK)
	dir := t.TempDir()

	code, out, errOut := execute("run", "--quiet",
		"--url", srv.URL,
		"--users", "2",
		"--duration", "600ms",
		"--ramp-up", "100ms",
		"--output", dir,
	)
	require.Equal(t, ExitOK, code, errOut)
	assert.Greater(t, hits.Load(), int64(0))
	assert.Contains(t, out, "PASSED")

	jsonReports, _ := filepath.Glob(filepath.Join(dir, "load-*.json"))
	htmlReports, _ := filepath.Glob(filepath.Join(dir, "load-*.html"))
	assert.Len(t, jsonReports, 1)
	assert.Len(t, htmlReports, 1)
	assert.Contains(t, errOut, "report:")
}

func TestRunNoHTML(t *testing.T) {
	srv, _ := newTarget(t, http.StatusOK)
	dir := t.TempDir()

	code, _, errOut := execute("run", "-q", "--no-html",
		"--url", srv.URL, "--users", "1", "--duration", "300ms", "--output", dir)
	require.Equal(t, ExitOK, code, errOut)

	htmlReports, _ := filepath.Glob(filepath.Join(dir, "*.html"))
	assert.Empty(t, htmlReports)
}

func TestRunAcceptanceFailure(t *testing.T) {
	srv, _ := newTarget(t, http.StatusInternalServerError)
	path := writeConfig(t, `
name: failing
maxConcurrentUsers: 2
testDuration: 500ms
thinkTime: {min: 0s, max: 0s}
failureBackoff: 10ms
acceptance:
  errorRatePct: 5
reportDirectory: `+t.TempDir()+`
htmlReport: false
scenarios:
  - name: broken
    requests:
      - url: `+srv.URL+`
`)
	code, out, _ := execute("run", "-q", "--config", path)
	assert.Equal(t, ExitFailed, code)
	assert.Contains(t, out, "FAILED")
}

func TestValidateConfig(t *testing.T) {
	path := writeConfig(t, `
name: ok
maxConcurrentUsers: 5
testDuration: 10s
scenarios:
  - name: home
    requests:
      - url: http://localhost/
benchmarks:
  - name: ping
    requests:
      - url: http://localhost/ping
`)
	code, out, errOut := execute("validate", path)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "config is valid (1 scenario(s), 1 benchmark(s))")
}

func TestValidateRejectsEmptyConfig(t *testing.T) {
	path := writeConfig(t, "name: empty\n")
	code, _, errOut := execute("validate", path)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "no scenarios or benchmarks")
}

func TestValidateMissingFile(t *testing.T) {
	code, _, errOut := execute("validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "failed to read config file")
}

func TestValidateReport(t *testing.T) {
	srv, _ := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	code, _, errOut := execute("run", "-q", "--no-html",
		"--url", srv.URL, "--users", "1", "--duration", "300ms", "--output", dir)
	require.Equal(t, ExitOK, code, errOut)

	reports, _ := filepath.Glob(filepath.Join(dir, "load-*.json"))
	require.Len(t, reports, 1)

	code, out, errOut := execute("validate", "--report", reports[0])
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "report is valid")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": 1}`), 0o644))
	code, _, _ = execute("validate", "--report", bad)
	assert.Equal(t, ExitConfigError, code)
}

func TestBench(t *testing.T) {
	srv, hits := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	path := writeConfig(t, `
name: benches
reportDirectory: `+dir+`
benchmarks:
  - name: ping
    category: api
    warmupIterations: 1
    iterations: 3
    requests:
      - url: `+srv.URL+`/ping
  - name: other
    category: slow
    iterations: 2
    requests:
      - url: `+srv.URL+`/other
`)
	code, out, errOut := execute("bench", "--config", path, "--category", "api")
	require.Equal(t, ExitOK, code, errOut)
	assert.Equal(t, int64(4), hits.Load())
	assert.Contains(t, out, "ping")
	assert.NotContains(t, out, "other")

	reports, _ := filepath.Glob(filepath.Join(dir, "benchmark-*.json"))
	assert.Len(t, reports, 1)
}

func TestBenchFailureExitCode(t *testing.T) {
	srv, _ := newTarget(t, http.StatusServiceUnavailable)
	path := writeConfig(t, `
name: benches
reportDirectory: `+t.TempDir()+`
benchmarks:
  - name: down
    iterations: 2
    expectedThreshold: 1s
    requests:
      - url: `+srv.URL+`
`)
	code, _, _ := execute("bench", "-q", "--config", path)
	assert.Equal(t, ExitFailed, code)
}

func TestStress(t *testing.T) {
	srv, _ := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	path := writeConfig(t, `
name: stress
thinkTime: {min: 0s, max: 0s}
reportDirectory: `+dir+`
scenarios:
  - name: home
    requests:
      - url: `+srv.URL+`
stress:
  startUsers: 1
  step: 1
  maxUsers: 2
  stepDuration: 200ms
`)
	code, _, errOut := execute("stress", "-q", "--config", path)
	require.Equal(t, ExitOK, code, errOut)

	reports, _ := filepath.Glob(filepath.Join(dir, "stress-*.json"))
	require.Len(t, reports, 1)
	data, err := os.ReadFile(reports[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"found": false`))
}

func TestStressInvalidFlags(t *testing.T) {
	path := writeConfig(t, `
name: stress
scenarios:
  - name: home
    requests:
      - url: http://localhost
`)
	code, _, errOut := execute("stress", "--config", path, "--start-users", "5", "--max-users", "2", "--step", "1", "--step-duration", "1s")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "maxUsers")
}
