package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jettywrapper/internal/torquebox"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type app struct {
	root string
	home string
	port int
}

func newApp(t *testing.T) app {
	t.Helper()
	root := t.TempDir()
	home := filepath.Join(root, "jetty")
	require.NoError(t, os.MkdirAll(home, 0o750))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return app{root: root, home: home, port: port}
}

func (a app) flags(extra ...string) []string {
	return append([]string{
		"--app-root", a.root,
		"--env", "test",
		"--jetty-home", a.home,
		"--port", strconv.Itoa(a.port),
		"--startup-wait", "0.2",
		"--log-level", "error",
	}, extra...)
}

func TestStartStatusPidStop(t *testing.T) {
	requireUnix(t)
	a := newApp(t)
	t.Cleanup(func() { _, _ = run(t, append(a.flags(), "stop")...) })

	out, err := run(t, append(a.flags("--command", "sleep 30"), "start")...)
	require.NoError(t, err)
	assert.Contains(t, out, "started jetty")

	out, err = run(t, append(a.flags(), "pid")...)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Positive(t, pid)

	out, err = run(t, append(a.flags(), "status")...)
	require.NoError(t, err)
	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Running)
	assert.Equal(t, pid, report.PID)
	assert.Equal(t, a.port, report.Port)

	_, err = run(t, append(a.flags("--command", "sleep 30"), "start")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	out, err = run(t, append(a.flags(), "stop")...)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped jetty")

	_, err = run(t, append(a.flags(), "pid")...)
	require.ErrorIs(t, err, errNotRunning)
}

func TestWrapReturnsTaskFailure(t *testing.T) {
	requireUnix(t)
	a := newApp(t)

	out, err := run(t, append(a.flags("--command", "sleep 30"), "wrap", "--", "echo", "inside")...)
	require.NoError(t, err)
	assert.Contains(t, out, "inside")

	_, err = run(t, append(a.flags("--command", "sleep 30"), "wrap", "--", "false")...)
	require.Error(t, err)

	out, err = run(t, append(a.flags(), "status")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"running": false`)
}

func TestHistoryAfterWrap(t *testing.T) {
	requireUnix(t)
	a := newApp(t)
	dsn := filepath.Join(t.TempDir(), "history.db")

	_, err := run(t, append(a.flags("--command", "sleep 30", "--history-dsn", dsn), "wrap", "--", "true")...)
	require.NoError(t, err)

	out, err := run(t, append(a.flags("--history-dsn", dsn), "history")...)
	require.NoError(t, err)
	var events []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "stop", events[0]["type"])

	_, err = run(t, append(a.flags(), "history")...)
	require.Error(t, err)
}

func TestWrapWithoutCommand(t *testing.T) {
	a := newApp(t)
	_, err := run(t, append(a.flags(), "wrap")...)
	require.Error(t, err)
}

func TestConfigUsesJettyYmlAndFlags(t *testing.T) {
	a := newApp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(a.root, "config"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(a.root, "config", "jetty.yml"), []byte(`
test:
  jetty_port: 9999
  startup_wait: 42
  java_opts: ["-Xmx512m"]
`), 0o644))

	out, err := run(t, "--app-root", a.root, "--env", "test", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "jetty_port: 9999")
	assert.Contains(t, out, "startup_wait: 42")
	assert.Contains(t, out, "-Xmx512m")

	out, err = run(t, "--app-root", a.root, "--env", "test", "--port", "7000", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "jetty_port: 7000")
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	a := newApp(t)
	t.Setenv("JETTYWRAPPER_PORT", "7123")
	t.Setenv("JETTYWRAPPER_QUIET", "false")
	out, err := run(t, "--app-root", a.root, "--jetty-home", a.home, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "jetty_port: 7123")
	assert.Contains(t, out, "quiet: false")
}

func TestPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	out, err := run(t, "port-in-use", strconv.Itoa(port))
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))

	_, err = run(t, "port-in-use", "nope")
	require.Error(t, err)
}

func TestUnzipAndClean(t *testing.T) {
	a := newApp(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("hydra-jetty-x/start.jar")
	require.NoError(t, err)
	_, _ = w.Write([]byte("jar"))
	require.NoError(t, zw.Close())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(a.root, "config"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(a.root, "config", "jetty.yml"),
		[]byte("test:\n  url: "+srv.URL+"/v9.zip\n"), 0o644))
	t.Setenv("JETTY_ZIP", "")

	out, err := run(t, append(a.flags(), "unzip")...)
	require.NoError(t, err)
	assert.Contains(t, out, "unpacked")
	assert.FileExists(t, filepath.Join(a.home, "start.jar"))
	assert.FileExists(t, filepath.Join(a.root, "tmp", "v9.zip"))

	require.NoError(t, os.WriteFile(filepath.Join(a.home, "junk"), nil, 0o644))
	_, err = run(t, append(a.flags(), "clean")...)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(a.home, "junk"))
}

func TestDeployUndeploy(t *testing.T) {
	a := newApp(t)
	deployments := filepath.Join(a.root, "deployments")
	require.NoError(t, os.MkdirAll(deployments, 0o750))

	out, err := run(t, "--app-root", a.root, "--env", "test", "deploy", "--deploy-dir", deployments, "--name", "blog")
	require.NoError(t, err)
	assert.Contains(t, out, "blog-knob.yml")
	assert.FileExists(t, filepath.Join(deployments, "blog-knob.yml"))
	assert.FileExists(t, filepath.Join(deployments, "blog-knob.yml.dodeploy"))

	require.NoError(t, os.WriteFile(filepath.Join(deployments, "blog-knob.yml.deployed"), nil, 0o644))
	out, err = run(t, "--app-root", a.root, "deploy", "--deploy-dir", deployments, "--name", "blog", "--wait", "--timeout", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "is deployed")

	_, err = run(t, "undeploy", "--deploy-dir", deployments, "--name", "blog")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(deployments, "blog-knob.yml"))
}

func TestDeployWaitSeesFailure(t *testing.T) {
	a := newApp(t)
	deployments := filepath.Join(a.root, "deployments")
	require.NoError(t, os.MkdirAll(deployments, 0o750))
	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(deployments, "blog-knob.yml.failed"), nil, 0o644)
	}()
	_, err := run(t, "deploy", "--deploy-dir", deployments, "--name", "blog", "--wait", "--timeout", "2s")
	require.ErrorIs(t, err, torquebox.ErrDeployFailed)
}

func TestAdminSolrPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/solr/admin/ping", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	out, err := run(t, "admin", "solr-ping", "solr", "--url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))
}

func TestMetricsFileWritten(t *testing.T) {
	a := newApp(t)
	path := filepath.Join(t.TempDir(), "jetty.prom")
	_, err := run(t, append(a.flags("--metrics-file", path), "status")...)
	require.NoError(t, err)
	assert.FileExists(t, path)
}
