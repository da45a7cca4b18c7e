package supervisor

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jettywrapper/internal/config"
	"github.com/loykin/jettywrapper/internal/detector"
	"github.com/loykin/jettywrapper/internal/history"
	"github.com/loykin/jettywrapper/internal/history/sqlite"
	"github.com/loykin/jettywrapper/internal/logger"
	"github.com/loykin/jettywrapper/internal/pidfile"
	"github.com/loykin/jettywrapper/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// recordingHandle remembers every launched pid so tests can verify cleanup.
type recordingHandle struct {
	*process.OS
	mu       sync.Mutex
	launched []int
}

func (h *recordingHandle) Launch(spec process.Spec) (int, error) {
	pid, err := h.OS.Launch(spec)
	if err == nil {
		h.mu.Lock()
		h.launched = append(h.launched, pid)
		h.mu.Unlock()
	}
	return pid, err
}

type fixture struct {
	base   string
	home   string
	port   int
	cfg    config.Config
	handle *recordingHandle
}

func newFixture(t *testing.T, extra config.Options) *fixture {
	t.Helper()
	requireUnix(t)
	base := t.TempDir()
	home := filepath.Join(base, "jetty")
	require.NoError(t, os.MkdirAll(home, 0o750))
	port := freePort(t)
	opts := config.Options{
		"base_path":    base,
		"jetty_home":   home,
		"jetty_port":   port,
		"startup_wait": 2,
		"env":          "test",
	}.Merge(extra)
	cfg, err := config.Resolve(opts)
	require.NoError(t, err)
	f := &fixture{base: base, home: home, port: port, cfg: cfg, handle: &recordingHandle{OS: process.NewOS()}}
	t.Cleanup(func() {
		for _, pid := range f.handle.launched {
			_ = f.handle.Terminate(context.Background(), pid, time.Second)
		}
	})
	return f
}

func (f *fixture) supervisor(opts Options, command ...string) *Supervisor {
	if len(command) == 0 {
		command = []string{"/bin/sh", "-c", "sleep 30"}
	}
	opts.Command = command
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Handle == nil {
		opts.Handle = f.handle
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 2 * time.Second
	}
	return New(f.cfg, opts)
}

func readPIDFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	s := f.supervisor(Options{})
	ctx := context.Background()

	assert.False(t, s.IsRunning())
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(ctx))
	rec, ok := s.Record()
	require.True(t, ok)
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, s.IsRunning())
	assert.Equal(t, strconv.Itoa(rec.PID), readPIDFile(t, s.PIDFile()))
	assert.Equal(t, filepath.Join(f.base, "tmp", "pids"), filepath.Dir(s.PIDFile()))
	pid, ok := s.PID()
	assert.True(t, ok)
	assert.Equal(t, rec.PID, pid)

	require.NoError(t, s.Stop(ctx))
	assert.NoFileExists(t, s.PIDFile())
	assert.False(t, s.IsRunning())
	assert.False(t, f.handle.Alive(rec.PID))
	assert.Equal(t, StateIdle, s.State())
	_, ok = s.Record()
	assert.False(t, ok)

	// idempotent
	require.NoError(t, s.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	s := f.supervisor(Options{})
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateIdle, s.State())
}

func TestStartTwice_AlreadyRunning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.supervisor(Options{})
	require.NoError(t, first.Start(ctx))
	defer func() { _ = first.Stop(ctx) }()
	rec, _ := first.Record()

	// same instance
	err := first.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, first.State())

	// independent supervisor, same home and env
	second := f.supervisor(Options{})
	err = second.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateFailed, second.State())
	assert.Equal(t, strconv.Itoa(rec.PID), readPIDFile(t, first.PIDFile()))
	assert.Len(t, f.handle.launched, 1)
}

func TestStart_RemovesStalePIDFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// a pid that has certainly exited and been reaped
	dead, err := f.handle.Launch(process.Spec{Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !f.handle.Alive(dead) }, 3*time.Second, 10*time.Millisecond)

	s := f.supervisor(Options{})
	require.NoError(t, os.MkdirAll(filepath.Dir(s.PIDFile()), 0o750))
	require.NoError(t, os.WriteFile(s.PIDFile(), []byte(strconv.Itoa(dead)), 0o600))

	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()
	rec, _ := s.Record()
	assert.NotEqual(t, dead, rec.PID)
	assert.Equal(t, strconv.Itoa(rec.PID), readPIDFile(t, s.PIDFile()))
}

func TestStart_CorruptPIDFileIsReplaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.supervisor(Options{})
	require.NoError(t, os.MkdirAll(filepath.Dir(s.PIDFile()), 0o750))
	require.NoError(t, os.WriteFile(s.PIDFile(), []byte("garbage"), 0o600))

	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()
	assert.True(t, s.IsRunning())
}

func TestStop_InitPIDFileIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	s := f.supervisor(Options{})
	require.NoError(t, os.MkdirAll(filepath.Dir(s.PIDFile()), 0o750))
	require.NoError(t, os.WriteFile(s.PIDFile(), []byte("1\n"), 0o600))

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(context.Background()))
	assert.NoFileExists(t, s.PIDFile())
	assert.Equal(t, StateIdle, s.State())
}

func TestStart_PortInUse(t *testing.T) {
	f := newFixture(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(f.port))
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	s := f.supervisor(Options{})
	err = s.Start(context.Background())
	require.ErrorIs(t, err, ErrPortInUse)
	assert.NoFileExists(t, s.PIDFile())
	assert.Empty(t, f.handle.launched)
	assert.Equal(t, StateFailed, s.State())
}

func TestStart_MissingHome(t *testing.T) {
	f := newFixture(t, config.Options{"jetty_home": filepath.Join(t.TempDir(), "absent")})
	s := f.supervisor(Options{})
	err := s.Start(context.Background())
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.NoFileExists(t, s.PIDFile())
	assert.Empty(t, f.handle.launched)
}

func TestStart_PIDFileUnwritableTerminatesChild(t *testing.T) {
	f := newFixture(t, nil)
	blocked := filepath.Join(f.base, "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))
	store := &pidfile.Store{Dir: filepath.Join(blocked, "pids"), FallbackDir: filepath.Join(blocked, "fallback"), Env: "test"}

	s := f.supervisor(Options{Store: store})
	err := s.Start(context.Background())
	require.ErrorIs(t, err, pidfile.ErrPIDFile)
	require.Len(t, f.handle.launched, 1)
	assert.False(t, f.handle.Alive(f.handle.launched[0]))
	assert.False(t, store.Exists(f.home))
	assert.Equal(t, StateFailed, s.State())
}

func TestStart_LaunchFailure(t *testing.T) {
	f := newFixture(t, nil)
	s := f.supervisor(Options{}, "__definitely_not_exists__")
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, s.PIDFile())
	assert.Equal(t, StateFailed, s.State())
}

func TestQuietWritesServerLog(t *testing.T) {
	f := newFixture(t, config.Options{"quiet": true})
	s := f.supervisor(Options{}, "/bin/sh", "-c", "echo hello-from-server; sleep 30")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	logPath := filepath.Join(f.base, "tmp", config.DefaultLogName)
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(b), "hello-from-server")
	}, 3*time.Second, 20*time.Millisecond)
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestNotQuietInheritsOutput(t *testing.T) {
	f := newFixture(t, config.Options{"quiet": false})
	out := &lockedBuffer{}
	s := f.supervisor(Options{Stdout: out, Stderr: out}, "/bin/sh", "-c", "echo visible; sleep 30")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "visible") }, 3*time.Second, 20*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(f.base, "tmp", config.DefaultLogName))
}

func TestChildEnvAndWorkingDir(t *testing.T) {
	f := newFixture(t, config.Options{"env_vars": []string{"JW_MARK=xyz"}})
	s := f.supervisor(Options{}, "/bin/sh", "-c", `echo "$JW_MARK" > envout; sleep 30`)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	out := filepath.Join(f.home, "envout")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "xyz"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAwaitReady_Marker(t *testing.T) {
	f := newFixture(t, nil)
	marker := filepath.Join(f.home, "ready")
	s := f.supervisor(Options{Probe: detector.MarkerDetector{Path: marker}}, "/bin/sh", "-c", "sleep 0.2; touch ready; sleep 30")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	start := time.Now()
	require.NoError(t, s.AwaitReady(ctx))
	assert.FileExists(t, marker)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwaitReady_TimeoutIsOnlyAWarning(t *testing.T) {
	f := newFixture(t, config.Options{"startup_wait": "300ms"})
	s := f.supervisor(Options{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	start := time.Now()
	require.NoError(t, s.AwaitReady(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, s.IsRunning())
}

func TestAwaitReady_ServerExited(t *testing.T) {
	f := newFixture(t, nil)
	s := f.supervisor(Options{}, "/bin/sh", "-c", "exit 1")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	err := s.AwaitReady(ctx)
	require.ErrorIs(t, err, ErrExited)
	require.NoError(t, s.Stop(ctx))
	assert.NoFileExists(t, s.PIDFile())
}

func TestAwaitReady_NotStarted(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.supervisor(Options{}).AwaitReady(context.Background()), ErrNotStarted)
}

func TestAwaitReady_ContextCanceled(t *testing.T) {
	f := newFixture(t, config.Options{"startup_wait": 10})
	s := f.supervisor(Options{})
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.AwaitReady(ctx), context.DeadlineExceeded)
}

var errBoom = errors.New("boom")

func TestWrap_TaskErrorStillStops(t *testing.T) {
	f := newFixture(t, config.Options{"startup_wait": "100ms"})
	s := f.supervisor(Options{})

	var pid int
	err := s.Wrap(context.Background(), func(ctx context.Context) error {
		rec, _ := s.Record()
		pid = rec.PID
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.NotZero(t, pid)
	assert.NoFileExists(t, s.PIDFile())
	assert.False(t, f.handle.Alive(pid))
	assert.False(t, s.IsRunning())
}

func TestWrap_Success(t *testing.T) {
	f := newFixture(t, nil)
	marker := filepath.Join(f.home, "ready")
	s := f.supervisor(Options{Probe: detector.MarkerDetector{Path: marker}}, "/bin/sh", "-c", "touch ready; sleep 30")

	ran := false
	err := s.Wrap(context.Background(), func(ctx context.Context) error {
		ran = true
		assert.True(t, s.IsRunning())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, s.IsRunning())
	assert.NoFileExists(t, s.PIDFile())
}

func TestWrap_StartFailureSkipsTask(t *testing.T) {
	f := newFixture(t, config.Options{"jetty_home": filepath.Join(t.TempDir(), "absent")})
	s := f.supervisor(Options{})
	ran := false
	err := s.Wrap(context.Background(), func(ctx context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.False(t, ran)
	assert.Equal(t, StateIdle, s.State())
}

func TestWrap_StopsRunningInstanceAfterStartFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := f.supervisor(Options{})
	require.NoError(t, owner.Start(ctx))
	pid, ok := owner.PID()
	require.True(t, ok)

	ran := false
	err := f.supervisor(Options{}).Wrap(ctx, func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, ran)
	assert.False(t, detector.PIDAlive(pid))
	assert.NoFileExists(t, owner.PIDFile())
	assert.False(t, owner.IsRunning())
}

func TestIsPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	assert.True(t, IsPortInUse(port))
	require.NoError(t, ln.Close())
	assert.False(t, IsPortInUse(port))
}

func TestDefaultProbe(t *testing.T) {
	cfg, err := config.Resolve(config.Options{"jetty_home": "/j", "jetty_port": 8983})
	require.NoError(t, err)
	assert.Equal(t, "tcp:127.0.0.1:8983", DefaultProbe(cfg).Describe())

	cfg, err = config.Resolve(config.Options{"jetty_home": "/j", "jetty_port": 8983, "ready_path": "/solr/admin/ping"})
	require.NoError(t, err)
	assert.Equal(t, "http:http://127.0.0.1:8983/solr/admin/ping", DefaultProbe(cfg).Describe())

	cfg, err = config.Resolve(config.Options{"jetty_home": "/j", "jetty_port": 8983, "ready_marker": "ready", "ready_command": "true"})
	require.NoError(t, err)
	probe := DefaultProbe(cfg)
	require.IsType(t, detector.Any{}, probe)
	assert.Len(t, probe.(detector.Any), 3)
	assert.Contains(t, probe.Describe(), filepath.Join("/j", "ready"))
}

func TestAwaitReady_ReadyMarkerFromConfig(t *testing.T) {
	f := newFixture(t, config.Options{"ready_marker": "started"})
	s := f.supervisor(Options{}, "/bin/sh", "-c", "sleep 0.1; touch started; sleep 30")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	start := time.Now()
	require.NoError(t, s.AwaitReady(ctx))
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.FileExists(t, filepath.Join(f.home, "started"))
	require.NoError(t, s.Stop(ctx))
}

func TestHistoryEvents(t *testing.T) {
	f := newFixture(t, config.Options{"startup_wait": "100ms"})
	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	s := f.supervisor(Options{History: sink})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AwaitReady(ctx))
	require.NoError(t, s.Stop(ctx))

	for typ, want := range map[history.EventType]int{
		history.EventStart:        1,
		history.EventReadyTimeout: 1,
		history.EventStop:         1,
	} {
		n, err := sink.Count(ctx, typ)
		require.NoError(t, err)
		assert.Equal(t, want, n, "event %s", typ)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
