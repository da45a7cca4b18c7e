// Package supervisor starts one external server process, waits for it to
// become ready and stops it again, using a PID file as the only durable
// record of the running instance.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/jettywrapper/internal/config"
	"github.com/loykin/jettywrapper/internal/detector"
	"github.com/loykin/jettywrapper/internal/env"
	"github.com/loykin/jettywrapper/internal/history"
	"github.com/loykin/jettywrapper/internal/metrics"
	"github.com/loykin/jettywrapper/internal/pidfile"
	"github.com/loykin/jettywrapper/internal/process"
)

var (
	// ErrAlreadyRunning is returned by Start when the PID file names a live process.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrPortInUse is returned by Start when something already listens on the port.
	ErrPortInUse = errors.New("port in use")
	// ErrExited is returned by AwaitReady when the server died while starting.
	ErrExited = errors.New("server exited during startup")
	// ErrNotStarted is returned by AwaitReady without a prior successful Start.
	ErrNotStarted = errors.New("server not started")
)

const (
	// DefaultPollInterval is how often AwaitReady probes the server.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultStopGrace is how long Stop waits after SIGTERM before killing.
	DefaultStopGrace = 10 * time.Second
)

// Record describes the launched server. It is created by Start and never
// mutated afterwards.
type Record struct {
	PID       int
	Command   []string
	StartedAt time.Time
	PIDFile   string
}

// Options carries the collaborators of a Supervisor. Zero values select the
// production implementations.
type Options struct {
	Logger  *slog.Logger
	Handle  process.Handle
	Store   *pidfile.Store
	Probe   detector.Detector
	History history.Sink
	// Command replaces the java command line built from the config.
	Command []string
	// Stdout and Stderr receive server output when quiet is off.
	Stdout       io.Writer
	Stderr       io.Writer
	PollInterval time.Duration
	StopGrace    time.Duration
	PortInUse    func(port int) bool
}

// Supervisor owns a single server identified by (jetty_home, env).
type Supervisor struct {
	cfg     config.Config
	log     *slog.Logger
	handle  process.Handle
	store   pidfile.Store
	probe   detector.Detector
	sink    history.Sink
	command []string
	stdout  io.Writer
	stderr  io.Writer
	poll    time.Duration
	grace   time.Duration
	portUse func(int) bool

	mu     sync.Mutex
	state  State
	record *Record
}

// New builds a Supervisor for cfg.
func New(cfg config.Config, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		log:     opts.Logger,
		handle:  opts.Handle,
		probe:   opts.Probe,
		sink:    opts.History,
		command: opts.Command,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		poll:    opts.PollInterval,
		grace:   opts.StopGrace,
		portUse: opts.PortInUse,
		state:   StateIdle,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("home", cfg.JettyHome, "env", cfg.Env)
	if s.handle == nil {
		s.handle = process.NewOS()
	}
	if opts.Store != nil {
		s.store = *opts.Store
	} else {
		s.store = pidfile.Store{
			Dir:         cfg.PIDDir(),
			FallbackDir: filepath.Join(cfg.TmpPath(), "fallback-pids"),
			Env:         cfg.Env,
		}
	}
	if s.probe == nil {
		s.probe = DefaultProbe(cfg)
	}
	if s.sink == nil {
		s.sink = history.Nop{}
	}
	if len(s.command) == 0 {
		s.command = cfg.Command()
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.grace <= 0 {
		s.grace = DefaultStopGrace
	}
	if s.portUse == nil {
		s.portUse = IsPortInUse
	}
	return s
}

// DefaultProbe is an HTTP GET on ready_path when configured, else a TCP
// connect. A ready_command or ready_marker is tried alongside it and the
// server counts as ready as soon as one of them succeeds.
func DefaultProbe(cfg config.Config) detector.Detector {
	var probe detector.Detector = detector.TCPDetector{Addr: cfg.Addr()}
	if cfg.ReadyPath != "" {
		probe = detector.HTTPDetector{URL: "http://" + cfg.Addr() + cfg.ReadyPath}
	}
	probes := detector.Any{probe}
	if cfg.ReadyMarker != "" {
		probes = append(probes, detector.MarkerDetector{Path: cfg.ReadyMarker})
	}
	if cfg.ReadyCommand != "" {
		probes = append(probes, detector.CommandDetector{Command: cfg.ReadyCommand, Timeout: cfg.StartupWait})
	}
	if len(probes) == 1 {
		return probe
	}
	return probes
}

// IsPortInUse reports whether something accepts TCP connections on
// 127.0.0.1:port.
func IsPortInUse(port int) bool { return detector.PortInUse(port) }

// Config returns the resolved configuration.
func (s *Supervisor) Config() config.Config { return s.cfg }

// PIDFile is the primary PID file location for this server.
func (s *Supervisor) PIDFile() string { return s.store.Path(s.cfg.JettyHome) }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record returns the launch record, if this supervisor started the server.
func (s *Supervisor) Record() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return Record{}, false
	}
	return *s.record, true
}

// PID returns the recorded PID from the PID file.
func (s *Supervisor) PID() (int, bool) {
	pid, ok, err := s.store.Read(s.cfg.JettyHome)
	if err != nil || !ok {
		return 0, false
	}
	return pid, true
}

// IsRunning reports whether a PID file exists and names a live process.
func (s *Supervisor) IsRunning() bool {
	pid, ok := s.PID()
	return ok && s.handle.Alive(pid)
}

// Start launches the server unless one is already running for this home
// and env. A stale PID file is removed first. No PID file is left behind
// when Start fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning && s.record != nil && s.handle.Alive(s.record.PID) {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, s.record.PID)
	}
	s.transition(StateStarting)

	home := s.cfg.JettyHome
	pid, ok, err := s.store.Read(home)
	switch {
	case err != nil:
		s.log.Warn("removing unreadable pid file", "path", s.PIDFile(), "error", err)
		_ = s.store.Remove(home)
	case ok && s.handle.Alive(pid):
		return s.fail(ctx, "already_running", fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, pid, s.PIDFile()))
	case ok:
		s.log.Warn("removing stale pid file", "pid", pid, "path", s.PIDFile())
		if err := s.store.Remove(home); err != nil {
			return s.fail(ctx, "pid_file", fmt.Errorf("%w: remove stale: %w", pidfile.ErrPIDFile, err))
		}
	}

	if s.portUse(s.cfg.Port) {
		return s.fail(ctx, "port_in_use", fmt.Errorf("%w: %d", ErrPortInUse, s.cfg.Port))
	}
	if err := s.cfg.Validate(); err != nil {
		return s.fail(ctx, "configuration", err)
	}

	spec, closeOut, err := s.processSpec()
	if err != nil {
		return s.fail(ctx, "output", err)
	}
	s.log.Info("starting server", "command", spec.String(), "port", s.cfg.Port, "quiet", s.cfg.Quiet)
	pid, err = s.handle.Launch(spec)
	closeOut()
	if err != nil {
		return s.fail(ctx, "launch", err)
	}

	path, err := s.store.Write(home, pid)
	if err != nil {
		if terr := s.handle.Terminate(ctx, pid, s.grace); terr != nil {
			s.log.Error("failed to terminate server after pid file error", "pid", pid, "error", terr)
		}
		return s.fail(ctx, "pid_file", err)
	}

	s.record = &Record{PID: pid, Command: spec.Command, StartedAt: time.Now(), PIDFile: path}
	s.transition(StateRunning)
	metrics.IncStart(s.cfg.Env)
	s.event(ctx, history.EventStart, pid, s.record.StartedAt, nil)
	s.log.Info("server started", "pid", pid, "pid_file", path)
	return nil
}

// processSpec builds the launch spec. The returned func releases the
// supervisor's copy of the quiet-mode log file.
func (s *Supervisor) processSpec() (process.Spec, func(), error) {
	spec := process.Spec{Command: s.command, Dir: s.cfg.JettyHome}
	if len(s.cfg.ChildEnv) > 0 {
		e := env.New()
		e.FromOS()
		e.SetAll(s.cfg.ChildEnv)
		spec.Env = e.Merge()
	}
	if !s.cfg.Quiet {
		spec.Stdout, spec.Stderr = s.stdout, s.stderr
		return spec, func() {}, nil
	}
	logPath := s.cfg.LogFile()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return spec, nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return spec, nil, fmt.Errorf("open server log: %w", err)
	}
	spec.Stdout, spec.Stderr = f, f
	return spec, func() { _ = f.Close() }, nil
}

// AwaitReady polls the readiness probe at a fixed interval for at most
// startup_wait. A timeout is logged and is not an error.
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	rec, ok := s.Record()
	if !ok {
		return ErrNotStarted
	}
	s.log.Info("waiting for server", "probe", s.probe.Describe(), "timeout", s.cfg.StartupWait)
	start := time.Now()
	err := pollReady(ctx, s.cfg.StartupWait, s.poll, func() (bool, error) {
		if !s.handle.Alive(rec.PID) {
			return false, ErrExited
		}
		return s.probe.Alive()
	})
	switch {
	case err == nil:
		elapsed := time.Since(start)
		metrics.ObserveReady(s.cfg.Env, elapsed.Seconds())
		s.event(ctx, history.EventReady, rec.PID, rec.StartedAt, nil)
		s.log.Info("server ready", "pid", rec.PID, "elapsed", elapsed.Round(time.Millisecond))
		return nil
	case errors.Is(err, ErrExited):
		s.log.Error("server exited before becoming ready", "pid", rec.PID)
		s.event(ctx, history.EventFailed, rec.PID, rec.StartedAt, err)
		return fmt.Errorf("%w: pid %d", ErrExited, rec.PID)
	case errors.Is(err, errReadyTimeout):
		metrics.IncReadyTimeout(s.cfg.Env)
		s.event(ctx, history.EventReadyTimeout, rec.PID, rec.StartedAt, nil)
		s.log.Warn("server not ready before timeout, continuing", "timeout", s.cfg.StartupWait, "probe", s.probe.Describe())
		return nil
	default:
		return err
	}
}

// Stop terminates the recorded server and removes its PID file. It is a
// no-op when nothing is recorded or the process is already gone.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	home := s.cfg.JettyHome
	pid, ok, err := s.store.Read(home)
	if err != nil {
		s.log.Warn("removing unreadable pid file", "path", s.PIDFile(), "error", err)
		ok = false
	}
	if !ok && s.record != nil {
		pid, ok = s.record.PID, true
	}
	if !ok {
		_ = s.store.Remove(home)
		s.record = nil
		s.transition(StateIdle)
		s.log.Debug("no server recorded, nothing to stop")
		return nil
	}

	s.transition(StateStopping)
	if s.handle.Alive(pid) {
		s.log.Info("stopping server", "pid", pid)
		if err := s.handle.Terminate(ctx, pid, s.grace); err != nil {
			s.transition(StateFailed)
			return fmt.Errorf("stop pid %d: %w", pid, err)
		}
		metrics.IncStop(s.cfg.Env)
	} else {
		s.log.Warn("recorded server not running", "pid", pid)
	}
	if err := s.store.Remove(home); err != nil {
		s.transition(StateFailed)
		return fmt.Errorf("%w: remove: %w", pidfile.ErrPIDFile, err)
	}
	var startedAt time.Time
	if s.record != nil {
		startedAt = s.record.StartedAt
	}
	s.event(ctx, history.EventStop, pid, startedAt, nil)
	s.record = nil
	s.transition(StateIdle)
	s.log.Info("server stopped", "pid", pid)
	return nil
}

// Wrap starts the server, waits for it, runs task and always stops the
// server afterwards, even when Start itself failed. The start or task error
// wins over a stop error.
func (s *Supervisor) Wrap(ctx context.Context, task func(ctx context.Context) error) (err error) {
	startErr := s.Start(ctx)
	defer func() {
		if serr := s.Stop(context.WithoutCancel(ctx)); serr != nil {
			if err == nil {
				err = serr
			} else {
				s.log.Error("stop after failure", "error", serr)
			}
		}
	}()
	if startErr != nil {
		return startErr
	}
	if err := s.AwaitReady(ctx); err != nil {
		return err
	}
	return task(ctx)
}

// fail must be called with s.mu held.
func (s *Supervisor) fail(ctx context.Context, reason string, err error) error {
	s.record = nil
	s.transition(StateFailed)
	metrics.IncStartFailure(s.cfg.Env, reason)
	s.event(ctx, history.EventFailed, 0, time.Time{}, err)
	s.log.Error("start failed", "reason", reason, "error", err)
	return err
}

// transition must be called with s.mu held.
func (s *Supervisor) transition(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	metrics.RecordStateTransition(from.String(), to.String())
	s.log.Debug("state", "from", from, "to", to)
}

func (s *Supervisor) event(ctx context.Context, t history.EventType, pid int, startedAt time.Time, err error) {
	rec := history.Record{
		Home:      s.cfg.JettyHome,
		Env:       s.cfg.Env,
		PID:       pid,
		Port:      s.cfg.Port,
		Command:   process.Spec{Command: s.command}.String(),
		StartedAt: startedAt,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if serr := s.sink.Send(ctx, history.Event{Type: t, OccurredAt: time.Now(), Record: rec}); serr != nil {
		s.log.Warn("history export failed", "event", t, "error", serr)
	}
}
