// Package jettywrapper starts, stops and wraps a local Jetty (or any Java
// servlet container) used as a test fixture by an application.
package jettywrapper

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/loykin/jettywrapper/internal/config"
	"github.com/loykin/jettywrapper/internal/history"
	"github.com/loykin/jettywrapper/internal/history/factory"
	"github.com/loykin/jettywrapper/internal/pidfile"
	"github.com/loykin/jettywrapper/internal/supervisor"
)

// Re-export core types for external consumers.

type Options = config.Options

type Config = config.Config

type State = supervisor.State

type HistorySink = history.Sink

var (
	ErrConfiguration  = config.ErrConfiguration
	ErrConfigLoad     = config.ErrConfigLoad
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrPortInUse      = supervisor.ErrPortInUse
	ErrExited         = supervisor.ErrExited
	ErrPIDFile        = pidfile.ErrPIDFile
)

// Option tunes the supervisor built by the package-level helpers.
type Option func(*settings)

type settings struct {
	log     *slog.Logger
	sink    history.Sink
	command []string
	stdout  io.Writer
	stderr  io.Writer
}

// WithLogger routes supervisor logs to l.
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.log = l } }

// WithHistory exports lifecycle events to sink. The caller keeps ownership of
// the sink; history_dsn is ignored when one is given.
func WithHistory(sink history.Sink) Option { return func(s *settings) { s.sink = sink } }

// WithCommand replaces the java command line, e.g. to run a different
// container or a stand-in during tests.
func WithCommand(argv ...string) Option { return func(s *settings) { s.command = argv } }

// WithOutput sets where server output goes when quiet is off.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *settings) { s.stdout, s.stderr = stdout, stderr }
}

// Supervisor controls one server. Close releases the history sink opened
// from history_dsn, if any.
type Supervisor struct {
	*supervisor.Supervisor
	closer io.Closer
}

func (s *Supervisor) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Configure resolves sparse options into a complete Config.
func Configure(opts Options) (Config, error) { return config.Resolve(opts) }

// LoadConfig reads <appRoot>/config/jetty.yml and returns the section for env.
func LoadConfig(appRoot, env string) (Options, error) {
	return config.Load(nil, appRoot, env)
}

// New resolves opts and builds a Supervisor without touching any process.
func New(opts Options, with ...Option) (*Supervisor, error) {
	cfg, err := config.Resolve(opts)
	if err != nil {
		return nil, err
	}
	var st settings
	for _, o := range with {
		o(&st)
	}
	var closer io.Closer
	sink := st.sink
	if sink == nil {
		sink, err = factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return nil, err
		}
		closer = sink
	}
	inner := supervisor.New(cfg, supervisor.Options{
		Logger:  st.log,
		History: sink,
		Command: st.command,
		Stdout:  st.stdout,
		Stderr:  st.stderr,
	})
	return &Supervisor{Supervisor: inner, closer: closer}, nil
}

// Start launches the server and waits for it to become ready. The returned
// supervisor should be closed once the caller is done with it.
func Start(ctx context.Context, opts Options, with ...Option) (*Supervisor, error) {
	s, err := New(opts, with...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return s, err
	}
	if err := s.AwaitReady(ctx); err != nil {
		if errors.Is(err, ErrExited) {
			// the child is gone, drop its PID file
			if serr := s.Stop(context.WithoutCancel(ctx)); serr != nil {
				return s, errors.Join(err, serr)
			}
		}
		return s, err
	}
	return s, nil
}

// Stop stops the server recorded in the PID file for opts. Stopping a
// server that is not running is not an error.
func Stop(ctx context.Context, opts Options, with ...Option) (*Supervisor, error) {
	s, err := New(opts, with...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s, s.Stop(ctx)
}

// Wrap starts the server, runs task and always stops the server again.
func Wrap(ctx context.Context, opts Options, task func(ctx context.Context) error, with ...Option) (err error) {
	s, err := New(opts, with...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return s.Wrap(ctx, task)
}

// IsRunning reports whether the PID file for opts names a live process.
func IsRunning(opts Options) (bool, error) {
	s, err := New(opts, WithHistory(history.Nop{}))
	if err != nil {
		return false, err
	}
	return s.IsRunning(), nil
}

// PID returns the PID recorded for opts.
func PID(opts Options) (int, bool, error) {
	s, err := New(opts, WithHistory(history.Nop{}))
	if err != nil {
		return 0, false, err
	}
	pid, ok := s.PID()
	return pid, ok, nil
}

// IsPortInUse reports whether something listens on 127.0.0.1:port.
func IsPortInUse(port int) bool { return supervisor.IsPortInUse(port) }
