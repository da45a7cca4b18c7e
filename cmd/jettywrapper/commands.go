package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/loykin/jettywrapper"
	"github.com/loykin/jettywrapper/internal/distrib"
	"github.com/loykin/jettywrapper/internal/history"
	"github.com/loykin/jettywrapper/internal/history/factory"
	"github.com/loykin/jettywrapper/internal/metrics"
	"github.com/loykin/jettywrapper/internal/process"
	"github.com/loykin/jettywrapper/internal/supervisor"
)

// errNotRunning makes `pid` exit non-zero when there is nothing to report.
var errNotRunning = errors.New("jetty is not running")

// command holds the handlers behind the cobra tree so they can be tested
// without parsing flags.
type command struct {
	s *session
}

// StatusReport is what `status` prints.
type StatusReport struct {
	Home    string                `json:"jetty_home"`
	Env     string                `json:"env"`
	Port    int                   `json:"port"`
	PIDFile string                `json:"pid_file"`
	Running bool                  `json:"running"`
	PID     int                   `json:"pid,omitempty"`
	Process *process.Info         `json:"process,omitempty"`
	Sample  *metrics.ServerSample `json:"sample,omitempty"`
}

func (c command) Start(ctx context.Context) error {
	opts, err := c.s.options()
	if err != nil {
		return err
	}
	sv, err := jettywrapper.Start(ctx, opts, c.s.wrapperOptions()...)
	if sv != nil {
		defer func() { _ = sv.Close() }()
	}
	if err != nil {
		return err
	}
	pid, _ := sv.PID()
	_, _ = fmt.Fprintf(c.s.out, "started jetty (pid %d) on port %d\n", pid, sv.Config().Port)
	return nil
}

func (c command) Stop(ctx context.Context) error {
	opts, err := c.s.options()
	if err != nil {
		return err
	}
	sv, err := jettywrapper.Stop(ctx, opts, c.s.wrapperOptions()...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "stopped jetty at %s\n", sv.Config().JettyHome)
	return nil
}

func (c command) Status() error {
	cfg, err := c.s.resolve()
	if err != nil {
		return err
	}
	sv := supervisor.New(cfg, supervisor.Options{Logger: c.s.log})
	report := StatusReport{
		Home:    cfg.JettyHome,
		Env:     cfg.Env,
		Port:    cfg.Port,
		PIDFile: sv.PIDFile(),
		Running: sv.IsRunning(),
	}
	if pid, ok := sv.PID(); ok && report.Running {
		report.PID = pid
		if info, err := process.Inspect(pid); err == nil {
			report.Process = &info
		}
		if c.s.collector != nil {
			if sample, err := c.s.collector.Sample(cfg.Env, pid); err == nil {
				report.Sample = &sample
			} else {
				c.s.log.Warn("sample server", "pid", pid, "error", err)
			}
		}
	}
	return printJSON(c.s.out, report)
}

func (c command) PID() error {
	opts, err := c.s.options()
	if err != nil {
		return err
	}
	pid, ok, err := jettywrapper.PID(opts)
	if err != nil {
		return err
	}
	if !ok {
		return errNotRunning
	}
	_, _ = fmt.Fprintln(c.s.out, pid)
	return nil
}

// Wrap runs argv while jetty is up and stops jetty afterwards.
func (c command) Wrap(ctx context.Context, argv []string, stdin io.Reader, stderr io.Writer) error {
	if len(argv) == 0 {
		return errors.New("wrap needs a command to run, e.g. wrap -- go test ./...")
	}
	opts, err := c.s.options()
	if err != nil {
		return err
	}
	return jettywrapper.Wrap(ctx, opts, func(ctx context.Context) error {
		// #nosec G204
		task := exec.CommandContext(ctx, argv[0], argv[1:]...)
		task.Stdin = stdin
		task.Stdout = c.s.out
		task.Stderr = stderr
		task.Env = os.Environ()
		c.s.log.Info("running task", "argv", argv)
		return task.Run()
	}, c.s.wrapperOptions()...)
}

// Config prints the resolved configuration as YAML.
func (c command) Config() error {
	cfg, err := c.s.resolve()
	if err != nil {
		return err
	}
	doc := map[string]any{
		"app_root":     cfg.AppRoot,
		"base_path":    cfg.BasePath,
		"env":          cfg.Env,
		"jetty_home":   cfg.JettyHome,
		"solr_home":    cfg.SolrHome,
		"fedora_home":  cfg.FedoraHome,
		"tmp_dir":      cfg.TmpPath(),
		"host":         cfg.Host,
		"jetty_port":   cfg.Port,
		"startup_wait": cfg.StartupWait.Seconds(),
		"quiet":        cfg.Quiet,
		"java_opts":    cfg.JavaOpts,
		"jetty_opts":   cfg.JettyOpts,
		"command":      cfg.Command(),
		"url":          cfg.URL,
		"zip_file":     cfg.ZipFile,
	}
	for k, v := range map[string]string{
		"ready_path":    cfg.ReadyPath,
		"ready_command": cfg.ReadyCommand,
		"ready_marker":  cfg.ReadyMarker,
	} {
		if v != "" {
			doc[k] = v
		}
	}
	enc := yaml.NewEncoder(c.s.out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func (c command) PortInUse(arg string) error {
	port, err := strconv.Atoi(arg)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", arg)
	}
	_, _ = fmt.Fprintln(c.s.out, jettywrapper.IsPortInUse(port))
	return nil
}

func (c command) installer() (distrib.Installer, error) {
	cfg, err := c.s.resolve()
	if err != nil {
		return distrib.Installer{}, err
	}
	return distrib.FromConfig(cfg, c.s.log), nil
}

func (c command) Download(ctx context.Context) error {
	in, err := c.installer()
	if err != nil {
		return err
	}
	if err := in.Download(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "downloaded %s\n", in.ZipFile)
	return nil
}

func (c command) Unzip(ctx context.Context) error {
	in, err := c.installer()
	if err != nil {
		return err
	}
	if err := in.Unzip(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "unpacked into %s\n", in.JettyDir)
	return nil
}

func (c command) Clean(ctx context.Context) error {
	in, err := c.installer()
	if err != nil {
		return err
	}
	if err := in.Clean(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "cleaned %s\n", in.JettyDir)
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// History prints the most recent lifecycle events recorded for this jetty.
func (c command) History(ctx context.Context, limit int, all bool) error {
	cfg, err := c.s.resolve()
	if err != nil {
		return err
	}
	if cfg.HistoryDSN == "" {
		return errors.New("no history store configured (set --history-dsn or history_dsn)")
	}
	sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	reader, ok := sink.(history.Reader)
	if !ok {
		return fmt.Errorf("history store %T cannot be listed", sink)
	}
	home := cfg.JettyHome
	if all {
		home = ""
	}
	events, err := reader.Recent(ctx, home, limit)
	if err != nil {
		return err
	}
	return printJSON(c.s.out, events)
}
