package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/jettywrapper"
	"github.com/loykin/jettywrapper/internal/config"
	"github.com/loykin/jettywrapper/internal/logger"
	"github.com/loykin/jettywrapper/internal/metrics"
)

const envPrefix = "JETTYWRAPPER"

// session carries what every subcommand needs once flags are parsed.
type session struct {
	v         *viper.Viper
	out       io.Writer
	log       *slog.Logger
	logCloser io.Closer
	registry  *prometheus.Registry
	collector *metrics.ServerCollector
}

func newSession() *session {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &session{v: v, log: logger.Discard()}
}

// open binds flags and builds the logger and metrics registry.
func (s *session) open(cmd *cobra.Command) error {
	if err := s.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	s.out = cmd.OutOrStdout()
	log, closer, err := logger.New(logger.Config{
		Level:  s.v.GetString(flagLogLevel),
		Format: logger.Format(s.v.GetString(flagLogFormat)),
		Output: cmd.ErrOrStderr(),
		File:   logger.FileConfig{Path: s.v.GetString(flagLogFile)},
	})
	if err != nil {
		return err
	}
	s.log, s.logCloser = log, closer

	if s.v.GetString(flagMetricsFile) != "" {
		s.registry = prometheus.NewRegistry()
		if err := metrics.Register(s.registry); err != nil {
			return err
		}
		s.collector = metrics.NewServerCollector()
		if err := s.collector.RegisterMetrics(s.registry); err != nil {
			return err
		}
	}
	return nil
}

// close flushes the metrics textfile and releases the log file.
func (s *session) close() error {
	var err error
	if path := s.v.GetString(flagMetricsFile); path != "" && s.registry != nil {
		if werr := metrics.WriteTextfile(path, s.registry); werr != nil {
			err = fmt.Errorf("write metrics: %w", werr)
		}
	}
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}
	return err
}

// options loads jetty.yml for the selected env and overlays explicit flags
// and JETTYWRAPPER_* variables.
func (s *session) options() (config.Options, error) {
	appRoot := s.v.GetString(flagAppRoot)
	if appRoot == "" {
		appRoot = "."
	}
	envName := s.v.GetString(flagEnv)
	opts, err := config.Load(s.log, appRoot, envName)
	if err != nil {
		return nil, err
	}
	over := config.Options{"app_root": appRoot}
	if envName != "" {
		over["env"] = envName
	}
	if s.v.IsSet(flagJettyHome) {
		over["jetty_home"] = s.v.GetString(flagJettyHome)
	}
	if s.v.IsSet(flagPort) {
		over["jetty_port"] = s.v.GetInt(flagPort)
	}
	if s.v.IsSet(flagStartupWait) {
		over["startup_wait"] = s.v.GetString(flagStartupWait)
	}
	if s.v.IsSet(flagQuiet) {
		over["quiet"] = s.v.GetBool(flagQuiet)
	}
	if s.v.IsSet(flagHistoryDSN) {
		over["history_dsn"] = s.v.GetString(flagHistoryDSN)
	}
	return opts.Merge(over), nil
}

func (s *session) resolve() (config.Config, error) {
	opts, err := s.options()
	if err != nil {
		return config.Config{}, err
	}
	return config.Resolve(opts)
}

// wrapperOptions are the facade options shared by the lifecycle commands.
func (s *session) wrapperOptions() []jettywrapper.Option {
	with := []jettywrapper.Option{jettywrapper.WithLogger(s.log)}
	if argv := strings.Fields(s.v.GetString(flagCommand)); len(argv) > 0 {
		with = append(with, jettywrapper.WithCommand(argv...))
	}
	return with
}
