package main

import "time"

// Persistent flag names. They double as viper keys, so every one of them
// can also come from JETTYWRAPPER_<NAME> (dashes become underscores).
const (
	flagAppRoot     = "app-root"
	flagEnv         = "env"
	flagJettyHome   = "jetty-home"
	flagPort        = "port"
	flagStartupWait = "startup-wait"
	flagQuiet       = "quiet"
	flagCommand     = "command"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagLogFile     = "log-file"
	flagHistoryDSN  = "history-dsn"
	flagMetricsFile = "metrics-file"
)

// DeployFlags holds flags for the deploy and undeploy commands.
type DeployFlags struct {
	Name          string
	Root          string
	Context       string
	TorqueboxHome string
	DeployDir     string
	Wait          bool
	Timeout       time.Duration
}

// AdminFlags holds flags for the admin commands.
type AdminFlags struct {
	URL      string
	Username string
	Password string
	CACert   string
	Insecure bool
}
