package main

import (
	"time"

	"github.com/spf13/cobra"
)

// buildRoot creates the command tree. Each call gets its own viper instance
// so tests can execute it repeatedly.
func buildRoot() *cobra.Command {
	s := newSession()
	c := command{s: s}

	root := createRootCommand(s)
	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start jetty and wait until it is ready",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.Start(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the jetty recorded in the PID file",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.Stop(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether jetty is running, as JSON",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return c.Status() },
		},
		&cobra.Command{
			Use:   "pid",
			Short: "Print the PID of the running jetty",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return c.PID() },
		},
		&cobra.Command{
			Use:   "wrap -- <command> [args...]",
			Short: "Run a command while jetty is up, then stop jetty",
			Long: `Start jetty, wait for it, run the command and always stop jetty
afterwards. The command's exit status becomes the exit status of wrap.

Examples:
  jettywrapper wrap -- go test ./...
  jettywrapper --env test wrap -- bundle exec rspec`,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.Wrap(cmd.Context(), args, cmd.InOrStdin(), cmd.ErrOrStderr())
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the resolved configuration",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return c.Config() },
		},
		&cobra.Command{
			Use:   "port-in-use <port>",
			Short: "Report whether something listens on 127.0.0.1:<port>",
			Args:  cobra.ExactArgs(1),
			RunE:  func(_ *cobra.Command, args []string) error { return c.PortInUse(args[0]) },
		},
		&cobra.Command{
			Use:   "download",
			Short: "Download the jetty distribution archive",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.Download(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "unzip",
			Short: "Unpack the archive into jetty_home, downloading it when missing",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.Unzip(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove jetty_home and unpack a fresh copy",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.Clean(cmd.Context()) },
		},
		createHistoryCommand(c),
		createDeployCommand(c),
		createUndeployCommand(c),
		createAdminCommand(c),
	)
	return root
}

func createRootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "jettywrapper",
		Short: "Start, stop and wrap a local jetty for tests",
		Long: `jettywrapper controls one jetty per application root and environment.
Settings come from <app-root>/config/jetty.yml, then flags, then
JETTYWRAPPER_* environment variables.

Examples:
  jettywrapper start --env development
  jettywrapper wrap -- go test ./...
  jettywrapper stop`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return s.close()
		},
	}

	pf := root.PersistentFlags()
	pf.String(flagAppRoot, "", "application root containing config/jetty.yml (default \".\")")
	pf.String(flagEnv, "", "environment section of jetty.yml (default from RAILS_ENV, RACK_ENV or development)")
	pf.String(flagJettyHome, "", "jetty installation directory (default <app-root>/jetty)")
	pf.Int(flagPort, 0, "jetty port (default 8888)")
	pf.String(flagStartupWait, "", "seconds or duration to wait for readiness (default 5)")
	pf.Bool(flagQuiet, true, "send jetty output to <tmp>/jettywrapper.log instead of the terminal")
	pf.String(flagCommand, "", "command line to run instead of java -jar start.jar")
	pf.String(flagLogLevel, "info", "log level: debug, info, warn, error")
	pf.String(flagLogFormat, "color", "log format: color, text, json")
	pf.String(flagLogFile, "", "also write JSON logs to this rotating file")
	pf.String(flagHistoryDSN, "", "record lifecycle events (sqlite path, sqlite:// or postgres:// DSN)")
	pf.String(flagMetricsFile, "", "write prometheus metrics to this textfile on exit")
	return root
}

func createHistoryCommand(c command) *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lifecycle events from the history store, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.History(cmd.Context(), limit, all)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().BoolVar(&all, "all", false, "include events of every jetty_home in the store")
	return cmd
}

func createDeployCommand(c command) *cobra.Command {
	f := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the application to torquebox with a knob file",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return c.Deploy(cmd.Context(), *f) },
	}
	addDeployFlags(cmd, f)
	cmd.Flags().StringVar(&f.Context, "context-path", "", "web context of the application")
	cmd.Flags().BoolVar(&f.Wait, "wait", false, "wait until torquebox reports the deployment")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 90*time.Second, "how long --wait waits")
	return cmd
}

func createUndeployCommand(c command) *cobra.Command {
	f := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "undeploy",
		Short: "Remove the application's knob from torquebox",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return c.Undeploy(*f) },
	}
	addDeployFlags(cmd, f)
	return cmd
}

func addDeployFlags(cmd *cobra.Command, f *DeployFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "knob name (default <basename of root>-knob.yml)")
	cmd.Flags().StringVar(&f.Root, "root", "", "application root (default --app-root)")
	cmd.Flags().StringVar(&f.TorqueboxHome, "torquebox-home", "", "torquebox installation (default $TORQUEBOX_HOME)")
	cmd.Flags().StringVar(&f.DeployDir, "deploy-dir", "", "deployments directory (default <torquebox-home>/jboss/standalone/deployments)")
}

func createAdminCommand(c command) *cobra.Command {
	f := &AdminFlags{}
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Talk to the Solr, Fedora and Tomcat admin endpoints of the server",
	}
	pf := admin.PersistentFlags()
	pf.StringVar(&f.URL, "url", "", "base URL (default http://<host>:<port>)")
	pf.StringVar(&f.Username, "username", "", "basic auth user")
	pf.StringVar(&f.Password, "password", "", "basic auth password")
	pf.StringVar(&f.CACert, "ca-cert", "", "CA certificate for https")
	pf.BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")

	var instanceDir, contentType string
	create := &cobra.Command{
		Use:   "solr-create <name>",
		Short: "Create a Solr core",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SolrCreate(cmd.Context(), *f, args[0], instanceDir)
		},
	}
	create.Flags().StringVar(&instanceDir, "instance-dir", "", "core instance directory")
	put := &cobra.Command{
		Use:   "fedora-put <path> <file>",
		Short: "PUT a file to the Fedora REST API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.FedoraPut(cmd.Context(), *f, args[0], args[1], contentType)
		},
	}
	put.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "request content type")

	admin.AddCommand(
		&cobra.Command{
			Use:   "solr-status [core]",
			Short: "Show Solr core status",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				core := ""
				if len(args) == 1 {
					core = args[0]
				}
				return c.SolrStatus(cmd.Context(), *f, core)
			},
		},
		&cobra.Command{
			Use:   "solr-reload <core>",
			Short: "Reload a Solr core",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.SolrReload(cmd.Context(), *f, args[0])
			},
		},
		create,
		&cobra.Command{
			Use:   "solr-unload <core>",
			Short: "Unload a Solr core",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.SolrUnload(cmd.Context(), *f, args[0])
			},
		},
		&cobra.Command{
			Use:   "solr-ping <core>",
			Short: "Ping a Solr core",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.SolrPing(cmd.Context(), *f, args[0])
			},
		},
		&cobra.Command{
			Use:   "fedora-describe",
			Short: "Print the Fedora repository description",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.FedoraDescribe(cmd.Context(), *f) },
		},
		put,
		&cobra.Command{
			Use:   "fedora-delete <path>",
			Short: "DELETE a Fedora resource",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.FedoraDelete(cmd.Context(), *f, args[0])
			},
		},
		&cobra.Command{
			Use:   "tomcat-list",
			Short: "List web applications via the Tomcat manager",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.TomcatList(cmd.Context(), *f) },
		},
		&cobra.Command{
			Use:   "tomcat-deploy <path> <war>",
			Short: "Deploy a WAR via the Tomcat manager",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.TomcatDeploy(cmd.Context(), *f, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "tomcat-undeploy <path>",
			Short: "Undeploy a web application via the Tomcat manager",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.TomcatUndeploy(cmd.Context(), *f, args[0])
			},
		},
	)
	return admin
}
