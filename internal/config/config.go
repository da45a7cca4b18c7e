package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/loykin/jettywrapper/internal/env"
)

var (
	// ErrConfiguration reports missing or invalid location settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrConfigLoad reports a jetty.yml that could not be expanded or parsed.
	ErrConfigLoad = errors.New("config load error")
)

// Defaults applied by Resolve.
const (
	DefaultPort        = 8888
	DefaultStartupWait = 5 * time.Second
	DefaultHost        = "127.0.0.1"
	DefaultTmpDir      = "tmp"
	DefaultJettyDir    = "jetty"
	DefaultVersion     = "v7.0.0"
	DefaultURLPattern  = "https://github.com/projecthydra/hydra-jetty/archive/%s.zip"
	DefaultLogName     = "jettywrapper.log"
)

// Options is the sparse input map. Keys follow jetty.yml (jetty_home,
// jetty_port, startup_wait, quiet, ...). A nil value counts as absent.
type Options map[string]any

// Merge returns a copy of o overlaid with the non-nil values of other.
func (o Options) Merge(other Options) Options {
	out := make(Options, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func (o Options) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := o[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (o Options) str(keys ...string) (string, error) {
	v, ok := o.lookup(keys...)
	if !ok {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConfiguration, keys[0], err)
	}
	return s, nil
}

// Config is the fully resolved setting set for one supervised server.
type Config struct {
	AppRoot     string
	BasePath    string
	Env         string
	JettyHome   string
	JettyDir    string
	SolrHome    string
	FedoraHome  string
	TmpDir      string
	Host        string
	Port        int
	StartupWait time.Duration
	Quiet       bool
	JavaOpts    []string
	JettyOpts   []string
	ChildEnv    []string
	ReadyPath   string
	// ReadyCommand and ReadyMarker add probes next to the HTTP/TCP one.
	ReadyCommand string
	ReadyMarker  string
	HistoryDSN   string
	Version      string
	URL          string
	ZipFile      string

	fedoraExplicit bool
}

// Resolve builds a Config from sparse options, applying the defaults:
// jetty_home <- <base_path>/jetty, solr_home <- <jetty_home>/solr,
// fedora_home <- <jetty_home>/fedora/default, port <- 8888,
// startup_wait <- 5s, quiet <- true (explicit false is kept).
func Resolve(opts Options) (Config, error) {
	var c Config
	var err error

	if c.AppRoot, err = opts.str("app_root"); err != nil {
		return Config{}, err
	}
	if c.BasePath, err = opts.str("base_path"); err != nil {
		return Config{}, err
	}
	if c.BasePath == "" {
		c.BasePath = c.AppRoot
	}
	if c.JettyDir, err = opts.str("jetty_dir"); err != nil {
		return Config{}, err
	}
	if c.JettyDir == "" {
		c.JettyDir = DefaultJettyDir
	}
	if c.JettyHome, err = opts.str("jetty_home"); err != nil {
		return Config{}, err
	}
	if c.JettyHome == "" {
		if c.BasePath == "" {
			return Config{}, fmt.Errorf("%w: set either base_path (app root) or jetty_home so the server can be located", ErrConfiguration)
		}
		c.JettyHome, err = filepath.Abs(filepath.Join(c.BasePath, c.JettyDir))
		if err != nil {
			return Config{}, fmt.Errorf("%w: jetty_home: %v", ErrConfiguration, err)
		}
	}
	if c.BasePath == "" {
		c.BasePath = "."
	}
	if c.AppRoot == "" {
		c.AppRoot = c.BasePath
	}

	envName, err := opts.str("env")
	if err != nil {
		return Config{}, err
	}
	c.Env = env.Name(envName)

	if c.SolrHome, err = opts.str("solr_home"); err != nil {
		return Config{}, err
	}
	if c.SolrHome == "" {
		c.SolrHome = filepath.Join(c.JettyHome, "solr")
	}
	if c.FedoraHome, err = opts.str("fedora_home"); err != nil {
		return Config{}, err
	}
	c.fedoraExplicit = c.FedoraHome != ""
	if c.FedoraHome == "" {
		c.FedoraHome = filepath.Join(c.JettyHome, "fedora", "default")
	}
	if c.TmpDir, err = opts.str("tmp_dir"); err != nil {
		return Config{}, err
	}
	if c.TmpDir == "" {
		c.TmpDir = DefaultTmpDir
	}
	if c.Host, err = opts.str("host", "jetty_host"); err != nil {
		return Config{}, err
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}

	c.Port = DefaultPort
	if v, ok := opts.lookup("jetty_port", "port"); ok {
		p, err := cast.ToIntE(v)
		if err != nil || p <= 0 || p > 65535 {
			return Config{}, fmt.Errorf("%w: port must be a positive integer, got %v", ErrConfiguration, v)
		}
		c.Port = p
	}

	c.StartupWait = DefaultStartupWait
	if v, ok := opts.lookup("startup_wait"); ok {
		d, err := toSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: startup_wait: %v", ErrConfiguration, err)
		}
		c.StartupWait = d
	}

	c.Quiet = true
	if v, ok := opts.lookup("quiet"); ok {
		q, err := cast.ToBoolE(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: quiet: %v", ErrConfiguration, err)
		}
		c.Quiet = q
	}

	if c.JavaOpts, err = opts.list("java_opts"); err != nil {
		return Config{}, err
	}
	if c.JettyOpts, err = opts.list("jetty_opts"); err != nil {
		return Config{}, err
	}
	if c.ChildEnv, err = opts.list("env_vars"); err != nil {
		return Config{}, err
	}
	if c.ReadyPath, err = opts.str("ready_path"); err != nil {
		return Config{}, err
	}
	if c.ReadyCommand, err = opts.str("ready_command"); err != nil {
		return Config{}, err
	}
	if c.ReadyMarker, err = opts.str("ready_marker"); err != nil {
		return Config{}, err
	}
	if c.ReadyMarker != "" && !filepath.IsAbs(c.ReadyMarker) {
		c.ReadyMarker = filepath.Join(c.JettyHome, c.ReadyMarker)
	}
	if c.HistoryDSN, err = opts.str("history_dsn"); err != nil {
		return Config{}, err
	}

	if c.Version, err = opts.str("hydra_jetty_version"); err != nil {
		return Config{}, err
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.URL, err = opts.str("url"); err != nil {
		return Config{}, err
	}
	if c.URL == "" {
		c.URL = fmt.Sprintf(DefaultURLPattern, c.Version)
	}
	if c.ZipFile, err = opts.str("zip_file"); err != nil {
		return Config{}, err
	}
	if c.ZipFile == "" {
		c.ZipFile = os.Getenv("JETTY_ZIP")
	}
	if c.ZipFile == "" {
		c.ZipFile = filepath.Join(c.TmpDir, c.URL[strings.LastIndex(c.URL, "/")+1:])
	}
	return c, nil
}

// Validate checks the invariants that must hold before a start.
func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("%w: port must be positive, got %d", ErrConfiguration, c.Port)
	}
	if c.StartupWait < 0 {
		return fmt.Errorf("%w: startup_wait must not be negative", ErrConfiguration)
	}
	st, err := os.Stat(c.JettyHome)
	if err != nil {
		return fmt.Errorf("%w: jetty_home %s: %v", ErrConfiguration, c.JettyHome, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: jetty_home %s is not a directory", ErrConfiguration, c.JettyHome)
	}
	return nil
}

// TmpPath is <base_path>/<tmp_dir> as an absolute path.
func (c Config) TmpPath() string {
	p, err := filepath.Abs(filepath.Join(c.BasePath, c.TmpDir))
	if err != nil {
		return filepath.Join(c.BasePath, c.TmpDir)
	}
	return p
}

// PIDDir is where PID files are written.
func (c Config) PIDDir() string { return filepath.Join(c.TmpPath(), "pids") }

// LogFile receives the server's output in quiet mode.
func (c Config) LogFile() string { return filepath.Join(c.TmpPath(), DefaultLogName) }

// Addr is the host:port the server is expected to listen on.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (o Options) list(key string) ([]string, error) {
	v, ok := o.lookup(key)
	if !ok {
		return []string{}, nil
	}
	if s, isStr := v.(string); isStr {
		return strings.Fields(s), nil
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
	}
	return out, nil
}

// toSeconds accepts a bare number of seconds or a duration string ("30s").
func toSeconds(v any) (time.Duration, error) {
	var d time.Duration
	switch x := v.(type) {
	case time.Duration:
		d = x
	case string:
		if n, err := cast.ToFloat64E(x); err == nil {
			d = time.Duration(n * float64(time.Second))
			break
		}
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return 0, err
		}
		d = parsed
	default:
		n, err := cast.ToFloat64E(x)
		if err != nil {
			return 0, err
		}
		d = time.Duration(n * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}
