// Package torquebox deploys a Rack application to a Torquebox server by
// dropping a knob descriptor into its deployments directory. The server
// signals the outcome with .deployed or .failed marker files.
package torquebox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/loykin/jettywrapper/internal/detector"
)

var (
	// ErrDeployDir is returned when the deployments directory is missing.
	ErrDeployDir = errors.New("torquebox deployment dir does not exist")
	// ErrDeployFailed is returned by Wait when the server wrote a .failed marker.
	ErrDeployFailed = errors.New("torquebox deployment failed")
)

const knobSuffix = "-knob.yml"

// Descriptor is the knob YAML document.
type Descriptor struct {
	Application Application       `yaml:"application"`
	Environment map[string]string `yaml:"environment"`
	Web         *Web              `yaml:"web,omitempty"`
}

type Application struct {
	Root string `yaml:"root"`
}

type Web struct {
	Context string `yaml:"context"`
}

// BasicDescriptor describes the app at root. An empty env falls back to
// RACK_ENV then RAILS_ENV; RACK_ENV is omitted when none is known.
func BasicDescriptor(root, env, contextPath string) Descriptor {
	if root == "" {
		root, _ = os.Getwd()
	}
	if env == "" {
		env = os.Getenv("RACK_ENV")
	}
	if env == "" {
		env = os.Getenv("RAILS_ENV")
	}
	d := Descriptor{Application: Application{Root: root}, Environment: map[string]string{}}
	if env != "" {
		d.Environment["RACK_ENV"] = env
	}
	if contextPath != "" {
		d.Web = &Web{Context: contextPath}
	}
	return d
}

// KnobName normalizes name to "<name>-knob.yml".
func KnobName(name string) string {
	name = strings.TrimSuffix(name, ".yml")
	name = strings.TrimSuffix(name, "-knob")
	return name + knobSuffix
}

// DeploymentName derives the knob name from an application root directory.
func DeploymentName(root string) string { return KnobName(filepath.Base(root)) }

// Deployer manages knobs in one deployments directory.
type Deployer struct {
	Dir    string
	Logger *slog.Logger
}

// NewDeployer uses <torquebox_home>/jboss/standalone/deployments when dir is empty.
func NewDeployer(torqueboxHome, dir string, log *slog.Logger) Deployer {
	if dir == "" {
		dir = filepath.Join(torqueboxHome, "jboss", "standalone", "deployments")
	}
	if log == nil {
		log = slog.Default()
	}
	return Deployer{Dir: dir, Logger: log}
}

func (d Deployer) path(name, marker string) string {
	return filepath.Join(d.Dir, KnobName(name)+marker)
}

func (d Deployer) checkDir() error {
	st, err := os.Stat(d.Dir)
	if err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", ErrDeployDir, d.Dir)
	}
	return nil
}

// Deploy writes the knob and touches its .dodeploy marker. It returns the
// knob path. A previous .failed marker is cleared.
func (d Deployer) Deploy(name string, desc Descriptor) (string, error) {
	if err := d.checkDir(); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode knob: %w", err)
	}
	knob := d.path(name, "")
	if err := os.WriteFile(knob, out, 0o644); err != nil {
		return "", fmt.Errorf("write knob: %w", err)
	}
	_ = os.Remove(d.path(name, ".failed"))
	if err := os.WriteFile(d.path(name, ".dodeploy"), nil, 0o644); err != nil {
		return "", fmt.Errorf("touch dodeploy: %w", err)
	}
	d.Logger.Info("knob written", "knob", knob)
	return knob, nil
}

// IsDeployed reports whether the server has acknowledged the knob.
func (d Deployer) IsDeployed(name string) (bool, error) {
	if err := d.checkDir(); err != nil {
		return false, err
	}
	return detector.MarkerDetector{Path: d.path(name, ".deployed")}.Alive()
}

// Failed reports whether the last deployment of name failed.
func (d Deployer) Failed(name string) bool {
	_, err := os.Stat(d.path(name, ".failed"))
	return err == nil
}

// Undeploy removes the .deployed marker, which makes the server undeploy the
// app, and deletes the knob itself.
func (d Deployer) Undeploy(name string) error {
	deployed, err := d.IsDeployed(name)
	if err != nil {
		return err
	}
	if !deployed {
		d.Logger.Info("application is not deployed", "name", KnobName(name))
	}
	var errs []error
	for _, marker := range []string{".deployed", ".dodeploy", ".failed", ""} {
		if err := os.Remove(d.path(name, marker)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Detector is a readiness probe for the supervisor: ready once deployed.
func (d Deployer) Detector(name string) detector.Detector {
	return detector.MarkerDetector{Path: d.path(name, ".deployed")}
}

// ReadDescriptor decodes the knob written for name.
func (d Deployer) ReadDescriptor(name string) (Descriptor, error) {
	var desc Descriptor
	// #nosec G304
	b, err := os.ReadFile(d.path(name, ""))
	if err != nil {
		return desc, err
	}
	err = yaml.Unmarshal(b, &desc)
	return desc, err
}

// Wait blocks until the server marks name as deployed or failed, or ctx is
// done. It watches the deployments directory instead of polling it.
func (d Deployer) Wait(ctx context.Context, name string) error {
	if err := d.checkDir(); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", d.Dir, err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(d.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", d.Dir, err)
	}

	deployed, failed := d.path(name, ".deployed"), d.path(name, ".failed")
	check := func() (bool, error) {
		if d.Failed(name) {
			return true, fmt.Errorf("%w: %s", ErrDeployFailed, failed)
		}
		ok, err := d.IsDeployed(name)
		return ok, err
	}
	// markers written before the watch was added produce no event
	if done, err := check(); done || err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("deployment watcher closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if ev.Name != deployed && ev.Name != failed {
				continue
			}
			if done, err := check(); done || err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("deployment watcher closed")
			}
			d.Logger.Warn("deployment watcher error", "error", err)
		}
	}
}
