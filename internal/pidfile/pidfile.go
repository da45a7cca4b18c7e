// Package pidfile persists the PID of the launched server so a later,
// unrelated invocation can find and stop it.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/jettywrapper/internal/detector"
)

// ErrPIDFile is returned when a PID file cannot be written or parsed.
var ErrPIDFile = errors.New("pid file")

// DefaultFallbackDir is used when Store.FallbackDir is empty.
func DefaultFallbackDir() string { return filepath.Join(os.TempDir(), "jettywrapper-pids") }

// Store maps a server home directory to a PID file. One file exists per
// (home, env) pair.
type Store struct {
	Dir         string
	FallbackDir string
	Env         string
}

var escaper = strings.NewReplacer("/", "_", `\`, "_", ":", "_")

// Name returns the file name for home: the path with separators replaced by
// "_", then "_<env>.pid".
func (s Store) Name(home string) string {
	name := escaper.Replace(home)
	if s.Env != "" {
		name += "_" + s.Env
	}
	return name + ".pid"
}

// Path is the primary location of the PID file for home.
func (s Store) Path(home string) string { return filepath.Join(s.Dir, s.Name(home)) }

func (s Store) fallbackPath(home string) string {
	dir := s.FallbackDir
	if dir == "" {
		dir = DefaultFallbackDir()
	}
	return filepath.Join(dir, s.Name(home))
}

// Write records pid for home and returns the path used. When the primary
// directory is not writable the fallback directory is tried.
func (s Store) Write(home string, pid int) (string, error) {
	if pid <= 1 {
		return "", fmt.Errorf("%w: invalid pid %d", ErrPIDFile, pid)
	}
	data := []byte(strconv.Itoa(pid) + "\n")
	primary := s.Path(home)
	perr := writeFile(primary, data)
	if perr == nil {
		return primary, nil
	}
	fallback := s.fallbackPath(home)
	if ferr := writeFile(fallback, data); ferr != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrPIDFile, primary, errors.Join(perr, ferr))
	}
	return fallback, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Read returns the recorded pid for home. ok is false when no file exists in
// either location. A pid of 1 or below is reported as corrupt.
func (s Store) Read(home string) (pid int, ok bool, err error) {
	for _, p := range []string{s.Path(home), s.fallbackPath(home)} {
		pid, err := detector.ReadPID(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, true, fmt.Errorf("%w: %w", ErrPIDFile, err)
		}
		if pid <= 1 {
			return 0, true, fmt.Errorf("%w: invalid pid %d in %s", ErrPIDFile, pid, p)
		}
		return pid, true, nil
	}
	return 0, false, nil
}

// Exists reports whether a PID file is present for home.
func (s Store) Exists(home string) bool {
	for _, p := range []string{s.Path(home), s.fallbackPath(home)} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Remove deletes the PID file from both locations. A missing file is fine.
func (s Store) Remove(home string) error {
	var errs []error
	for _, p := range []string{s.Path(home), s.fallbackPath(home)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alive reports whether the recorded pid names a live process.
func (s Store) Alive(home string) bool {
	pid, ok, err := s.Read(home)
	if !ok || err != nil {
		return false
	}
	return detector.PIDAlive(pid)
}
