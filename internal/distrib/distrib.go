// Package distrib fetches and unpacks a jetty distribution archive
// (hydra-jetty by default) into the application tree.
package distrib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zip"

	"github.com/loykin/jettywrapper/internal/config"
)

// ErrArchive reports an unusable archive.
var ErrArchive = errors.New("invalid archive")

const generatorDir = "jetty_generator"

// Installer downloads URL to ZipFile and expands it into JettyDir, staging
// in TmpDir.
type Installer struct {
	URL      string
	ZipFile  string
	TmpDir   string
	JettyDir string
	Client   *http.Client
	Logger   *slog.Logger
	// MaxTries bounds download attempts; zero means 3.
	MaxTries uint64
}

// FromConfig builds an Installer that unpacks into cfg.JettyHome. Relative
// zip paths are taken from the base path.
func FromConfig(cfg config.Config, log *slog.Logger) Installer {
	zipFile := cfg.ZipFile
	if !filepath.IsAbs(zipFile) {
		zipFile = filepath.Join(cfg.BasePath, zipFile)
	}
	return Installer{
		URL:      cfg.URL,
		ZipFile:  zipFile,
		TmpDir:   cfg.TmpPath(),
		JettyDir: cfg.JettyHome,
		Logger:   log,
	}
}

func (in Installer) log() *slog.Logger {
	if in.Logger == nil {
		return slog.Default()
	}
	return in.Logger
}

// Download fetches URL into ZipFile, retrying transient failures with
// exponential backoff. Client errors (4xx) are not retried.
func (in Installer) Download(ctx context.Context) error {
	client := in.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	tries := in.MaxTries
	if tries == 0 {
		tries = 3
	}
	if err := os.MkdirAll(filepath.Dir(in.ZipFile), 0o750); err != nil {
		return err
	}
	in.log().Info("downloading jetty", "url", in.URL, "dest", in.ZipFile)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("download %s: HTTP %d", in.URL, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		return writeAtomic(in.ZipFile, resp.Body)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), tries-1), ctx)
	notify := func(err error, d time.Duration) {
		in.log().Warn("download failed, retrying", "error", err, "in", d)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("unable to download jetty from %s: %w", in.URL, err)
	}
	return nil
}

func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Unzip expands ZipFile (downloading it first when missing) and replaces
// JettyDir with the archive's top-level directory.
func (in Installer) Unzip(ctx context.Context) error {
	if _, err := os.Stat(in.ZipFile); errors.Is(err, os.ErrNotExist) {
		if err := in.Download(ctx); err != nil {
			return err
		}
	}
	in.log().Info("unpacking", "zip", in.ZipFile)
	stage := filepath.Join(in.TmpDir, generatorDir)
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	if err := extract(in.ZipFile, stage); err != nil {
		return err
	}
	expanded, err := expandedDir(stage)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(in.JettyDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(in.JettyDir), 0o750); err != nil {
		return err
	}
	if err := os.Rename(expanded, in.JettyDir); err != nil {
		return fmt.Errorf("unable to move %s into %s: %w", expanded, in.JettyDir, err)
	}
	return nil
}

// Clean removes JettyDir and unpacks a fresh copy.
func (in Installer) Clean(ctx context.Context) error {
	if err := os.RemoveAll(in.JettyDir); err != nil {
		return err
	}
	return in.Unzip(ctx)
}

func extract(zipFile, dest string) error {
	zr, err := zip.OpenReader(zipFile)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchive, zipFile, err)
	}
	defer func() { _ = zr.Close() }()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		// #nosec G305
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: entry %q escapes destination", ErrArchive, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	// #nosec G304
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	// #nosec G110
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// expandedDir is the first entry of the staging directory.
func expandedDir(stage string) (string, error) {
	entries, err := os.ReadDir(stage)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", fmt.Errorf("%w: archive is empty", ErrArchive)
	}
	return filepath.Join(stage, names[0]), nil
}
