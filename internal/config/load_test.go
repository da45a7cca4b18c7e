package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jettywrapper/internal/logger"
)

func writeJettyYML(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, "config")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jetty.yml"), []byte(content), 0o600))
}

func TestLoad_PerEnvironmentSection(t *testing.T) {
	root := t.TempDir()
	writeJettyYML(t, root, "test:\n  a: 2\ndefault:\n  a: 1\n")

	opts, err := Load(logger.Discard(), root, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, opts["a"])
}

func TestLoad_FallsBackToDefaultSection(t *testing.T) {
	root := t.TempDir()
	writeJettyYML(t, root, "default:\n  a: 1\n")

	opts, err := Load(logger.Discard(), root, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, opts["a"])
}

func TestLoad_FallsBackToBundledFile(t *testing.T) {
	t.Setenv("TEST_JETTY_PORT", "")
	root := t.TempDir()

	opts, err := Load(logger.Discard(), root, "test")
	require.NoError(t, err)
	cfg, err := Resolve(opts)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, filepath.Join(root, "jetty"), cfg.JettyHome)
	assert.Contains(t, cfg.JavaOpts, "-Xmx256m")
}

func TestLoad_TemplateExpansion(t *testing.T) {
	t.Setenv("SOLR_PORT_UNDER_TEST", "9983")
	root := t.TempDir()
	writeJettyYML(t, root, `
test:
  jetty_port: {{ env "SOLR_PORT_UNDER_TEST" }}
  startup_wait: {{ env "UNSET_WAIT_VAR" | default "30" }}
  jetty_home: {{ .AppRoot }}/hydra-jetty
`)

	opts, err := Load(logger.Discard(), root, "test")
	require.NoError(t, err)
	cfg, err := Resolve(opts)
	require.NoError(t, err)
	assert.Equal(t, 9983, cfg.Port)
	assert.Equal(t, "30s", cfg.StartupWait.String())
	assert.Equal(t, root+"/hydra-jetty", cfg.JettyHome)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad template": "test: {{ .Nope }}\n",
		"unclosed":     "test: {{ env \n",
		"bad yaml":     "test: [unterminated\n",
		"scalar":       "just a string\n",
		"blank":        "   \n",
		"list":         "- a\n- b\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeJettyYML(t, root, content)
			_, err := Load(logger.Discard(), root, "test")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigLoad), "err=%v", err)
		})
	}
}

func TestLoad_NoMatchingSection(t *testing.T) {
	root := t.TempDir()
	writeJettyYML(t, root, "production:\n  jetty_port: 80\n")
	opts, err := Load(logger.Discard(), root, "test")
	require.NoError(t, err)
	assert.Empty(t, opts)
}
