package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/viper"

	"github.com/loykin/jettywrapper/internal/env"
)

// DefaultConfigFile is the bundled jetty.yml used when the application has none.
//
//go:embed jetty.yml
var DefaultConfigFile []byte

// FileName is the path of the per-application config relative to the app root.
var FileName = filepath.Join("config", "jetty.yml")

// TemplateData is available to jetty.yml while it is expanded.
type TemplateData struct {
	AppRoot string
	Env     string
}

// Load reads <appRoot>/config/jetty.yml (or the bundled default when missing),
// expands it as a text/template, parses it as YAML and returns the section for
// envName, falling back to the "default" section.
func Load(log *slog.Logger, appRoot, envName string) (Options, error) {
	if log == nil {
		log = slog.Default()
	}
	if appRoot == "" {
		appRoot = "."
	}
	envName = env.Name(envName)

	path := filepath.Join(appRoot, FileName)
	raw, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		log.Warn("jettywrapper config not found, using bundled default", "expected", path)
		path = "bundled:jetty.yml"
		raw = DefaultConfigFile
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigLoad, path, err)
	}
	return Parse(path, raw, TemplateData{AppRoot: appRoot, Env: envName})
}

// Parse expands and decodes one jetty.yml document. name is used in errors only.
func Parse(name string, raw []byte, data TemplateData) (Options, error) {
	expanded, err := expand(name, raw, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s was found, but could not be expanded: %v", ErrConfigLoad, name, err)
	}
	if strings.TrimSpace(expanded) == "" {
		return nil, fmt.Errorf("%w: %s was found, but was blank", ErrConfigLoad, name)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("%w: %s was found, but could not be parsed: %v", ErrConfigLoad, name, err)
	}
	if len(v.AllKeys()) == 0 {
		return nil, fmt.Errorf("%w: %s was found, but was blank or malformed", ErrConfigLoad, name)
	}

	section := v.Sub(data.Env)
	if section == nil {
		section = v.Sub("default")
	}
	if section == nil {
		return Options{}, nil
	}
	return Options(section.AllSettings()), nil
}

func expand(name string, raw []byte, data TemplateData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(template.FuncMap{
		"env": os.Getenv,
		"default": func(def string, v any) string {
			if s := strings.TrimSpace(fmt.Sprint(v)); v != nil && s != "" {
				return s
			}
			return def
		},
	}).Parse(string(raw))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
