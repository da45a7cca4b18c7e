package env

import (
	"os"
	"sort"
	"strings"
)

// DefaultName is the environment used when nothing else selects one.
const DefaultName = "development"

// lookupOrder lists the variables consulted by Name, highest precedence first.
var lookupOrder = []string{"JETTYWRAPPER_ENV", "RAILS_ENV", "RACK_ENV", "environment"}

// Name resolves the configuration environment (development, test, ...).
// An explicit value wins; otherwise the first non-empty variable in
// lookupOrder; otherwise DefaultName.
func Name(explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	for _, k := range lookupOrder {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return DefaultName
}

type Var map[string]string

// Env composes the environment handed to the supervised server.
type Env struct {
	Var  Var // overrides from configuration (K->V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies a list of "K=V" overrides; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// Merge returns OS env overlaid with overrides, sorted, with ${VAR}
// references expanded against the composed map (single pass).
func (e *Env) Merge() []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse converts "K=V" entries into a map, skipping entries without a key.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
