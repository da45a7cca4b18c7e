package config

import (
	"strconv"
	"strings"
)

// JavaVariables are the -D system properties that point the server at its
// port and home directories. Directory values are shell-escaped.
func (c Config) JavaVariables() []string {
	vars := []string{
		"-Djetty.port=" + strconv.Itoa(c.Port),
		"-Dsolr.solr.home=" + ShellEscape(c.SolrHome),
	}
	if c.fedoraExplicit {
		vars = append(vars, "-Dfedora.home="+ShellEscape(c.FedoraHome))
	}
	return vars
}

// Command is the argv used to launch the server from JettyHome:
// java, system properties, java_opts, -jar start.jar, jetty_opts.
func (c Config) Command() []string {
	args := make([]string, 0, 4+len(c.JavaOpts)+len(c.JettyOpts))
	args = append(args, "java")
	args = append(args, c.JavaVariables()...)
	args = append(args, c.JavaOpts...)
	args = append(args, "-jar", "start.jar")
	args = append(args, c.JettyOpts...)
	return args
}

// ShellEscape backslash-escapes every byte outside the POSIX-safe set so the
// value survives word splitting. An empty string becomes ”.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\n':
			b.WriteString("'\n'")
			continue
		case isShellSafe(ch):
		default:
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isShellSafe(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch >= 0x80:
		return true
	}
	return strings.IndexByte("_-.,:+/@", ch) >= 0
}
