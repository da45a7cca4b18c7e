package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
)

// ErrEmptyCommand is returned when a Spec has no program to run.
var ErrEmptyCommand = errors.New("process: empty command")

// Spec describes a child process to launch. Command[0] is the program,
// resolved through PATH; the rest are passed as arguments without a shell.
type Spec struct {
	Command []string
	Dir     string
	// Env replaces the inherited environment when non-empty.
	Env []string
	// Stdout and Stderr receive the child's output; nil inherits the
	// supervisor's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (s Spec) String() string { return strings.Join(s.Command, " ") }

func (s Spec) build() (*exec.Cmd, error) {
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return nil, ErrEmptyCommand
	}
	// #nosec G204
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	cmd.Stdin = nil
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	configureSysProcAttr(cmd)
	return cmd, nil
}
