package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandDetector runs a command that exits zero once the server is ready.
// Timeout bounds a single run; zero means no limit.
type CommandDetector struct {
	Command string
	Timeout time.Duration
}

// buildCommand avoids invoking a shell unless shell metacharacters are present.
func buildCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return noopCommand()
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	cmd := buildCommand(d.Command)
	if d.Timeout > 0 {
		if err := cmd.Start(); err != nil {
			return false, err
		}
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case err := <-done:
			return exitResult(err)
		case <-time.After(d.Timeout):
			_ = cmd.Process.Kill()
			<-done
			return false, context.DeadlineExceeded
		}
	}
	return exitResult(cmd.Run())
}

func exitResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit code means not ready
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
