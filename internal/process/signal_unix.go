//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"
)

// signalTerm asks the process (and its session group) to shut down.
func signalTerm(pid int) error { return signal(pid, syscall.SIGTERM) }

// signalKill forcibly kills the process and its group.
func signalKill(pid int) error { return signal(pid, syscall.SIGKILL) }

func signal(pid int, sig syscall.Signal) error {
	if pid <= 1 {
		return fmt.Errorf("%w %d", ErrInvalidPID, pid)
	}
	// the child leads its own session, so -pid addresses the whole group
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	err = syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
