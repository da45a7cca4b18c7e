//go:build windows

package process

import (
	"fmt"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
)

const processTerminate = 0x0001

// signalTerm has no graceful equivalent for a detached console-less child;
// it terminates the process like signalKill.
func signalTerm(pid int) error { return signalKill(pid) }

func signalKill(pid int) error {
	if pid <= 1 {
		return fmt.Errorf("%w %d", ErrInvalidPID, pid)
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		// already gone
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	ret, _, err := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}
