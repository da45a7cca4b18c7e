//go:build windows

package detector

import "os/exec"

// shellCommand runs script through cmd.exe.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// noopCommand always succeeds; an empty probe command means "ready".
func noopCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
