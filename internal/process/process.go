// Package process launches detached child processes and terminates them
// later given only a PID.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/jettywrapper/internal/detector"
)

// ErrStillAlive is returned by Terminate when a process survives SIGKILL.
var ErrStillAlive = errors.New("process: still alive after kill")

// ErrInvalidPID is returned when asked to signal pid 1 or below, which would
// address init or every process the caller may signal.
var ErrInvalidPID = errors.New("process: refusing to signal pid")

const (
	pollInterval = 50 * time.Millisecond
	killWait     = 2 * time.Second
)

// Handle is the OS boundary used by the supervisor. Tests may substitute it.
type Handle interface {
	// Launch starts spec detached and returns its PID.
	Launch(spec Spec) (int, error)
	// Alive reports whether pid names a live, non-zombie process.
	Alive(pid int) bool
	// Terminate asks pid to exit, escalating to a hard kill after grace.
	// A pid that is already gone is not an error.
	Terminate(ctx context.Context, pid int, grace time.Duration) error
}

// OS is the Handle backed by os/exec. Children it launched are reaped by a
// goroutine per child so they never linger as zombies; foreign PIDs (read
// back from a PID file) are polled instead.
type OS struct {
	mu    sync.Mutex
	owned map[int]*child
}

type child struct {
	done chan struct{}
	err  error
}

// NewOS returns a Handle backed by the operating system.
func NewOS() *OS { return &OS{owned: make(map[int]*child)} }

// Launch starts spec detached in its own session and returns its pid.
func (o *OS) Launch(spec Spec) (int, error) {
	cmd, err := spec.build()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch %s: %w", spec.Command[0], err)
	}
	pid := cmd.Process.Pid
	c := &child{done: make(chan struct{})}
	o.mu.Lock()
	o.owned[pid] = c
	o.mu.Unlock()
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()
	return pid, nil
}

func (o *OS) Alive(pid int) bool {
	if c := o.child(pid); c != nil {
		select {
		case <-c.done:
			return false
		default:
		}
	}
	return detector.PIDAlive(pid)
}

// Exited returns the wait result of an owned child once it has exited.
func (o *OS) Exited(pid int) (bool, error) {
	c := o.child(pid)
	if c == nil {
		return !detector.PIDAlive(pid), nil
	}
	select {
	case <-c.done:
		return true, c.err
	default:
		return false, nil
	}
}

func (o *OS) Terminate(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 || !o.Alive(pid) {
		o.forget(pid)
		return nil
	}
	if err := signalTerm(pid); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	if o.waitGone(ctx, pid, grace) {
		o.forget(pid)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := signalKill(pid); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	if o.waitGone(ctx, pid, killWait) {
		o.forget(pid)
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStillAlive, pid)
}

// waitGone blocks until pid is gone, d elapses or ctx ends.
func (o *OS) waitGone(ctx context.Context, pid int, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	var done <-chan struct{}
	if c := o.child(pid); c != nil {
		done = c.done
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return true
		case <-tick.C:
			if done == nil && !detector.PIDAlive(pid) {
				return true
			}
		case <-timer.C:
			return !o.Alive(pid)
		case <-ctx.Done():
			return !o.Alive(pid)
		}
	}
}

func (o *OS) child(pid int) *child {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owned[pid]
}

func (o *OS) forget(pid int) {
	o.mu.Lock()
	delete(o.owned, pid)
	o.mu.Unlock()
}
