package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	errReadyTimeout = errors.New("readiness timeout")
	errNotReady     = errors.New("not ready")
)

// pollReady calls probe every interval until it reports true, returns a
// terminal error (ErrExited) or timeout elapses. Other probe errors are
// retried. A zero timeout probes once.
func pollReady(ctx context.Context, timeout, interval time.Duration, probe func() (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := func() error {
		ok, err := probe()
		if errors.Is(err, ErrExited) {
			return backoff.Permanent(err)
		}
		if ok {
			return nil
		}
		if err != nil {
			return err
		}
		return errNotReady
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx))
	if err == nil || errors.Is(err, ErrExited) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() != nil {
		return errReadyTimeout
	}
	return err
}
