// Package wait polls a condition until it holds or a deadline passes. It backs
// both the device-node settle wait and the unmount completion wait.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrTimeout = errors.New("timed out waiting for condition")

var errNotYet = errors.New("condition not met")

// ConditionFunc reports whether the awaited state has been reached. A non-nil
// error stops polling immediately.
type ConditionFunc func(ctx context.Context) (bool, error)

// Until polls cond every interval until it returns true, returns an error, the
// timeout elapses (ErrTimeout) or ctx is cancelled.
func Until(ctx context.Context, timeout, interval time.Duration, cond ConditionFunc) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         interval,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	err := backoff.Retry(func() error {
		ok, err := cond(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotYet
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errNotYet) {
		return ErrTimeout
	}
	return err
}
