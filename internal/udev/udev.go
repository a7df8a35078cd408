// Package udev waits for device nodes created by partitioning or by zvol
// creation. The nodes appear asynchronously, so callers settle the event queue
// and then poll for the paths they are about to use.
package udev

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/internal/wait"
	"github.com/exit9/zfs-installer/pkg/shell"
)

const (
	DefaultTimeout  = 20 * time.Second
	DefaultInterval = 250 * time.Millisecond
)

type Settler struct {
	Runner   shell.Runner
	FS       afero.Fs
	Timeout  time.Duration
	Interval time.Duration
	Log      zerolog.Logger
}

// Settle drains pending device events and then waits until every path exists.
func (s Settler) Settle(ctx context.Context, paths ...string) error {
	timeout, interval := s.Timeout, s.Interval
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if interval == 0 {
		interval = DefaultInterval
	}
	if err := shell.Run(ctx, s.Runner, "udevadm", "settle", fmt.Sprintf("--timeout=%d", int(timeout.Seconds()))); err != nil {
		return fmt.Errorf("udevadm settle: %w", err)
	}
	if len(paths) == 0 {
		return nil
	}
	var missing string
	err := wait.Until(ctx, timeout, interval, func(context.Context) (bool, error) {
		for _, p := range paths {
			ok, err := afero.Exists(s.FS, p)
			if err != nil {
				return false, err
			}
			if !ok {
				missing = p
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("device node %s did not appear: %w", missing, err)
	}
	s.Log.Debug().Strs("paths", paths).Msg("device nodes present")
	return nil
}
