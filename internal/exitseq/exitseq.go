// Package exitseq tears the installation target down in the order the pools
// need: virtual filesystems first, then the pool export.
package exitseq

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/exit9/zfs-installer/internal/mount"
	"github.com/exit9/zfs-installer/internal/wait"
	"github.com/exit9/zfs-installer/pkg/shell"
)

// VirtualFilesystems are bound into the target root, relative to it.
var VirtualFilesystems = []string{"dev", "proc", "sys"}

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 250 * time.Millisecond
)

type Exporter interface {
	ExportAll(ctx context.Context) error
}

type Sequencer struct {
	Runner   shell.Runner
	Pools    Exporter
	Timeout  time.Duration
	Interval time.Duration
	Log      zerolog.Logger
}

// Unbind detaches the virtual filesystems under root. A lazy unmount can take
// a moment to drop the mountpoint; one that lingers past the timeout gets a
// second unmount and a warning, not an error.
func (s Sequencer) Unbind(ctx context.Context, root string) error {
	timeout, interval := s.Timeout, s.Interval
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	for _, name := range VirtualFilesystems {
		target := filepath.Join(root, name)
		mounted, err := mount.Mounted(ctx, s.Runner, target)
		if err != nil {
			return err
		}
		if !mounted {
			continue
		}
		if err := mount.UnmountLazy(ctx, s.Runner, target); err != nil {
			return fmt.Errorf("unbind %s: %w", target, err)
		}
		err = wait.Until(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
			m, err := mount.Mounted(ctx, s.Runner, target)
			return !m, err
		})
		if errors.Is(err, wait.ErrTimeout) {
			s.Log.Warn().Str("path", target).Dur("waited", timeout).Msg("still mounted; unmounting again")
			if err := mount.UnmountLazy(ctx, s.Runner, target); err != nil {
				s.Log.Warn().Err(err).Str("path", target).Msg("second unmount failed")
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("unbind %s: %w", target, err)
		}
	}
	return nil
}

// Exit unbinds root and exports every pool.
func (s Sequencer) Exit(ctx context.Context, root string) error {
	if err := s.Unbind(ctx, root); err != nil {
		return err
	}
	if err := s.Pools.ExportAll(ctx); err != nil {
		return err
	}
	s.Log.Info().Msg("pools exported")
	return nil
}
