// Package live prepares the running live environment so it can create pools.
package live

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/exit9/zfs-installer/pkg/shell"
)

// Packages installed into the live system.
var Packages = []string{"zfsutils-linux"}

type Preparer struct {
	Runner shell.Runner
	// Skip leaves the live system alone, for images that already ship ZFS.
	Skip bool
	Log  zerolog.Logger
}

// Prepare installs the ZFS userland and loads the kernel module.
func (p Preparer) Prepare(ctx context.Context) error {
	if p.Skip {
		p.Log.Info().Msg("skipping live ZFS module install")
		return nil
	}
	if err := shell.Run(ctx, p.Runner, "apt-get", "update"); err != nil {
		return fmt.Errorf("update package lists: %w", err)
	}
	args := append([]string{"install", "--yes"}, Packages...)
	if err := shell.Run(ctx, p.Runner, "apt-get", args...); err != nil {
		return fmt.Errorf("install zfs packages: %w", err)
	}
	if err := shell.Run(ctx, p.Runner, "modprobe", "zfs"); err != nil {
		return fmt.Errorf("load zfs module: %w", err)
	}
	p.Log.Info().Strs("packages", Packages).Msg("live environment ready")
	return nil
}
