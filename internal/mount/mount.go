// Package mount wraps the mount utilities.
package mount

import (
	"context"
	"errors"

	"github.com/exit9/zfs-installer/pkg/shell"
)

// Mounted reports whether path is a mountpoint, using mountpoint(1).
func Mounted(ctx context.Context, r shell.Runner, path string) (bool, error) {
	err := shell.Run(ctx, r, "mountpoint", "-q", path)
	if err == nil {
		return true, nil
	}
	var ee *shell.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func Mount(ctx context.Context, r shell.Runner, source, target string) error {
	return shell.Run(ctx, r, "mount", source, target)
}

// Rbind recursively binds source onto target.
func Rbind(ctx context.Context, r shell.Runner, source, target string) error {
	return shell.Run(ctx, r, "mount", "--rbind", source, target)
}

func Unmount(ctx context.Context, r shell.Runner, target string) error {
	return shell.Run(ctx, r, "umount", target)
}

// UnmountLazy detaches target and everything below it even while busy.
func UnmountLazy(ctx context.Context, r shell.Runner, target string) error {
	return shell.Run(ctx, r, "umount", "--recursive", "--force", "--lazy", target)
}
