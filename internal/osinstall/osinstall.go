// Package osinstall puts an operating system onto the mounted root pool,
// either through the distribution's interactive installer or a custom script.
//
// The interactive installer cannot target a ZFS dataset, so it installs onto
// a temporary zvol which is then copied onto the real root and destroyed.
package osinstall

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/rs/zerolog"

	"github.com/exit9/zfs-installer/internal/mount"
	"github.com/exit9/zfs-installer/internal/partition"
	"github.com/exit9/zfs-installer/internal/udev"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/shell"
)

const (
	TempVolumeName    = "os-install-temp"
	TempVolumeSizeGiB = 10
	// InstallerTarget is where the installer mounts the system it installs.
	InstallerTarget = "/target"
)

// Volumes creates and destroys zvols.
type Volumes interface {
	CreateVolume(ctx context.Context, v zpool.Volume) error
	Destroy(ctx context.Context, dataset string) error
}

// TempVolume is the scratch disk the interactive installer writes to.
type TempVolume struct {
	Dataset string
	// Device is the resolved block device, e.g. /dev/zd0.
	Device    string
	Partition string
}

type Orchestrator struct {
	Runner   shell.Runner
	Volumes  Volumes
	Settler  udev.Settler
	Dialogs  ui.Dialogs
	Progress ui.ProgressFunc
	// Root is the mounted root pool the system ends up on.
	Root string
	// Out receives the output of the installer and the custom script.
	Out io.Writer
	Log zerolog.Logger
}

// Install populates Root. With a script, the script does all the work.
func (o Orchestrator) Install(ctx context.Context, rootPool, script string) error {
	if script != "" {
		return o.RunScript(ctx, script)
	}
	return o.InstallInteractive(ctx, rootPool)
}

// RunScript runs a custom installation script with root privileges. The
// script is responsible for populating Root.
func (o Orchestrator) RunScript(ctx context.Context, script string) error {
	o.Log.Info().Str("script", script).Msg("running custom install script")
	cmd := shell.Cmd("sudo", script)
	cmd.Stdout = o.Out
	if _, err := o.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("install script %s: %w", script, err)
	}
	return nil
}

// InstallInteractive runs the distribution installer against a temporary
// volume and copies the result to Root. The volume is destroyed on every path
// once it exists.
func (o Orchestrator) InstallInteractive(ctx context.Context, rootPool string) (err error) {
	vol := zpool.Volume{Dataset: path.Join(rootPool, TempVolumeName), SizeGiB: TempVolumeSizeGiB}
	if err := o.Volumes.CreateVolume(ctx, vol); err != nil {
		return err
	}
	defer func() {
		if derr := o.Volumes.Destroy(context.WithoutCancel(ctx), vol.Dataset); derr != nil {
			if err == nil {
				err = derr
				return
			}
			o.Log.Warn().Err(derr).Str("dataset", vol.Dataset).Msg("temporary volume left behind")
		}
	}()

	tv, err := o.prepare(ctx, vol)
	if err != nil {
		return err
	}
	if err := o.runInstaller(ctx, tv); err != nil {
		return err
	}
	return o.sync(ctx)
}

// prepare partitions the temporary volume with one Linux partition.
func (o Orchestrator) prepare(ctx context.Context, vol zpool.Volume) (TempVolume, error) {
	dev, err := shell.Output(ctx, o.Runner, "readlink", "-f", vol.Device())
	if err != nil {
		return TempVolume{}, fmt.Errorf("resolve %s: %w", vol.Device(), err)
	}
	part := partition.Region{Number: 1, Start: "0", End: "0", TypeCode: partition.TypeLinux}
	if err := shell.Run(ctx, o.Runner, "sgdisk", append(part.Args(), dev)...); err != nil {
		return TempVolume{}, fmt.Errorf("partition %s: %w", dev, err)
	}
	tv := TempVolume{Dataset: vol.Dataset, Device: dev, Partition: dev + "p1"}
	if err := o.Settler.Settle(ctx, tv.Partition); err != nil {
		return TempVolume{}, err
	}
	o.Log.Info().Str("device", tv.Device).Str("partition", tv.Partition).Msg("temporary volume ready")
	return tv, nil
}

func (o Orchestrator) runInstaller(ctx context.Context, tv TempVolume) error {
	msg := fmt.Sprintf("In the installer, choose \"Something else\" as installation type and use %s\n"+
		"as the root (/) partition, formatted as ext4. Leave every other disk alone.\n"+
		"When the installation finishes, pick \"Continue Testing\".", tv.Partition)
	if err := o.Dialogs.Info("Operating system installation", msg); err != nil {
		return err
	}

	cmd := shell.Cmd("ubiquity", "--no-bootloader")
	cmd.Stdout = o.Out
	if _, err := o.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("installer: %w", err)
	}
	// The installer enables swap on the live system; it must not hold the pools.
	if err := shell.Run(ctx, o.Runner, "swapoff", "-a"); err != nil {
		return fmt.Errorf("swapoff: %w", err)
	}

	mounted, err := mount.Mounted(ctx, o.Runner, InstallerTarget)
	if err != nil {
		return err
	}
	if !mounted {
		o.Log.Info().Str("partition", tv.Partition).Msg("installer target not mounted; mounting it")
		if err := mount.Mount(ctx, o.Runner, tv.Partition, InstallerTarget); err != nil {
			return fmt.Errorf("mount installed system: %w", err)
		}
	}
	return nil
}

// sync copies the installed tree onto Root and unmounts the installer target.
func (o Orchestrator) sync(ctx context.Context) error {
	bar := o.Progress.Start(100, "Copying installed system")
	cmd := shell.Cmd("rsync", "-avX", "--exclude=/swapfile", "--info=progress2", "--no-inc-recursive", "--human-readable",
		InstallerTarget+"/", o.Root)
	cmd.Stdout = &percentWriter{bar: bar}
	if _, err := o.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("copy installed system: %w", err)
	}
	_ = bar.Finish()
	if err := mount.Unmount(ctx, o.Runner, InstallerTarget); err != nil {
		return fmt.Errorf("unmount %s: %w", InstallerTarget, err)
	}
	return nil
}
