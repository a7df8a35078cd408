// Package boot makes the installed system boot from its pools: EFI mount,
// GRUB, firmware entries for mirror disks, the boot pool import unit and the
// fstab entries that go with them.
package boot

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/internal/textdoc"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/internal/zpool"
)

const (
	FstabPath  = "/etc/fstab"
	ResumePath = "/etc/initramfs-tools/conf.d/resume"
	UnitDir    = "/etc/systemd/system"
	EFIMount   = "/boot/efi"
	// TempSwapFile is the swap file the OS installer configures; it is not
	// copied to the pools.
	TempSwapFile = "/swapfile"
	// EFILoader is the shim-less GRUB image registered for mirror disks.
	EFILoader = `\EFI\ubuntu\grubx64.efi`
)

// Packages the installed system needs to import its pools and boot via EFI.
var Packages = []string{"zfs-initramfs", "grub-efi-amd64-signed", "shim-signed"}

// Target runs commands and edits files inside the installed system.
type Target interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
	FS() afero.Fs
}

// PropertySetter changes dataset properties from the host.
type PropertySetter interface {
	SetProperty(ctx context.Context, dataset, name, value string) error
}

// Layout is what the boot setup needs to know about the pools.
type Layout struct {
	Disks    []string
	BootPool string
	RootPool string
	SwapGiB  int
}

type Configurator struct {
	Target   Target
	Pools    PropertySetter
	Progress ui.ProgressFunc
	Log      zerolog.Logger
}

func (c Configurator) Configure(ctx context.Context, l Layout) error {
	if len(l.Disks) == 0 {
		return fmt.Errorf("configure boot: no disks")
	}
	steps := []struct {
		name string
		fn   func(context.Context, Layout) error
	}{
		{"Installing boot packages", c.installPackages},
		{"Installing GRUB", c.installGrub},
		{"Cloning EFI partitions", c.cloneEFI},
		// update-initramfs writes to /boot, which must still be the boot pool.
		{"Configuring swap", c.swap},
		{"Registering boot pool import", c.bootPoolImport},
	}
	bar := c.Progress.Start(len(steps), "Configuring boot")
	for _, s := range steps {
		bar.Describe(s.name)
		if err := s.fn(ctx, l); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return bar.Finish()
}

func (c Configurator) installPackages(ctx context.Context, _ Layout) error {
	if err := c.Target.Run(ctx, "apt", "update"); err != nil {
		return fmt.Errorf("update package lists: %w", err)
	}
	args := append([]string{"install", "--yes"}, Packages...)
	if err := c.Target.Run(ctx, "apt", args...); err != nil {
		return fmt.Errorf("install boot packages: %w", err)
	}
	return nil
}

func (c Configurator) installGrub(ctx context.Context, l Layout) error {
	efiPart := zpool.PartitionPath(l.Disks[0], 1)
	uuid, err := c.Target.Output(ctx, "blkid", "-s", "PARTUUID", "-o", "value", efiPart)
	if err != nil {
		return fmt.Errorf("read PARTUUID of %s: %w", efiPart, err)
	}
	if uuid == "" {
		return fmt.Errorf("read PARTUUID of %s: empty", efiPart)
	}
	err = textdoc.Edit(c.Target.FS(), FstabPath, func(d *textdoc.Document) {
		// The temporary install left its own root and swapfile behind; the
		// root pool is mounted by ZFS and neither exists on it.
		d.RemoveFstab("/")
		d.RemoveFstab(TempSwapFile)
		d.UpsertFstab(textdoc.FstabEntry{
			Spec:    "PARTUUID=" + uuid,
			File:    EFIMount,
			VfsType: "vfat",
			Options: "nofail,x-systemd.device-timeout=1",
			PassNo:  1,
		})
	})
	if err != nil {
		return fmt.Errorf("update fstab for %s: %w", EFIMount, err)
	}
	if err := c.Target.Run(ctx, "mkdir", "-p", EFIMount); err != nil {
		return err
	}
	if err := c.Target.Run(ctx, "mount", EFIMount); err != nil {
		return fmt.Errorf("mount %s: %w", EFIMount, err)
	}
	if err := c.Target.Run(ctx, "grub-install"); err != nil {
		return fmt.Errorf("grub-install: %w", err)
	}
	err = textdoc.Edit(c.Target.FS(), GrubDefaultsPath, func(d *textdoc.Document) {
		PatchGrubDefaults(d, l.RootPool)
	})
	if err != nil {
		return fmt.Errorf("patch %s: %w", GrubDefaultsPath, err)
	}
	if err := c.Target.Run(ctx, "update-grub"); err != nil {
		return fmt.Errorf("update-grub: %w", err)
	}
	if err := c.Target.Run(ctx, "umount", EFIMount); err != nil {
		return fmt.Errorf("unmount %s: %w", EFIMount, err)
	}
	c.Log.Info().Str("efi", efiPart).Str("partuuid", uuid).Msg("grub installed")
	return nil
}

// cloneEFI copies the first disk's EFI partition to every other disk and
// registers a firmware boot entry for each copy.
func (c Configurator) cloneEFI(ctx context.Context, l Layout) error {
	src := zpool.PartitionPath(l.Disks[0], 1)
	for i, disk := range l.Disks[1:] {
		dst := zpool.PartitionPath(disk, 1)
		if err := c.Target.Run(ctx, "dd", "if="+src, "of="+dst); err != nil {
			return fmt.Errorf("clone %s to %s: %w", src, dst, err)
		}
		label := "ubuntu-" + strconv.Itoa(i+2)
		err := c.Target.Run(ctx, "efibootmgr", "--create", "--disk", disk, "--label", label, "--loader", EFILoader)
		if err != nil {
			return fmt.Errorf("register boot entry for %s: %w", disk, err)
		}
		c.Log.Info().Str("disk", disk).Str("label", label).Msg("boot entry created")
	}
	return nil
}

func (c Configurator) bootPoolImport(ctx context.Context, l Layout) error {
	name := ImportUnitName(l.BootPool)
	body, err := RenderImportUnit(l.BootPool)
	if err != nil {
		return err
	}
	fsys := c.Target.FS()
	if err := fsys.MkdirAll(UnitDir, 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(fsys, path.Join(UnitDir, name), body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := c.Target.Run(ctx, "systemctl", "enable", name); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	if err := c.Pools.SetProperty(ctx, l.BootPool, "mountpoint", "legacy"); err != nil {
		return err
	}
	return c.editFstab(textdoc.FstabEntry{
		Spec:    l.BootPool,
		File:    "/boot",
		VfsType: "zfs",
		Options: "nodev,relatime,x-systemd.requires=" + name,
	})
}

func (c Configurator) swap(ctx context.Context, l Layout) error {
	if l.SwapGiB <= 0 {
		return nil
	}
	vol := zpool.SwapVolume(l.RootPool, l.SwapGiB, 0)
	err := c.editFstab(textdoc.FstabEntry{
		Spec:    vol.Device(),
		File:    "none",
		VfsType: "swap",
		Options: "discard",
	})
	if err != nil {
		return err
	}
	// Hibernating to a zvol is not supported; stop initramfs looking for it.
	err = textdoc.Edit(c.Target.FS(), ResumePath, func(d *textdoc.Document) {
		d.Set("RESUME", "none")
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", ResumePath, err)
	}
	if err := c.Target.Run(ctx, "update-initramfs", "-u"); err != nil {
		return fmt.Errorf("update-initramfs: %w", err)
	}
	return nil
}

func (c Configurator) editFstab(e textdoc.FstabEntry) error {
	err := textdoc.Edit(c.Target.FS(), FstabPath, func(d *textdoc.Document) {
		d.UpsertFstab(e)
	})
	if err != nil {
		return fmt.Errorf("update fstab for %s: %w", e.File, err)
	}
	return nil
}
