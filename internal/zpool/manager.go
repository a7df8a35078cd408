package zpool

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/exit9/zfs-installer/internal/udev"
	"github.com/exit9/zfs-installer/pkg/shell"
)

// Manager drives zpool and zfs. Every failure aborts the caller; nothing
// created so far is rolled back.
type Manager struct {
	Runner  shell.Runner
	Settler udev.Settler
	// AltRoot is the temporary mount directory pools are created under.
	AltRoot string
	Log     zerolog.Logger
}

func (m Manager) Create(ctx context.Context, p Pool) error {
	args, err := p.CreateArgs(m.AltRoot)
	if err != nil {
		return err
	}
	cmd := shell.Cmd("zpool", args...)
	if p.Encryption != nil {
		// keylocation=prompt reads from stdin when it is not a terminal.
		cmd.Stdin = strings.NewReader(p.Encryption.Passphrase)
	}
	m.Log.Info().
		Str("pool", p.Name).
		Str("role", string(p.Role)).
		Bool("mirror", p.Mirror()).
		Bool("encrypted", p.Encryption != nil).
		Strs("members", p.Members).
		Msg("creating pool")
	if _, err := m.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("create %s pool %s: %w", p.Role, p.Name, err)
	}
	return nil
}

// Volume is a zvol: a block device backed by a dataset.
type Volume struct {
	Dataset    string
	SizeGiB    int
	Properties Options
}

func (v Volume) Device() string { return "/dev/zvol/" + v.Dataset }

func (v Volume) CreateArgs() []string {
	args := []string{"create", "-V", fmt.Sprintf("%dG", v.SizeGiB)}
	args = append(args, v.Properties.Args()...)
	return append(args, v.Dataset)
}

// CreateVolume creates v and waits for its device node.
func (m Manager) CreateVolume(ctx context.Context, v Volume) error {
	m.Log.Info().Str("dataset", v.Dataset).Int("size_gib", v.SizeGiB).Msg("creating volume")
	if err := shell.Run(ctx, m.Runner, "zfs", v.CreateArgs()...); err != nil {
		return fmt.Errorf("create volume %s: %w", v.Dataset, err)
	}
	if err := m.Settler.Settle(ctx, v.Device()); err != nil {
		return fmt.Errorf("volume %s: %w", v.Dataset, err)
	}
	return nil
}

func (m Manager) Destroy(ctx context.Context, dataset string) error {
	if err := shell.Run(ctx, m.Runner, "zfs", "destroy", dataset); err != nil {
		return fmt.Errorf("destroy %s: %w", dataset, err)
	}
	return nil
}

func (m Manager) SetProperty(ctx context.Context, dataset, name, value string) error {
	if err := shell.Run(ctx, m.Runner, "zfs", "set", name+"="+value, dataset); err != nil {
		return fmt.Errorf("set %s on %s: %w", name, dataset, err)
	}
	return nil
}

// SwapVolume returns the swap zvol definition for rootPool. Block size follows
// the page size so the kernel can swap whole pages.
func SwapVolume(rootPool string, sizeGiB, pageSize int) Volume {
	return Volume{
		Dataset: rootPool + "/swap",
		SizeGiB: sizeGiB,
		Properties: Options{
			{Flag: "-b", Value: fmt.Sprint(pageSize)},
			{Flag: "-o", Value: "compression=zle"},
			{Flag: "-o", Value: "logbias=throughput"},
			{Flag: "-o", Value: "sync=always"},
			{Flag: "-o", Value: "primarycache=metadata"},
			{Flag: "-o", Value: "secondarycache=none"},
			{Flag: "-o", Value: "com.sun:auto-snapshot=false"},
		},
	}
}

// CreateSwap creates the swap zvol under rootPool and formats it. A zero size
// is a no-op.
func (m Manager) CreateSwap(ctx context.Context, rootPool string, sizeGiB int) (Volume, error) {
	v := SwapVolume(rootPool, sizeGiB, unix.Getpagesize())
	if sizeGiB <= 0 {
		return v, nil
	}
	if err := m.CreateVolume(ctx, v); err != nil {
		return v, err
	}
	if err := shell.Run(ctx, m.Runner, "mkswap", "-f", v.Device()); err != nil {
		return v, fmt.Errorf("mkswap %s: %w", v.Device(), err)
	}
	return v, nil
}

// ExportAll exports every imported pool. Nothing may hold files open below the
// pools' mountpoints at this point.
func (m Manager) ExportAll(ctx context.Context) error {
	if err := shell.Run(ctx, m.Runner, "zpool", "export", "-a"); err != nil {
		return fmt.Errorf("export pools: %w", err)
	}
	return nil
}
