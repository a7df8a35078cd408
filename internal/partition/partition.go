// Package partition wipes the selected disks and lays out the EFI, boot-pool
// and root-pool partitions on each of them.
package partition

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/exit9/zfs-installer/internal/udev"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/shell"
)

const (
	EFISizeMiB  = 512
	BootSizeMiB = 512

	TypeEFI      = "EF00"
	TypePoolPart = "BF01"
	TypeLinux    = "8300"

	EFIPartition = 1
)

// Region is one sgdisk partition: start and end use sgdisk's notation, where
// "0" means the default start or the end of the disk.
type Region struct {
	Number   int
	Start    string
	End      string
	TypeCode string
}

func (r Region) Args() []string {
	return []string{
		fmt.Sprintf("-n%d:%s:%s", r.Number, r.Start, r.End),
		fmt.Sprintf("-t%d:%s", r.Number, r.TypeCode),
	}
}

type Plan struct {
	Disk    string
	Regions []Region
}

// NewPlan lays out EFI, boot-pool and root-pool regions. With tailGiB > 0 the
// root-pool region stops that many GiB before the end of the disk.
func NewPlan(disk string, tailGiB int) Plan {
	end := "0"
	if tailGiB > 0 {
		end = fmt.Sprintf("-%dG", tailGiB)
	}
	return Plan{
		Disk: disk,
		Regions: []Region{
			{Number: EFIPartition, Start: "1M", End: fmt.Sprintf("+%dM", EFISizeMiB), TypeCode: TypeEFI},
			{Number: zpool.BootPartition, Start: "0", End: fmt.Sprintf("+%dM", BootSizeMiB), TypeCode: TypePoolPart},
			{Number: zpool.RootPartition, Start: "0", End: end, TypeCode: TypePoolPart},
		},
	}
}

func (p Plan) SgdiskArgs() []string {
	var args []string
	for _, r := range p.Regions {
		args = append(args, r.Args()...)
	}
	return append(args, p.Disk)
}

func (p Plan) PartitionPaths() []string {
	out := make([]string, len(p.Regions))
	for i, r := range p.Regions {
		out[i] = zpool.PartitionPath(p.Disk, r.Number)
	}
	return out
}

type Provisioner struct {
	Runner   shell.Runner
	Settler  udev.Settler
	Progress ui.ProgressFunc
	Log      zerolog.Logger
}

// Provision wipes and partitions every disk, waits for the partition nodes and
// formats each EFI partition. The first failure aborts.
func (p Provisioner) Provision(ctx context.Context, disks []string, tailGiB int) error {
	bar := p.Progress.Start(len(disks)*2+1, "Partitioning disks")
	defer bar.Finish()

	var nodes []string
	for _, disk := range disks {
		plan := NewPlan(disk, tailGiB)
		bar.Describe("Wiping " + disk)
		if err := shell.Run(ctx, p.Runner, "wipefs", "--all", disk); err != nil {
			return fmt.Errorf("wipe %s: %w", disk, err)
		}
		if err := shell.Run(ctx, p.Runner, "sgdisk", "--zap-all", disk); err != nil {
			return fmt.Errorf("zap %s: %w", disk, err)
		}
		_ = bar.Add(1)

		bar.Describe("Partitioning " + disk)
		if err := shell.Run(ctx, p.Runner, "sgdisk", plan.SgdiskArgs()...); err != nil {
			return fmt.Errorf("partition %s: %w", disk, err)
		}
		p.Log.Info().Str("disk", disk).Int("tail_gib", tailGiB).Msg("partitioned")
		nodes = append(nodes, plan.PartitionPaths()...)
	}

	// Partition symlinks show up asynchronously; nothing below may reference
	// them before this returns.
	bar.Describe("Waiting for partition devices")
	if err := p.Settler.Settle(ctx, nodes...); err != nil {
		return err
	}
	_ = bar.Add(1)

	for _, disk := range disks {
		efi := zpool.PartitionPath(disk, EFIPartition)
		bar.Describe("Formatting " + efi)
		if err := shell.Run(ctx, p.Runner, "mkfs.fat", "-F", "32", "-n", "EFI", efi); err != nil {
			return fmt.Errorf("format %s: %w", efi, err)
		}
		_ = bar.Add(1)
	}
	return nil
}
