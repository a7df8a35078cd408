package disks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

var ErrNoDisks = errors.New("no eligible disks found")

var rePartSuffix = regexp.MustCompile(`^p?[0-9]+$`)

// MountLister reports the block devices (kernel names such as "sda1") that
// back currently mounted filesystems.
type MountLister interface {
	MountedDevices(ctx context.Context) ([]string, error)
}

// HostMounts reads the host mount table.
type HostMounts struct{}

func (HostMounts) MountedDevices(ctx context.Context) ([]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list mounts: %w", err)
	}
	var out []string
	for _, p := range parts {
		if strings.HasPrefix(p.Device, "/dev/") {
			out = append(out, path.Base(p.Device))
		}
	}
	return out, nil
}

// Backs reports whether the mounted device is the disk itself or one of its
// partitions. Disks whose name ends in a digit (nvme0n1) use a "p" separator.
func Backs(disk, mounted string) bool {
	if mounted == disk {
		return true
	}
	rest, ok := strings.CutPrefix(mounted, disk)
	if !ok || !rePartSuffix.MatchString(rest) {
		return false
	}
	last := disk[len(disk)-1]
	if last >= '0' && last <= '9' {
		return strings.HasPrefix(rest, "p")
	}
	return !strings.HasPrefix(rest, "p")
}

// Chooser asks the operator to pick any number of options. The returned
// values are a subset of options in the order shown.
type Chooser func(message string, options []string) ([]string, error)

type Selector struct {
	Discovery Discovery
	Mounts    MountLister
	Choose    Chooser
	Log       zerolog.Logger
}

// Candidates returns discovered disks that do not back a mounted filesystem.
// The second result holds every discovered system disk.
func (s Selector) Candidates(ctx context.Context) ([]Descriptor, []Descriptor, error) {
	all, err := s.Discovery.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	mounted, err := s.Mounts.MountedDevices(ctx)
	if err != nil {
		return nil, nil, err
	}
	var free []Descriptor
	for _, d := range all {
		inUse := false
		for _, m := range mounted {
			if Backs(d.Device, m) {
				inUse = true
				break
			}
		}
		if inUse {
			s.Log.Info().Str("disk", d.ID).Str("device", d.Device).Msg("disk backs a mounted filesystem; not offered")
			continue
		}
		free = append(free, d)
	}
	return free, all, nil
}

// Select returns the by-id paths of the disks the pools will span. A single
// candidate is taken without asking.
func (s Selector) Select(ctx context.Context) ([]string, error) {
	free, all, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Int("system_disks", len(all)).Int("candidates", len(free)).Msg("disk discovery")
	if len(free) == 0 {
		return nil, ErrNoDisks
	}
	if len(free) == 1 {
		s.Log.Info().Str("disk", free[0].ID).Msg("only one eligible disk; selecting it")
		return []string{free[0].ID}, nil
	}
	options := make([]string, len(free))
	for i, d := range free {
		options[i] = d.ID
	}
	for {
		chosen, err := s.Choose("Select the disks for the pools (mirrored if more than one):", options)
		if err != nil {
			return nil, err
		}
		if len(chosen) > 0 {
			return chosen, nil
		}
	}
}
