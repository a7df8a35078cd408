package zpool

import (
	"fmt"

	"github.com/exit9/zfs-installer/pkg/validate"
)

type Role string

const (
	RoleBoot Role = "boot"
	RoleRoot Role = "root"
)

// Partition numbers each pool uses on every selected disk.
const (
	BootPartition = 2
	RootPartition = 3
)

// Encryption carries the root pool passphrase. It is fed to zpool on stdin.
type Encryption struct {
	Passphrase string
}

func (Encryption) Options() Options {
	return Options{
		{Flag: "-O", Value: "encryption=on"},
		{Flag: "-O", Value: "keylocation=prompt"},
		{Flag: "-O", Value: "keyformat=passphrase"},
	}
}

type Pool struct {
	Role       Role
	Name       string
	Mountpoint string
	Tweaks     Options
	Encryption *Encryption
	Members    []string
}

// Mirror reports whether the pool's single vdev is a mirror.
func (p Pool) Mirror() bool { return len(p.Members) > 1 }

// PartitionPath names partition n of a /dev/disk/by-id disk.
func PartitionPath(disk string, n int) string {
	return fmt.Sprintf("%s-part%d", disk, n)
}

// Members lists partition n of every disk, keeping selection order.
func Members(disks []string, n int) []string {
	out := make([]string, len(disks))
	for i, d := range disks {
		out[i] = PartitionPath(d, n)
	}
	return out
}

func NewRootPool(name string, disks []string, tweaks Options, enc *Encryption) Pool {
	return Pool{Role: RoleRoot, Name: name, Mountpoint: "/", Tweaks: tweaks, Encryption: enc, Members: Members(disks, RootPartition)}
}

func NewBootPool(name string, disks []string, tweaks Options) Pool {
	return Pool{Role: RoleBoot, Name: name, Mountpoint: "/boot", Tweaks: tweaks, Members: Members(disks, BootPartition)}
}

// CreateArgs returns the zpool arguments that create p under the alternate
// root altRoot. Options precede the pool name; the tweak options come last
// among them so they can override the defaults.
func (p Pool) CreateArgs(altRoot string) ([]string, error) {
	if err := validate.PoolName(p.Name); err != nil {
		return nil, fmt.Errorf("%s pool %q: %w", p.Role, p.Name, err)
	}
	if len(p.Members) == 0 {
		return nil, fmt.Errorf("%s pool %q: no member devices", p.Role, p.Name)
	}
	if p.Encryption != nil && p.Role != RoleRoot {
		return nil, fmt.Errorf("%s pool %q: only the root pool can be encrypted", p.Role, p.Name)
	}
	args := []string{"create"}
	if p.Encryption != nil {
		args = append(args, p.Encryption.Options().Args()...)
	}
	args = append(args,
		"-O", "devices=off",
		"-O", "mountpoint="+p.Mountpoint,
		"-R", altRoot,
		"-f",
	)
	args = append(args, p.Tweaks.Args()...)
	args = append(args, p.Name)
	if p.Mirror() {
		args = append(args, "mirror")
	}
	args = append(args, p.Members...)
	return args, nil
}
