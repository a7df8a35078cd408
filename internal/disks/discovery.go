package disks

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/pkg/shell"
)

const ByIDDir = "/dev/disk/by-id"

var (
	reCandidate = regexp.MustCompile(`^(ata|nvme|scsi)-`)
	rePartition = regexp.MustCompile(`-part[0-9]+$`)
)

// Descriptor is a disk found under /dev/disk/by-id.
type Descriptor struct {
	// ID is the stable /dev/disk/by-id path.
	ID string
	// Device is the kernel block device name, e.g. "sda" or "nvme0n1".
	Device    string
	Type      string
	Bus       string
	Removable bool
}

// Eligible reports whether the disk may hold a pool: a whole disk that is not
// on the USB bus and not removable.
func (d Descriptor) Eligible() bool {
	return d.Type == "disk" && d.Bus != "usb" && !d.Removable
}

type Discovery struct {
	FS     afero.Fs
	Runner shell.Runner
	Log    zerolog.Logger
}

// Discover lists eligible disks in by-id name order.
func (d Discovery) Discover(ctx context.Context) ([]Descriptor, error) {
	matches, err := afero.Glob(d.FS, filepath.Join(ByIDDir, "*"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ByIDDir, err)
	}
	sort.Strings(matches)

	var out []Descriptor
	for _, id := range matches {
		name := path.Base(id)
		if !reCandidate.MatchString(name) || rePartition.MatchString(name) {
			continue
		}
		desc, err := d.describe(ctx, id)
		if err != nil {
			return nil, err
		}
		if !desc.Eligible() {
			d.Log.Debug().Str("disk", id).Str("type", desc.Type).Str("bus", desc.Bus).Bool("removable", desc.Removable).Msg("skipping disk")
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

func (d Discovery) describe(ctx context.Context, id string) (Descriptor, error) {
	out, err := shell.Output(ctx, d.Runner, "udevadm", "info", "--query=property", "--name="+id)
	if err != nil {
		return Descriptor{}, fmt.Errorf("query %s: %w", id, err)
	}
	props := parseProperties(out)
	desc := Descriptor{
		ID:     id,
		Device: path.Base(props["DEVNAME"]),
		Type:   props["DEVTYPE"],
		Bus:    props["ID_BUS"],
	}
	if desc.Device != "" && desc.Device != "." {
		b, err := afero.ReadFile(d.FS, "/sys/block/"+desc.Device+"/removable")
		if err == nil {
			desc.Removable = strings.TrimSpace(string(b)) == "1"
		}
	}
	return desc, nil
}

func parseProperties(s string) map[string]string {
	props := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if ok {
			props[k] = v
		}
	}
	return props
}
