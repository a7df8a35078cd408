package textdoc

import (
	"fmt"
	"strconv"
	"strings"
)

type FstabEntry struct {
	Spec    string
	File    string
	VfsType string
	Options string
	Freq    int
	PassNo  int
}

func (e FstabEntry) String() string {
	opts := e.Options
	if opts == "" {
		opts = "defaults"
	}
	return fmt.Sprintf("%s %s %s %s %d %d", e.Spec, e.File, e.VfsType, opts, e.Freq, e.PassNo)
}

// key identifies an entry: its mountpoint, or the device for entries without
// one (swap is mounted on "none").
func (e FstabEntry) key() string {
	if e.File == "none" || e.File == "" {
		return "spec:" + e.Spec
	}
	return "file:" + e.File
}

func parseFstab(line string) (FstabEntry, bool) {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "#") {
		return FstabEntry{}, false
	}
	f := strings.Fields(t)
	if len(f) < 3 {
		return FstabEntry{}, false
	}
	e := FstabEntry{Spec: f[0], File: f[1], VfsType: f[2]}
	if len(f) > 3 {
		e.Options = f[3]
	}
	if len(f) > 4 {
		e.Freq, _ = strconv.Atoi(f[4])
	}
	if len(f) > 5 {
		e.PassNo, _ = strconv.Atoi(f[5])
	}
	return e, true
}

func (d *Document) FstabEntries() []FstabEntry {
	var out []FstabEntry
	for _, l := range d.lines {
		if e, ok := parseFstab(l); ok {
			out = append(out, e)
		}
	}
	return out
}

// RemoveFstab drops every entry mounted on target or whose device is target.
func (d *Document) RemoveFstab(target string) {
	out := d.lines[:0:0]
	for _, l := range d.lines {
		if cur, ok := parseFstab(l); ok && (cur.File == target || cur.Spec == target) {
			continue
		}
		out = append(out, l)
	}
	d.lines = out
}

// UpsertFstab replaces the entry with the same mountpoint (or device, for swap)
// and appends e when there is none.
func (d *Document) UpsertFstab(e FstabEntry) {
	line := e.String()
	out := make([]string, 0, len(d.lines)+1)
	done := false
	for _, l := range d.lines {
		if cur, ok := parseFstab(l); ok && cur.key() == e.key() {
			if !done {
				out = append(out, line)
				done = true
			}
			continue
		}
		out = append(out, l)
	}
	if !done {
		out = append(out, line)
	}
	d.lines = out
}
