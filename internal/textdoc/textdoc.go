// Package textdoc models line-oriented configuration files (shell variable
// files such as /etc/default/grub, and fstab) as documents with key-based
// upserts. Applying the same edit twice leaves the document unchanged.
package textdoc

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

type Document struct {
	lines []string
}

func Parse(data []byte) *Document {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return &Document{}
	}
	return &Document{lines: strings.Split(s, "\n")}
}

// Load reads path from fsys. A missing file yields an empty document.
func Load(fsys afero.Fs, path string) (*Document, error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Document{}, nil
		}
		return nil, err
	}
	return Parse(b), nil
}

func (d *Document) Lines() []string {
	return append([]string(nil), d.lines...)
}

func (d *Document) Bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	return []byte(strings.Join(d.lines, "\n") + "\n")
}

func (d *Document) String() string { return string(d.Bytes()) }

// Save writes the document to path+".tmp" and renames it into place. If perm
// is 0, 0644 is used.
func (d *Document) Save(fsys afero.Fs, path string, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(d.Bytes()); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return nil
}

// Edit loads path, applies fn and saves the result.
func Edit(fsys afero.Fs, path string, fn func(d *Document)) error {
	d, err := Load(fsys, path)
	if err != nil {
		return err
	}
	fn(d)
	return d.Save(fsys, path, 0)
}

// AppendLine appends line to path in place unless it is already there. Unlike
// Save it opens the file for appending, so a symlinked path keeps pointing at
// the same target.
func AppendLine(fsys afero.Fs, path, line string) error {
	d, err := Load(fsys, path)
	if err != nil {
		return err
	}
	for _, l := range d.lines {
		if l == line {
			return nil
		}
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
