// Package jail runs commands inside the installed system through chroot, with
// the host's virtual filesystems bound in.
package jail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/internal/exitseq"
	"github.com/exit9/zfs-installer/internal/mount"
	"github.com/exit9/zfs-installer/internal/textdoc"
	"github.com/exit9/zfs-installer/pkg/shell"
)

// Nameserver is appended to the target's resolv.conf so package installs
// inside the chroot can resolve names.
const Nameserver = "nameserver 8.8.8.8"

var (
	ErrClosed     = errors.New("jail closed")
	ErrNotMounted = errors.New("target root is not mounted")
)

type Unbinder interface {
	Unbind(ctx context.Context, root string) error
}

type Config struct {
	Runner shell.Runner
	// FS is the host filesystem the root lives on.
	FS       afero.Fs
	Root     string
	Unbinder Unbinder
	Log      zerolog.Logger
}

type Jail struct {
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// Open binds /dev, /proc and /sys under root. root must already be mounted.
// Callers defer Close so the binds are released on every path.
func Open(ctx context.Context, cfg Config) (*Jail, error) {
	mounted, err := mount.Mounted(ctx, cfg.Runner, cfg.Root)
	if err != nil {
		return nil, err
	}
	if !mounted {
		return nil, fmt.Errorf("%s: %w", cfg.Root, ErrNotMounted)
	}
	j := &Jail{cfg: cfg}
	for _, name := range exitseq.VirtualFilesystems {
		target := filepath.Join(cfg.Root, name)
		if err := cfg.FS.MkdirAll(target, 0o755); err != nil {
			return nil, j.abort(ctx, fmt.Errorf("create %s: %w", target, err))
		}
		if err := mount.Rbind(ctx, cfg.Runner, "/"+name, target); err != nil {
			return nil, j.abort(ctx, fmt.Errorf("bind %s: %w", target, err))
		}
	}
	if err := textdoc.AppendLine(cfg.FS, filepath.Join(cfg.Root, "etc/resolv.conf"), Nameserver); err != nil {
		return nil, j.abort(ctx, fmt.Errorf("configure resolver: %w", err))
	}
	cfg.Log.Info().Str("root", cfg.Root).Msg("jail open")
	return j, nil
}

// abort releases whatever Open bound before failing.
func (j *Jail) abort(ctx context.Context, err error) error {
	if cerr := j.Close(ctx); cerr != nil {
		j.cfg.Log.Warn().Err(cerr).Msg("release partially opened jail")
	}
	return err
}

// Exec runs c inside the jail.
func (j *Jail) Exec(ctx context.Context, c shell.Command) (shell.Result, error) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return shell.Result{}, ErrClosed
	}
	c.Args = append([]string{j.cfg.Root, c.Name}, c.Args...)
	c.Name = "chroot"
	return j.cfg.Runner.Run(ctx, c)
}

func (j *Jail) Run(ctx context.Context, name string, args ...string) error {
	_, err := j.Exec(ctx, shell.Cmd(name, args...))
	return err
}

// Output runs a command inside the jail and returns its trimmed stdout.
func (j *Jail) Output(ctx context.Context, name string, args ...string) (string, error) {
	return shell.Output(ctx, runner{j}, name, args...)
}

// FS is the target filesystem, rooted at the jail root.
func (j *Jail) FS() afero.Fs {
	return afero.NewBasePathFs(j.cfg.FS, j.cfg.Root)
}

// Close unbinds the virtual filesystems. Calling it again is a no-op.
func (j *Jail) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	if err := j.cfg.Unbinder.Unbind(ctx, j.cfg.Root); err != nil {
		return fmt.Errorf("close jail: %w", err)
	}
	j.cfg.Log.Info().Str("root", j.cfg.Root).Msg("jail closed")
	return nil
}

type runner struct{ j *Jail }

func (r runner) Run(ctx context.Context, c shell.Command) (shell.Result, error) {
	return r.j.Exec(ctx, c)
}
