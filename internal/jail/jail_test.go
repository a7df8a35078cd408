package jail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/pkg/shell"
	"github.com/exit9/zfs-installer/pkg/shell/shelltest"
)

type unbinder struct{ calls int }

func (u *unbinder) Unbind(context.Context, string) error {
	u.calls++
	return nil
}

func open(t *testing.T, rec *shelltest.Recorder, fsys afero.Fs) (*Jail, *unbinder) {
	t.Helper()
	u := &unbinder{}
	j, err := Open(context.Background(), Config{Runner: rec, FS: fsys, Root: "/mnt", Unbinder: u, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return j, u
}

func TestOpenBindsAndConfiguresResolver(t *testing.T) {
	rec := shelltest.New()
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/mnt/etc/resolv.conf", []byte("search lan\n"), 0o644)
	j, _ := open(t, rec, fsys)

	want := []string{
		"mountpoint -q /mnt",
		"mount --rbind /dev /mnt/dev",
		"mount --rbind /proc /mnt/proc",
		"mount --rbind /sys /mnt/sys",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("open sequence (-want +got):\n%s", diff)
	}
	b, _ := afero.ReadFile(j.FS(), "/etc/resolv.conf")
	if string(b) != "search lan\n"+Nameserver+"\n" {
		t.Fatalf("resolv.conf = %q", b)
	}

	// A second open of the same root leaves resolv.conf alone.
	open(t, rec, fsys)
	b, _ = afero.ReadFile(fsys, "/mnt/etc/resolv.conf")
	if strings.Count(string(b), Nameserver) != 1 {
		t.Fatalf("nameserver appended twice: %q", b)
	}
}

func TestOpenRequiresMountedRoot(t *testing.T) {
	rec := shelltest.New()
	rec.Fail("mountpoint -q /mnt", 32)
	_, err := Open(context.Background(), Config{Runner: rec, FS: afero.NewMemMapFs(), Root: "/mnt", Unbinder: &unbinder{}})
	if !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
	if len(rec.Matching("mount --rbind")) != 0 {
		t.Fatalf("bound into an unmounted root")
	}
}

func TestOpenFailureReleasesBinds(t *testing.T) {
	rec := shelltest.New()
	rec.Fail("mount --rbind /sys", 1)
	u := &unbinder{}
	_, err := Open(context.Background(), Config{Runner: rec, FS: afero.NewMemMapFs(), Root: "/mnt", Unbinder: u})
	if !shell.IsExit(err, 1) || u.calls != 1 {
		t.Fatalf("expected bind failure with cleanup, got %v (unbinds %d)", err, u.calls)
	}
}

func TestRunWrapsChroot(t *testing.T) {
	rec := shelltest.New()
	rec.Stdout("chroot /mnt blkid", "1234-ABCD\n")
	j, _ := open(t, rec, afero.NewMemMapFs())
	ctx := context.Background()

	if err := j.Run(ctx, "update-grub"); err != nil {
		t.Fatal(err)
	}
	out, err := j.Output(ctx, "blkid", "-s", "PARTUUID", "-o", "value", "/dev/sda1")
	if err != nil || out != "1234-ABCD" {
		t.Fatalf("output = %q, %v", out, err)
	}
	want := []string{
		"chroot /mnt update-grub",
		"chroot /mnt blkid -s PARTUUID -o value /dev/sda1",
	}
	if diff := cmp.Diff(want, rec.Matching("chroot")); diff != "" {
		t.Fatalf("chroot calls (-want +got):\n%s", diff)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rec := shelltest.New()
	j, u := open(t, rec, afero.NewMemMapFs())
	ctx := context.Background()
	if err := j.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if u.calls != 1 {
		t.Fatalf("expected a single unbind, got %d", u.calls)
	}
	if err := j.Run(ctx, "true"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
