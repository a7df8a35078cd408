package osinstall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/internal/udev"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/shell"
	"github.com/exit9/zfs-installer/pkg/shell/shelltest"
)

const rsyncOutput = "sending incremental file list\n" +
	"         32.77K   0%    0.00kB/s    0:00:00 (xfr#0, to-chk=1000/1001)\r" +
	"          1.20G  48%   80.00MB/s    0:00:15 (xfr#400, to-chk=600/1001)\r" +
	"          2.50G 100%   85.00MB/s    0:00:29 (xfr#1001, to-chk=0/1001)\n"

// host simulates udev and the zvol layer on a MemMapFs.
func host(t *testing.T) (*shelltest.Recorder, Orchestrator) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	rec := shelltest.New()
	touch := func(p string) error { return afero.WriteFile(fsys, p, nil, 0o644) }
	rec.Handle("zfs create -V", func(c shelltest.Call) (shell.Result, error) {
		return shell.Result{}, touch("/dev/zvol/" + c.Args[len(c.Args)-1])
	})
	rec.Stdout("readlink -f /dev/zvol/rpool/os-install-temp", "/dev/zd0\n")
	rec.Handle("sgdisk -n1:0:0 -t1:8300 /dev/zd0", func(shelltest.Call) (shell.Result, error) {
		return shell.Result{}, touch("/dev/zd0p1")
	})
	rec.Stdout("rsync", rsyncOutput)

	settler := udev.Settler{Runner: rec, FS: fsys, Timeout: time.Second, Interval: time.Millisecond}
	o := Orchestrator{
		Runner:  rec,
		Volumes: zpool.Manager{Runner: rec, Settler: settler, AltRoot: "/mnt"},
		Settler: settler,
		Dialogs: ui.Dialogs{Suppress: true},
		Root:    "/mnt",
		Log:     zerolog.Nop(),
	}
	return rec, o
}

type bar struct{ sets []int }

func (b *bar) Describe(string) {}
func (b *bar) Add(int) error   { return nil }
func (b *bar) Set(n int) error { b.sets = append(b.sets, n); return nil }
func (b *bar) Finish() error   { return nil }

func TestInstallInteractive(t *testing.T) {
	rec, o := host(t)
	b := &bar{}
	o.Progress = func(int, string) ui.Progress { return b }
	if err := o.Install(context.Background(), "rpool", ""); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := []string{
		"zfs create -V 10G rpool/os-install-temp",
		"udevadm settle --timeout=1",
		"readlink -f /dev/zvol/rpool/os-install-temp",
		"sgdisk -n1:0:0 -t1:8300 /dev/zd0",
		"udevadm settle --timeout=1",
		"ubiquity --no-bootloader",
		"swapoff -a",
		"mountpoint -q /target",
		"rsync -avX --exclude=/swapfile --info=progress2 --no-inc-recursive --human-readable /target/ /mnt",
		"umount /target",
		"zfs destroy rpool/os-install-temp",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 48, 100}, b.sets); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}
}

func TestInstallRemountsTarget(t *testing.T) {
	rec, o := host(t)
	rec.Fail("mountpoint -q /target", 32)
	if err := o.Install(context.Background(), "rpool", ""); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, ok := rec.Find("mount /dev/zd0p1 /target"); !ok {
		t.Fatalf("installer target not remounted: %v", rec.Lines())
	}
}

func TestTempVolumeDestroyedOnFailure(t *testing.T) {
	rec, o := host(t)
	rec.Fail("rsync", 23)
	err := o.Install(context.Background(), "rpool", "")
	if !shell.IsExit(err, 23) {
		t.Fatalf("expected rsync failure, got %v", err)
	}
	lines := rec.Lines()
	if lines[len(lines)-1] != "zfs destroy rpool/os-install-temp" {
		t.Fatalf("temporary volume not destroyed: %v", lines)
	}
}

func TestDestroyFailureSurfaces(t *testing.T) {
	rec, o := host(t)
	rec.Fail("zfs destroy", 1)
	if err := o.Install(context.Background(), "rpool", ""); !shell.IsExit(err, 1) {
		t.Fatalf("expected destroy failure, got %v", err)
	}
}

func TestCustomScriptSkipsInstaller(t *testing.T) {
	rec, o := host(t)
	if err := o.Install(context.Background(), "rpool", "/root/install.sh"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"sudo /root/install.sh"}, rec.Lines()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}

func TestCustomScriptFailure(t *testing.T) {
	rec, o := host(t)
	rec.Fail("sudo", 2)
	err := o.Install(context.Background(), "rpool", "/root/install.sh")
	var ee *shell.ExitError
	if !errors.As(err, &ee) || ee.Code != 2 {
		t.Fatalf("expected exit 2, got %v", err)
	}
}
