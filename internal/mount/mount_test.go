package mount

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/exit9/zfs-installer/pkg/shell"
	"github.com/exit9/zfs-installer/pkg/shell/shelltest"
)

func TestMounted(t *testing.T) {
	ctx := context.Background()
	rec := shelltest.New()
	rec.Fail("mountpoint -q /mnt/dev", 32)
	rec.Handle("mountpoint -q /broken", func(shelltest.Call) (shell.Result, error) {
		return shell.Result{}, errors.New("exec: not found")
	})

	if ok, err := Mounted(ctx, rec, "/mnt"); err != nil || !ok {
		t.Fatalf("/mnt: %v %v", ok, err)
	}
	if ok, err := Mounted(ctx, rec, "/mnt/dev"); err != nil || ok {
		t.Fatalf("/mnt/dev: %v %v", ok, err)
	}
	if _, err := Mounted(ctx, rec, "/broken"); err == nil {
		t.Fatalf("expected an error when mountpoint cannot run")
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	rec := shelltest.New()
	_ = Mount(ctx, rec, "/dev/zd0p1", "/target")
	_ = Rbind(ctx, rec, "/dev", "/mnt/dev")
	_ = Unmount(ctx, rec, "/target")
	_ = UnmountLazy(ctx, rec, "/mnt/sys")

	want := []string{
		"mount /dev/zd0p1 /target",
		"mount --rbind /dev /mnt/dev",
		"umount /target",
		"umount --recursive --force --lazy /mnt/sys",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}
