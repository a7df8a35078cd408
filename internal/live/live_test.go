package live

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/exit9/zfs-installer/pkg/shell"
	"github.com/exit9/zfs-installer/pkg/shell/shelltest"
)

func TestPrepare(t *testing.T) {
	rec := shelltest.New()
	if err := (Preparer{Runner: rec}).Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	want := []string{"apt-get update", "apt-get install --yes zfsutils-linux", "modprobe zfs"}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}

func TestPrepareSkip(t *testing.T) {
	rec := shelltest.New()
	if err := (Preparer{Runner: rec, Skip: true}).Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.Lines()) != 0 {
		t.Fatalf("expected no commands, got %v", rec.Lines())
	}
}

func TestPrepareStopsOnFailure(t *testing.T) {
	rec := shelltest.New()
	rec.Fail("apt-get install", 100)
	err := (Preparer{Runner: rec}).Prepare(context.Background())
	if !shell.IsExit(err, 100) {
		t.Fatalf("expected exit 100, got %v", err)
	}
	if len(rec.Matching("modprobe")) != 0 {
		t.Fatalf("module loaded after failed install")
	}
}
