package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteTextfile(t *testing.T) {
	r := New("run-1")
	r.Step("partition", 1500*time.Millisecond, nil)
	r.Step("pools", time.Second, errors.New("boom"))
	r.Finish(time.Unix(1700000000, 0), errors.New("boom"))

	path := filepath.Join(t.TempDir(), "zfs-installer.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(b)
	for _, want := range []string{
		`zfs_installer_step_duration_seconds{step="partition"} 1.5`,
		`zfs_installer_step_success{step="partition"} 1`,
		`zfs_installer_step_success{step="pools"} 0`,
		`zfs_installer_run_success{run="run-1",version="dev"} 0`,
		`zfs_installer_run_finished_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
