package boot

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/exit9/zfs-installer/internal/textdoc"
	"github.com/exit9/zfs-installer/pkg/shell"
	"github.com/exit9/zfs-installer/pkg/shell/shelltest"
)

type target struct {
	rec *shelltest.Recorder
	fs  afero.Fs
}

func (t target) Run(ctx context.Context, name string, args ...string) error {
	return shell.Run(ctx, t.rec, name, args...)
}

func (t target) Output(ctx context.Context, name string, args ...string) (string, error) {
	return shell.Output(ctx, t.rec, name, args...)
}

func (t target) FS() afero.Fs { return t.fs }

// props records property changes and how many target commands ran before each.
type props struct {
	rec   *shelltest.Recorder
	set   []string
	after []int
}

func (p *props) SetProperty(_ context.Context, dataset, name, value string) error {
	p.set = append(p.set, dataset+" "+name+"="+value)
	p.after = append(p.after, len(p.rec.Lines()))
	return nil
}

const (
	d1 = "/dev/disk/by-id/ata-D1"
	d2 = "/dev/disk/by-id/ata-D2"
)

const stockGrub = `# If you change this file, run 'update-grub' afterwards.
GRUB_DEFAULT=0
GRUB_TIMEOUT_STYLE=hidden
GRUB_HIDDEN_TIMEOUT=0
GRUB_HIDDEN_TIMEOUT_QUIET=true
GRUB_TIMEOUT=0
GRUB_DISTRIBUTOR=` + "`lsb_release -i -s 2> /dev/null || echo Debian`" + `
GRUB_CMDLINE_LINUX_DEFAULT="quiet splash"
GRUB_CMDLINE_LINUX=""
`

func newTarget(t *testing.T) (target, *props) {
	t.Helper()
	rec := shelltest.New()
	rec.Stdout("blkid -s PARTUUID", "0e1b2c3d-01\n")
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, GrubDefaultsPath, []byte(stockGrub), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(fsys, FstabPath, []byte("# /etc/fstab: static file system information.\n"), 0o644)
	return target{rec: rec, fs: fsys}, &props{rec: rec}
}

func TestPatchGrubDefaults(t *testing.T) {
	d := textdoc.Parse([]byte(stockGrub + "GRUB_CMDLINE_LINUX=\"root=ZFS=old console=ttyS0\"\n"))
	PatchGrubDefaults(d, "rpool")
	get := func(k string) string {
		v, _ := d.Get(k)
		return v
	}
	if got := get("GRUB_CMDLINE_LINUX"); got != "root=ZFS=rpool console=ttyS0" {
		t.Fatalf("GRUB_CMDLINE_LINUX = %q", got)
	}
	if got := get("GRUB_CMDLINE_LINUX_DEFAULT"); got != "" {
		t.Fatalf("quiet/splash not stripped: %q", got)
	}
	for k, want := range map[string]string{
		"GRUB_DISABLE_OS_PROBER":  "true",
		"GRUB_TIMEOUT_STYLE":      "menu",
		"GRUB_TIMEOUT":            "5",
		"GRUB_RECORDFAIL_TIMEOUT": "5",
		"GRUB_TERMINAL":           "console",
	} {
		if got := get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
	if strings.Contains(d.String(), "GRUB_HIDDEN_TIMEOUT") {
		t.Fatalf("hidden timeout kept:\n%s", d)
	}
	if strings.Count(d.String(), "GRUB_CMDLINE_LINUX=") != 1 {
		t.Fatalf("duplicate cmdline assignments:\n%s", d)
	}

	once := d.String()
	PatchGrubDefaults(d, "rpool")
	if diff := cmp.Diff(once, d.String()); diff != "" {
		t.Fatalf("second patch changed the file:\n%s", diff)
	}
}

func TestRenderImportUnit(t *testing.T) {
	b, err := RenderImportUnit("bpool")
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{
		"[Unit]\n",
		"DefaultDependencies=no\n",
		"Before=zfs-import-scan.service\n",
		"Before=zfs-import-cache.service\n",
		"Type=oneshot\n",
		"ExecStart=/sbin/zpool import -N -o cachefile=none bpool\n",
		"WantedBy=zfs-import.target\n",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("unit lacks %q:\n%s", want, s)
		}
	}
}

func TestConfigureTwoDisks(t *testing.T) {
	tgt, p := newTarget(t)
	c := Configurator{Target: tgt, Pools: p, Log: zerolog.Nop()}
	l := Layout{Disks: []string{d1, d2}, BootPool: "bpool", RootPool: "rpool", SwapGiB: 2}
	if err := c.Configure(context.Background(), l); err != nil {
		t.Fatalf("configure: %v", err)
	}

	want := []string{
		"apt update",
		"apt install --yes zfs-initramfs grub-efi-amd64-signed shim-signed",
		"blkid -s PARTUUID -o value " + d1 + "-part1",
		"mkdir -p /boot/efi",
		"mount /boot/efi",
		"grub-install",
		"update-grub",
		"umount /boot/efi",
		"dd if=" + d1 + "-part1 of=" + d2 + "-part1",
		`efibootmgr --create --disk ` + d2 + ` --label ubuntu-2 --loader \\EFI\\ubuntu\\grubx64.efi`,
		"update-initramfs -u",
		"systemctl enable zfs-import-bpool.service",
	}
	if diff := cmp.Diff(want, tgt.rec.Lines()); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bpool mountpoint=legacy"}, p.set); diff != "" {
		t.Fatalf("properties:\n%s", diff)
	}

	fstab, _ := afero.ReadFile(tgt.fs, FstabPath)
	wantFstab := "# /etc/fstab: static file system information.\n" +
		"PARTUUID=0e1b2c3d-01 /boot/efi vfat nofail,x-systemd.device-timeout=1 0 1\n" +
		"/dev/zvol/rpool/swap none swap discard 0 0\n" +
		"bpool /boot zfs nodev,relatime,x-systemd.requires=zfs-import-bpool.service 0 0\n"
	if diff := cmp.Diff(wantFstab, string(fstab)); diff != "" {
		t.Fatalf("fstab (-want +got):\n%s", diff)
	}
	resume, _ := afero.ReadFile(tgt.fs, ResumePath)
	if string(resume) != "RESUME=none\n" {
		t.Fatalf("resume = %q", resume)
	}
	if ok, _ := afero.Exists(tgt.fs, UnitDir+"/zfs-import-bpool.service"); !ok {
		t.Fatalf("import unit not written")
	}

	// Running the whole configuration again leaves every file unchanged.
	grub, _ := afero.ReadFile(tgt.fs, GrubDefaultsPath)
	if err := c.Configure(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	fstab2, _ := afero.ReadFile(tgt.fs, FstabPath)
	grub2, _ := afero.ReadFile(tgt.fs, GrubDefaultsPath)
	if string(fstab2) != string(fstab) || string(grub2) != string(grub) {
		t.Fatalf("configuration is not idempotent")
	}
}

func TestConfigureSingleDiskNoSwap(t *testing.T) {
	tgt, p := newTarget(t)
	c := Configurator{Target: tgt, Pools: p}
	if err := c.Configure(context.Background(), Layout{Disks: []string{d1}, BootPool: "bpool", RootPool: "rpool"}); err != nil {
		t.Fatal(err)
	}
	if len(tgt.rec.Matching("dd ")) != 0 || len(tgt.rec.Matching("efibootmgr")) != 0 {
		t.Fatalf("single disk must not clone EFI: %v", tgt.rec.Lines())
	}
	if len(tgt.rec.Matching("update-initramfs")) != 0 {
		t.Fatalf("no swap, no initramfs update expected")
	}
	fstab, _ := afero.ReadFile(tgt.fs, FstabPath)
	if strings.Contains(string(fstab), "swap") {
		t.Fatalf("swap entry without swap:\n%s", fstab)
	}
}

func TestInitramfsBuiltBeforeBootPoolGoesLegacy(t *testing.T) {
	tgt, p := newTarget(t)
	c := Configurator{Target: tgt, Pools: p}
	l := Layout{Disks: []string{d1}, BootPool: "bpool", RootPool: "rpool", SwapGiB: 2}
	if err := c.Configure(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	lines := tgt.rec.Lines()
	initramfs := -1
	for i, line := range lines {
		if line == "update-initramfs -u" {
			initramfs = i
		}
	}
	if initramfs < 0 || len(p.after) != 1 {
		t.Fatalf("commands %v, properties %v", lines, p.set)
	}
	if p.after[0] <= initramfs {
		t.Fatalf("boot pool set to legacy after %d commands, update-initramfs is command %d", p.after[0], initramfs+1)
	}
}

func TestConfigureReplacesInstallerFstab(t *testing.T) {
	tgt, p := newTarget(t)
	installer := "# /etc/fstab: static file system information.\n" +
		"# / was on /dev/zd0p1 during installation\n" +
		"UUID=1111-temp /               ext4    errors=remount-ro 0       1\n" +
		"/swapfile                                 none            swap    sw              0       0\n"
	if err := afero.WriteFile(tgt.fs, FstabPath, []byte(installer), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Configurator{Target: tgt, Pools: p}
	l := Layout{Disks: []string{d1}, BootPool: "bpool", RootPool: "rpool", SwapGiB: 2}
	for i := 0; i < 2; i++ {
		if err := c.Configure(context.Background(), l); err != nil {
			t.Fatal(err)
		}
	}

	b, _ := afero.ReadFile(tgt.fs, FstabPath)
	var mounts []string
	for _, e := range textdoc.Parse(b).FstabEntries() {
		mounts = append(mounts, e.Spec+" "+e.File)
	}
	want := []string{
		"PARTUUID=0e1b2c3d-01 /boot/efi",
		"/dev/zvol/rpool/swap none",
		"bpool /boot",
	}
	if diff := cmp.Diff(want, mounts); diff != "" {
		t.Fatalf("fstab entries (-want +got):\n%s", diff)
	}
}
