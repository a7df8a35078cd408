package boot

import (
	"strings"

	"github.com/exit9/zfs-installer/internal/textdoc"
)

const GrubDefaultsPath = "/etc/default/grub"

// PatchGrubDefaults points the kernel at the root pool and makes the boot
// menu and kernel messages visible, so an encrypted pool's passphrase prompt
// is not hidden behind a splash screen. Patching twice changes nothing.
func PatchGrubDefaults(d *textdoc.Document, rootPool string) {
	cmdline, _ := d.Get("GRUB_CMDLINE_LINUX")
	args := []string{"root=ZFS=" + rootPool}
	for _, a := range strings.Fields(cmdline) {
		if !strings.HasPrefix(a, "root=ZFS=") {
			args = append(args, a)
		}
	}
	d.Set("GRUB_CMDLINE_LINUX", strings.Join(args, " "))

	d.Set("GRUB_DISABLE_OS_PROBER", "true")
	d.Set("GRUB_TIMEOUT_STYLE", "menu")
	d.Set("GRUB_TIMEOUT", "5")
	d.Set("GRUB_RECORDFAIL_TIMEOUT", "5")
	d.Set("GRUB_TERMINAL", "console")
	d.UnsetPrefix("GRUB_HIDDEN_TIMEOUT")

	def, _ := d.Get("GRUB_CMDLINE_LINUX_DEFAULT")
	var kept []string
	for _, a := range strings.Fields(def) {
		if a != "quiet" && a != "splash" {
			kept = append(kept, a)
		}
	}
	d.Set("GRUB_CMDLINE_LINUX_DEFAULT", strings.Join(kept, " "))
}
