package boot

import (
	"io"

	"github.com/coreos/go-systemd/v22/unit"
)

// ImportUnitName is the unit that imports the boot pool.
func ImportUnitName(bootPool string) string {
	return "zfs-import-" + bootPool + ".service"
}

// ImportUnit imports the boot pool with its cache file disabled, ahead of the
// generic scan and cache imports. The cache is moved aside while it runs so
// the boot pool never ends up in it.
func ImportUnit(bootPool string) []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "DefaultDependencies", "no"),
		unit.NewUnitOption("Unit", "Before", "zfs-import-scan.service"),
		unit.NewUnitOption("Unit", "Before", "zfs-import-cache.service"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "RemainAfterExit", "yes"),
		unit.NewUnitOption("Service", "ExecStart", "/sbin/zpool import -N -o cachefile=none "+bootPool),
		unit.NewUnitOption("Service", "ExecStartPre", "-/bin/mv /etc/zfs/zpool.cache /etc/zfs/preboot_zpool.cache"),
		unit.NewUnitOption("Service", "ExecStartPost", "-/bin/mv /etc/zfs/preboot_zpool.cache /etc/zfs/zpool.cache"),
		unit.NewUnitOption("Install", "WantedBy", "zfs-import.target"),
	}
}

// RenderImportUnit serializes ImportUnit.
func RenderImportUnit(bootPool string) ([]byte, error) {
	return io.ReadAll(unit.Serialize(ImportUnit(bootPool)))
}
