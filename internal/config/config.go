// Package config resolves the parameters of an installation run from the
// environment or from the operator, and freezes them into a Configuration.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/validate"
)

const (
	DefaultBootPoolName = "bpool"
	DefaultRootPoolName = "rpool"
	DefaultSwapGiB      = 2
	DefaultTailGiB      = 0
)

var (
	ErrNoDisks        = errors.New("at least one disk is required")
	ErrSamePoolNames  = errors.New("boot and root pools need different names")
	ErrNegativeSize   = errors.New("size must not be negative")
	ErrNotInteractive = errors.New("value missing and no terminal to ask on")
)

// ValidationError reports a parameter that failed its validator.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Params is the mutable input to New.
type Params struct {
	Disks                 []string
	Encrypt               bool
	Passphrase            string
	BootPoolName          string
	RootPoolName          string
	BootPoolTweaks        zpool.Options
	RootPoolTweaks        zpool.Options
	SwapGiB               int
	TailGiB               int
	InstallScript         string
	NoInfoMessages        bool
	SkipLiveModuleInstall bool
	MetricsTextfile       string
}

// Configuration is the validated, read-only parameter set of a run. It is
// passed by value; accessors hand out copies of every slice.
type Configuration struct {
	p Params
}

// New validates p and freezes a copy of it. The passphrase is dropped when
// encryption is off.
func New(p Params) (Configuration, error) {
	if len(p.Disks) == 0 {
		return Configuration{}, invalid("disks", ErrNoDisks)
	}
	for _, d := range p.Disks {
		if strings.TrimSpace(d) == "" {
			return Configuration{}, invalid("disks", ErrNoDisks)
		}
	}
	if err := validate.PoolName(p.BootPoolName); err != nil {
		return Configuration{}, invalid("boot pool name", err)
	}
	if err := validate.PoolName(p.RootPoolName); err != nil {
		return Configuration{}, invalid("root pool name", err)
	}
	if p.BootPoolName == p.RootPoolName {
		return Configuration{}, invalid("pool names", ErrSamePoolNames)
	}
	if p.Encrypt {
		if err := validate.PassphraseLength(p.Passphrase); err != nil {
			return Configuration{}, invalid("passphrase", err)
		}
	} else {
		p.Passphrase = ""
	}
	if p.SwapGiB < 0 {
		return Configuration{}, invalid("swap size", ErrNegativeSize)
	}
	if p.TailGiB < 0 {
		return Configuration{}, invalid("free tail space", ErrNegativeSize)
	}
	p.Disks = append([]string(nil), p.Disks...)
	p.BootPoolTweaks = append(zpool.Options(nil), p.BootPoolTweaks...)
	p.RootPoolTweaks = append(zpool.Options(nil), p.RootPoolTweaks...)
	return Configuration{p: p}, nil
}

func (c Configuration) Disks() []string               { return append([]string(nil), c.p.Disks...) }
func (c Configuration) Encrypt() bool                 { return c.p.Encrypt }
func (c Configuration) Passphrase() string            { return c.p.Passphrase }
func (c Configuration) BootPoolName() string          { return c.p.BootPoolName }
func (c Configuration) RootPoolName() string          { return c.p.RootPoolName }
func (c Configuration) BootPoolTweaks() zpool.Options { return append(zpool.Options(nil), c.p.BootPoolTweaks...) }
func (c Configuration) RootPoolTweaks() zpool.Options { return append(zpool.Options(nil), c.p.RootPoolTweaks...) }
func (c Configuration) SwapGiB() int                  { return c.p.SwapGiB }
func (c Configuration) TailGiB() int                  { return c.p.TailGiB }
func (c Configuration) InstallScript() string         { return c.p.InstallScript }
func (c Configuration) NoInfoMessages() bool          { return c.p.NoInfoMessages }
func (c Configuration) SkipLiveModuleInstall() bool   { return c.p.SkipLiveModuleInstall }
func (c Configuration) MetricsTextfile() string       { return c.p.MetricsTextfile }

// Encryption returns the root pool encryption settings, or nil.
func (c Configuration) Encryption() *zpool.Encryption {
	if !c.p.Encrypt {
		return nil
	}
	return &zpool.Encryption{Passphrase: c.p.Passphrase}
}

const masked = "********"

// Audit renders every value as "name: value" in a fixed order. The passphrase
// is masked.
func (c Configuration) Audit() []string {
	pass := ""
	if c.p.Passphrase != "" {
		pass = masked
	}
	return []string{
		"ZFS_OS_INSTALLATION_SCRIPT: " + c.p.InstallScript,
		"ZFS_SELECTED_DISKS: " + strings.Join(c.p.Disks, ","),
		"ZFS_ENCRYPT_RPOOL: " + strconv.FormatBool(c.p.Encrypt),
		"ZFS_PASSPHRASE: " + pass,
		"ZFS_BPOOL_NAME: " + c.p.BootPoolName,
		"ZFS_RPOOL_NAME: " + c.p.RootPoolName,
		"ZFS_BPOOL_TWEAKS: " + c.p.BootPoolTweaks.String(),
		"ZFS_RPOOL_TWEAKS: " + c.p.RootPoolTweaks.String(),
		"ZFS_NO_INFO_MESSAGES: " + strconv.FormatBool(c.p.NoInfoMessages),
		"ZFS_SWAP_SIZE: " + strconv.Itoa(c.p.SwapGiB),
		"ZFS_FREE_TAIL_SPACE: " + strconv.Itoa(c.p.TailGiB),
		"ZFS_SKIP_LIVE_ZFS_MODULE_INSTALL: " + strconv.FormatBool(c.p.SkipLiveModuleInstall),
	}
}

// Record is the persisted form of a Configuration, written into the installed
// system. It never carries the passphrase.
type Record struct {
	Disks          []string `yaml:"disks"`
	Encrypted      bool     `yaml:"encrypted"`
	BootPool       string   `yaml:"boot_pool"`
	RootPool       string   `yaml:"root_pool"`
	BootPoolTweaks string   `yaml:"boot_pool_tweaks"`
	RootPoolTweaks string   `yaml:"root_pool_tweaks"`
	SwapGiB        int      `yaml:"swap_gib"`
	TailGiB        int      `yaml:"free_tail_gib"`
	InstallScript  string   `yaml:"install_script,omitempty"`
}

func (c Configuration) Record() Record {
	return Record{
		Disks:          c.Disks(),
		Encrypted:      c.p.Encrypt,
		BootPool:       c.p.BootPoolName,
		RootPool:       c.p.RootPoolName,
		BootPoolTweaks: c.p.BootPoolTweaks.String(),
		RootPoolTweaks: c.p.RootPoolTweaks.String(),
		SwapGiB:        c.p.SwapGiB,
		TailGiB:        c.p.TailGiB,
		InstallScript:  c.p.InstallScript,
	}
}
