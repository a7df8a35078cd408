package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/validate"
)

// Environment variables read by the resolver.
const (
	EnvInstallScript  = "ZFS_OS_INSTALLATION_SCRIPT"
	EnvSelectedDisks  = "ZFS_SELECTED_DISKS"
	EnvEncrypt        = "ZFS_ENCRYPT_RPOOL"
	EnvPassphrase     = "ZFS_PASSPHRASE"
	EnvBootPoolName   = "ZFS_BPOOL_NAME"
	EnvRootPoolName   = "ZFS_RPOOL_NAME"
	EnvBootPoolTweaks = "ZFS_BPOOL_TWEAKS"
	EnvRootPoolTweaks = "ZFS_RPOOL_TWEAKS"
	EnvNoInfoMessages = "ZFS_NO_INFO_MESSAGES"
	EnvSwapSize       = "ZFS_SWAP_SIZE"
	EnvFreeTailSpace  = "ZFS_FREE_TAIL_SPACE"
	EnvSkipLiveModule = "ZFS_SKIP_LIVE_ZFS_MODULE_INSTALL"
	EnvMetrics        = "ZFS_METRICS_TEXTFILE"
	EnvLogLevel       = "ZFS_LOG_LEVEL"
)

// NewEnv returns a viper instance that reads the process environment.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// InstallScript is the custom install script named in env, if any.
func InstallScript(env *viper.Viper) string {
	return strings.TrimSpace(env.GetString(EnvInstallScript))
}

// Prompter asks the operator for values. Input re-asks until check passes.
type Prompter interface {
	Input(message, def string, check func(string) error) (string, error)
	Password(message string) (string, error)
	Confirm(message string, def bool) (bool, error)
}

// Resolver builds a Configuration. A set, non-empty environment variable wins;
// otherwise the operator is asked, and when nobody can be asked the default is
// used. Environment values go through the same validators as typed ones.
type Resolver struct {
	Env         *viper.Viper
	Prompt      Prompter
	Interactive bool
	// SelectDisks picks disks when the environment names none.
	SelectDisks func(ctx context.Context) ([]string, error)
	Log         zerolog.Logger
}

func (r Resolver) Resolve(ctx context.Context) (Configuration, error) {
	if r.Env == nil {
		r.Env = NewEnv()
	}
	var (
		p   Params
		err error
	)
	p.InstallScript = InstallScript(r.Env)
	p.MetricsTextfile = r.env(EnvMetrics)
	if p.NoInfoMessages, err = r.flag(EnvNoInfoMessages); err != nil {
		return Configuration{}, err
	}
	if p.SkipLiveModuleInstall, err = r.flag(EnvSkipLiveModule); err != nil {
		return Configuration{}, err
	}

	if p.Disks, err = r.disks(ctx); err != nil {
		return Configuration{}, err
	}
	if p.BootPoolName, err = r.text(EnvBootPoolName, "Boot pool name", DefaultBootPoolName, validate.PoolName); err != nil {
		return Configuration{}, err
	}
	if p.RootPoolName, err = r.text(EnvRootPoolName, "Root pool name", DefaultRootPoolName, validate.PoolName); err != nil {
		return Configuration{}, err
	}
	if p.Encrypt, err = r.encrypt(); err != nil {
		return Configuration{}, err
	}
	if p.Encrypt {
		if p.Passphrase, err = r.passphrase(); err != nil {
			return Configuration{}, err
		}
	}
	if p.BootPoolTweaks, err = r.tweaks(EnvBootPoolTweaks, "Boot pool tweaks", zpool.DefaultBootPoolTweaks); err != nil {
		return Configuration{}, err
	}
	if p.RootPoolTweaks, err = r.tweaks(EnvRootPoolTweaks, "Root pool tweaks", zpool.DefaultRootPoolTweaks); err != nil {
		return Configuration{}, err
	}
	if p.SwapGiB, err = r.size(EnvSwapSize, "Swap size in GiB (0 for none)", DefaultSwapGiB); err != nil {
		return Configuration{}, err
	}
	if p.TailGiB, err = r.size(EnvFreeTailSpace, "Space to leave free at the end of each disk, in GiB", DefaultTailGiB); err != nil {
		return Configuration{}, err
	}

	cfg, err := New(p)
	if err != nil {
		return Configuration{}, err
	}
	for _, line := range cfg.Audit() {
		r.Log.Info().Msg(line)
	}
	return cfg, nil
}

func (r Resolver) env(name string) string {
	return strings.TrimSpace(r.Env.GetString(name))
}

func (r Resolver) flag(name string) (bool, error) {
	v := r.env(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalid(name, fmt.Errorf("%q is not a boolean", v))
	}
	return b, nil
}

// text resolves a string value; ask is the prompt, def the default answer.
func (r Resolver) text(name, ask, def string, check func(string) error) (string, error) {
	if v := r.env(name); v != "" {
		if err := check(v); err != nil {
			return "", invalid(name, err)
		}
		return v, nil
	}
	if !r.Interactive {
		return def, nil
	}
	for {
		v, err := r.Prompt.Input(ask+":", def, check)
		if err != nil {
			return "", err
		}
		if v = strings.TrimSpace(v); v == "" {
			v = def
		}
		if err := check(v); err != nil {
			r.Log.Warn().Err(err).Str("value", v).Msg(ask)
			continue
		}
		return v, nil
	}
}

func (r Resolver) size(name, ask string, def int) (int, error) {
	v, err := r.text(name, ask, strconv.Itoa(def), validate.Unsigned)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid(name, validate.ErrBadNumber)
	}
	return n, nil
}

func (r Resolver) tweaks(name, ask string, def zpool.Options) (zpool.Options, error) {
	check := func(s string) error {
		_, err := zpool.ParseOptions(s)
		return err
	}
	v, err := r.text(name, ask, def.String(), check)
	if err != nil {
		return nil, err
	}
	return zpool.ParseOptions(v)
}

func (r Resolver) disks(ctx context.Context) ([]string, error) {
	if v := r.env(EnvSelectedDisks); v != "" {
		var out []string
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				out = append(out, d)
			}
		}
		if len(out) == 0 {
			return nil, invalid(EnvSelectedDisks, ErrNoDisks)
		}
		return out, nil
	}
	if r.SelectDisks == nil {
		return nil, invalid(EnvSelectedDisks, ErrNoDisks)
	}
	return r.SelectDisks(ctx)
}

func (r Resolver) encrypt() (bool, error) {
	if r.env(EnvEncrypt) != "" {
		return r.flag(EnvEncrypt)
	}
	if !r.Interactive {
		return false, nil
	}
	return r.Prompt.Confirm("Encrypt the root pool?", false)
}

func (r Resolver) passphrase() (string, error) {
	if v := r.Env.GetString(EnvPassphrase); v != "" {
		if err := validate.PassphraseLength(v); err != nil {
			return "", invalid(EnvPassphrase, err)
		}
		return v, nil
	}
	if !r.Interactive {
		return "", invalid(EnvPassphrase, ErrNotInteractive)
	}
	for {
		p, err := r.Prompt.Password("Root pool passphrase:")
		if err != nil {
			return "", err
		}
		if err := validate.PassphraseLength(p); err != nil {
			r.Log.Warn().Err(err).Msg("passphrase rejected")
			continue
		}
		repeat, err := r.Prompt.Password("Repeat the passphrase:")
		if err != nil {
			return "", err
		}
		if err := validate.Passphrase(p, repeat); err != nil {
			r.Log.Warn().Err(err).Msg("passphrase rejected")
			continue
		}
		return p, nil
	}
}
