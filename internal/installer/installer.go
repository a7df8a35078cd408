// Package installer drives an installation run from empty disks to exported
// pools holding a bootable system.
package installer

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/exit9/zfs-installer/internal/boot"
	"github.com/exit9/zfs-installer/internal/config"
	"github.com/exit9/zfs-installer/internal/exitseq"
	"github.com/exit9/zfs-installer/internal/jail"
	"github.com/exit9/zfs-installer/internal/live"
	"github.com/exit9/zfs-installer/internal/metrics"
	"github.com/exit9/zfs-installer/internal/osinstall"
	"github.com/exit9/zfs-installer/internal/partition"
	"github.com/exit9/zfs-installer/internal/udev"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/internal/zpool"
	"github.com/exit9/zfs-installer/pkg/shell"
)

const (
	DefaultRoot = "/mnt"
	RecordPath  = "/var/log/zfs-installer.yaml"
	LogCopyPath = "/var/log/zfs-installer.log"
)

type Options struct {
	Runner shell.Runner
	// FS is the host filesystem.
	FS  afero.Fs
	Out io.Writer
	Log zerolog.Logger
	// LogPath is the installer log on FS, copied into the installed system.
	LogPath string
	// Root is where the root pool is mounted during the run.
	Root     string
	RunID    string
	Progress ui.ProgressFunc
	// Wait blocks on informational dialogs; nil asks on the terminal.
	Wait func() error
	// Settle and unmount polling; zero values use the package defaults.
	SettleTimeout   time.Duration
	SettleInterval  time.Duration
	UnmountTimeout  time.Duration
	UnmountInterval time.Duration
}

type Installer struct {
	cfg     config.Configuration
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Recorder

	settler udev.Settler
	pools   zpool.Manager
	dialogs ui.Dialogs
	exit    exitseq.Sequencer
}

func New(cfg config.Configuration, opts Options) *Installer {
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	log := opts.Log.With().Str("run", opts.RunID).Logger()
	settler := udev.Settler{
		Runner:   opts.Runner,
		FS:       opts.FS,
		Timeout:  opts.SettleTimeout,
		Interval: opts.SettleInterval,
		Log:      log,
	}
	pools := zpool.Manager{Runner: opts.Runner, Settler: settler, AltRoot: opts.Root, Log: log}
	return &Installer{
		cfg:     cfg,
		opts:    opts,
		log:     log,
		metrics: metrics.New(opts.RunID),
		settler: settler,
		pools:   pools,
		dialogs: ui.Dialogs{Suppress: cfg.NoInfoMessages(), Out: opts.Out, Wait: opts.Wait},
		exit: exitseq.Sequencer{
			Runner:   opts.Runner,
			Pools:    pools,
			Timeout:  opts.UnmountTimeout,
			Interval: opts.UnmountInterval,
			Log:      log,
		},
	}
}

// Run executes every step in order and stops at the first failure. Nothing
// done before the failure is undone.
func (i *Installer) Run(ctx context.Context) (err error) {
	defer func() {
		i.metrics.Finish(time.Now(), err)
		if p := i.cfg.MetricsTextfile(); p != "" {
			if werr := i.metrics.WriteTextfile(p); werr != nil {
				i.log.Warn().Err(werr).Str("path", p).Msg("write metrics")
			}
		}
	}()

	i.showWelcome()
	if err := i.dialogs.Info("ZFS installer",
		"The selected disks will be wiped and used for the boot and root pools.\n"+
			"Press Ctrl-C now to abort."); err != nil {
		return err
	}

	steps := []struct {
		name  string
		title string
		fn    func(context.Context) error
	}{
		{"live", "Preparing the live environment", i.prepareLive},
		{"partition", "Partitioning disks", i.partitionDisks},
		{"pools", "Creating pools", i.createPools},
		{"os", "Installing the operating system", i.installOS},
		{"boot", "Configuring boot", i.configureBoot},
		{"exit", "Unmounting and exporting pools", i.exitTarget},
	}
	for _, s := range steps {
		if err := i.step(ctx, s.name, s.title, s.fn); err != nil {
			return err
		}
	}
	color.New(color.FgGreen).Fprintln(i.opts.Out, "\n✓ Installation completed successfully!")
	fmt.Fprintln(i.opts.Out, "Please remove installation media and reboot.")
	return nil
}

func (i *Installer) step(ctx context.Context, name, title string, fn func(context.Context) error) error {
	ui.Banner(i.opts.Out, title)
	i.log.Info().Str("step", name).Msg(title)
	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)
	i.metrics.Step(name, took, err)
	if err != nil {
		i.log.Error().Err(err).Str("step", name).Dur("took", took).Msg("step failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	i.log.Info().Str("step", name).Dur("took", took).Msg("step done")
	return nil
}

func (i *Installer) showWelcome() {
	color.New(color.FgBlue).Fprintln(i.opts.Out, "\n╔═══════════════════════════════════════╗")
	color.New(color.FgBlue).Fprintln(i.opts.Out, "║          ZFS Root Installer           ║")
	color.New(color.FgBlue).Fprintln(i.opts.Out, "╚═══════════════════════════════════════╝")
	fmt.Fprintln(i.opts.Out, "The following steps will be performed:")
	fmt.Fprintln(i.opts.Out, "  1. Prepare the live environment")
	fmt.Fprintln(i.opts.Out, "  2. Partition disks (EFI + boot pool + root pool)")
	fmt.Fprintln(i.opts.Out, "  3. Create pools and swap")
	fmt.Fprintln(i.opts.Out, "  4. Install the operating system")
	fmt.Fprintln(i.opts.Out, "  5. Configure GRUB and mount units")
	fmt.Fprintln(i.opts.Out, "  6. Export pools")
	fmt.Fprintln(i.opts.Out)
}

func (i *Installer) prepareLive(ctx context.Context) error {
	return live.Preparer{Runner: i.opts.Runner, Skip: i.cfg.SkipLiveModuleInstall(), Log: i.log}.Prepare(ctx)
}

func (i *Installer) partitionDisks(ctx context.Context) error {
	p := partition.Provisioner{Runner: i.opts.Runner, Settler: i.settler, Progress: i.opts.Progress, Log: i.log}
	return p.Provision(ctx, i.cfg.Disks(), i.cfg.TailGiB())
}

// createPools creates the root pool before the boot pool; the boot pool
// mounts inside the root pool's altroot.
func (i *Installer) createPools(ctx context.Context) error {
	disks := i.cfg.Disks()
	root := zpool.NewRootPool(i.cfg.RootPoolName(), disks, i.cfg.RootPoolTweaks(), i.cfg.Encryption())
	if err := i.pools.Create(ctx, root); err != nil {
		return err
	}
	bpool := zpool.NewBootPool(i.cfg.BootPoolName(), disks, i.cfg.BootPoolTweaks())
	if err := i.pools.Create(ctx, bpool); err != nil {
		return err
	}
	_, err := i.pools.CreateSwap(ctx, i.cfg.RootPoolName(), i.cfg.SwapGiB())
	return err
}

func (i *Installer) installOS(ctx context.Context) error {
	o := osinstall.Orchestrator{
		Runner:   i.opts.Runner,
		Volumes:  i.pools,
		Settler:  i.settler,
		Dialogs:  i.dialogs,
		Progress: i.opts.Progress,
		Root:     i.opts.Root,
		Out:      i.opts.Out,
		Log:      i.log,
	}
	return o.Install(ctx, i.cfg.RootPoolName(), i.cfg.InstallScript())
}

func (i *Installer) configureBoot(ctx context.Context) (err error) {
	j, err := jail.Open(ctx, jail.Config{
		Runner:   i.opts.Runner,
		FS:       i.opts.FS,
		Root:     i.opts.Root,
		Unbinder: i.exit,
		Log:      i.log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := j.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	c := boot.Configurator{Target: j, Pools: i.pools, Progress: i.opts.Progress, Log: i.log}
	err = c.Configure(ctx, boot.Layout{
		Disks:    i.cfg.Disks(),
		BootPool: i.cfg.BootPoolName(),
		RootPool: i.cfg.RootPoolName(),
		SwapGiB:  i.cfg.SwapGiB(),
	})
	if err != nil {
		return err
	}
	return i.finalize(j.FS())
}

// finalize leaves a record of the run in the installed system.
func (i *Installer) finalize(target afero.Fs) error {
	rec, err := yaml.Marshal(struct {
		Run      string        `yaml:"run"`
		Finished time.Time     `yaml:"finished"`
		Config   config.Record `yaml:"config"`
	}{i.opts.RunID, time.Now().UTC(), i.cfg.Record()})
	if err != nil {
		return err
	}
	if err := target.MkdirAll(path.Dir(RecordPath), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(target, RecordPath, rec, 0o644); err != nil {
		return fmt.Errorf("write install record: %w", err)
	}
	if i.opts.LogPath == "" {
		return nil
	}
	b, err := afero.ReadFile(i.opts.FS, i.opts.LogPath)
	if err != nil {
		i.log.Warn().Err(err).Str("path", i.opts.LogPath).Msg("installer log not copied")
		return nil
	}
	if err := afero.WriteFile(target, LogCopyPath, b, 0o644); err != nil {
		i.log.Warn().Err(err).Msg("installer log not copied")
	}
	return nil
}

func (i *Installer) exitTarget(ctx context.Context) error {
	return i.exit.Exit(ctx, i.opts.Root)
}
