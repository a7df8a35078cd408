package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/exit9/zfs-installer/internal/config"
	"github.com/exit9/zfs-installer/internal/disks"
	"github.com/exit9/zfs-installer/internal/installer"
	"github.com/exit9/zfs-installer/internal/prereq"
	"github.com/exit9/zfs-installer/internal/ui"
	"github.com/exit9/zfs-installer/pkg/shell"
)

const logName = "zfs-installer.log"

// probeTimeout bounds the device queries of disk discovery. Pipeline
// commands such as the OS installer or rsync run without one.
const probeTimeout = 30 * time.Second

const long = `zfs-installer partitions the selected disks, creates a boot pool and an
optionally encrypted root pool (mirrored across all disks), installs the
operating system onto them and configures GRUB to boot from ZFS.

It takes no arguments. Any value not set in the environment is asked for
interactively.

Environment:
  ZFS_OS_INSTALLATION_SCRIPT        custom script that installs into /mnt instead of the installer
  ZFS_SELECTED_DISKS                comma-separated /dev/disk/by-id paths
  ZFS_ENCRYPT_RPOOL                 set to 1 to encrypt the root pool
  ZFS_PASSPHRASE                    root pool passphrase, at least 8 characters
  ZFS_BPOOL_NAME, ZFS_RPOOL_NAME    pool names (default bpool, rpool)
  ZFS_BPOOL_TWEAKS, ZFS_RPOOL_TWEAKS
                                    zpool create options for each pool
  ZFS_NO_INFO_MESSAGES              set to 1 to skip informational dialogs
  ZFS_SWAP_SIZE                     swap size in GiB, 0 for none (default 2)
  ZFS_FREE_TAIL_SPACE               GiB to leave unpartitioned per disk (default 0)
  ZFS_SKIP_LIVE_ZFS_MODULE_INSTALL  set to 1 when the live system already has ZFS
  ZFS_METRICS_TEXTFILE              write run metrics to this file
  ZFS_LOG_LEVEL                     debug, info, warn or error (default info)`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runInstaller).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Installation failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command. Flags are not parsed: any argument, --help
// included, prints usage and exits 0.
func newRootCmd(run func(context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:                "zfs-installer",
		Short:              "Install the operating system on a ZFS root",
		Long:               long,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return run(cmd.Context())
		},
	}
}

func runInstaller(ctx context.Context) error {
	env := config.NewEnv()

	// Prerequisites come first: nothing may be touched on a host that fails them.
	if err := prereq.Host().Check(config.InstallScript(env)); err != nil {
		return err
	}

	logFile, err := openLog()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFile.Close()

	runID := uuid.NewString()
	log := newLogger(os.Stdout, logFile, env.GetString(config.EnvLogLevel))
	log.Info().Str("run", runID).Msg("Starting ZFS installation")

	hostFS := afero.NewOsFs()
	runner := shell.Exec{Log: log}
	interactive := config.IsTerminal(os.Stdin)
	prompt := config.Survey{}

	selector := disks.Selector{
		Discovery: newDiscovery(hostFS, log),
		Mounts:    disks.HostMounts{},
		Choose: func(message string, options []string) ([]string, error) {
			if !interactive {
				return nil, config.ErrNotInteractive
			}
			return prompt.MultiSelect(message, options)
		},
		Log: log,
	}
	resolver := config.Resolver{
		Env:         env,
		Prompt:      prompt,
		Interactive: interactive,
		SelectDisks: selector.Select,
		Log:         log,
	}
	cfg, err := resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	inst := installer.New(cfg, installer.Options{
		Runner:   runner,
		FS:       hostFS,
		Out:      os.Stdout,
		Log:      log,
		LogPath:  logFile.Name(),
		Root:     installer.DefaultRoot,
		RunID:    runID,
		Progress: ui.Bars(os.Stdout),
	})
	return inst.Run(ctx)
}

func newDiscovery(fsys afero.Fs, log zerolog.Logger) disks.Discovery {
	return disks.Discovery{FS: fsys, Runner: shell.Exec{Timeout: probeTimeout, Log: log}, Log: log}
}

// openLog opens the log in /tmp, falling back to the working directory.
func openLog() (*os.File, error) {
	f, err := os.OpenFile("/tmp/"+logName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err == nil {
		return f, nil
	}
	return os.OpenFile(logName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// newLogger logs human-readable lines to console and JSON to file.
func newLogger(console, file io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	w := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"},
		file,
	)
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
