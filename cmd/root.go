package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sloonz/btrfs-relay/endpoints"
	relay "github.com/sloonz/btrfs-relay/lib"
)

var (
	flagSnapshotPrefix string
	flagSnapshotFolder string
	flagNumSnapshots   int
	flagNumBackups     int
	flagNoSnapshot     bool
	flagNoTransfer     bool
	flagLockedDests    bool
	flagRemoveLocks    bool
	flagUsePV          bool
	flagQuiet          bool
	flagLogLevel       string

	flagSSHOpts     []string
	flagSSHIdentity string

	flagShellCompress       bool
	flagShellRecipientsFile string

	// exitCode carries the run's outcome past cobra's own error handling
	// so main.go can map it to spec.md §6's exit code table.
	exitCode int

	rootCmd = &cobra.Command{
		Use:           "btrfs-relay SOURCE DEST...",
		Short:         "Replicate btrfs snapshots to one or more destinations",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&flagSnapshotPrefix, "snapshot-prefix", "p", "", "prefix for snapshot basenames")
	rootCmd.Flags().StringVarP(&flagSnapshotFolder, "snapshot-folder", "f", "snapshots", "directory under the source subvolume where snapshots are kept")
	rootCmd.Flags().IntVarP(&flagNumSnapshots, "num-snapshots", "N", 0, "source retention count (0 = keep all)")
	rootCmd.Flags().IntVarP(&flagNumBackups, "num-backups", "n", 0, "per-destination retention count (0 = keep all)")
	rootCmd.Flags().BoolVar(&flagNoSnapshot, "no-snapshot", false, "skip creating a new snapshot")
	rootCmd.Flags().BoolVar(&flagNoTransfer, "no-transfer", false, "skip planning and executing transfers")
	rootCmd.Flags().BoolVar(&flagLockedDests, "locked-dests", false, "also target destinations only referenced by the lock journal")
	rootCmd.Flags().BoolVar(&flagRemoveLocks, "remove-locks", false, "drop matching lock entries without retransfer, then exit")
	rootCmd.Flags().BoolVar(&flagUsePV, "pv", false, "interpose pv(1) on send streams for progress reporting")
	rootCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.Flags().StringVarP(&flagLogLevel, "verbose", "v", "", "log level (trace, debug, info, warn, error)")

	rootCmd.Flags().StringArrayVar(&flagSSHOpts, "ssh-opt", nil, "extra -o option passed to every ssh invocation (repeatable)")
	rootCmd.Flags().StringVar(&flagSSHIdentity, "ssh-identity", "", "identity file passed to every ssh invocation")

	rootCmd.Flags().BoolVar(&flagShellCompress, "shell-compress", false, "zstd-compress the stream before handing it to shell:// destinations")
	rootCmd.Flags().StringVar(&flagShellRecipientsFile, "shell-recipients-file", "", "age recipients file to encrypt the stream for shell:// destinations")

	rootCmd.AddCommand(cmdLocks, cmdVersion)
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagQuiet {
		logrus.SetLevel(logrus.WarnLevel)
	} else if flagLogLevel != "" {
		level, err := logrus.ParseLevel(flagLogLevel)
		if err != nil {
			exitCode = 2
			return err
		}
		logrus.SetLevel(level)
	}

	sourcePath := args[0]
	destArgs := args[1:]
	if !flagRemoveLocks && len(destArgs) == 0 {
		exitCode = 2
		return fmt.Errorf("btrfs-relay: at least one destination is required unless --remove-locks is set")
	}

	cfg := endpoints.Config{
		Prefix:              flagSnapshotPrefix,
		SSHOpts:             flagSSHOpts,
		SSHIdentity:         flagSSHIdentity,
		ShellCompress:       flagShellCompress,
		ShellRecipientsFile: flagShellRecipientsFile,
	}

	snapshotDir := filepath.Join(sourcePath, flagSnapshotFolder)
	source, err := endpoints.NewSource(sourcePath, snapshotDir, cfg)
	if err != nil {
		exitCode = 2
		return err
	}

	destinations := make([]relay.Destination, 0, len(destArgs))
	for _, d := range destArgs {
		endpoint, err := endpoints.NewDestination(d, cfg)
		if err != nil {
			exitCode = 2
			return err
		}
		destinations = append(destinations, relay.Destination{Endpoint: endpoint})
	}

	coordinator := &relay.Coordinator{
		Source:       source,
		Destinations: destinations,
		SnapshotDir:  snapshotDir,
		Log:          logrus.WithField("source", sourcePath),
		NewTimestamp: func() relay.Snapshot {
			return relay.NewSnapshot(flagSnapshotPrefix, time.Now().UTC())
		},
		ResolveDestination: func(key string) (relay.Receiver, error) {
			return endpoints.ResolveByKey(key, cfg)
		},
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := coordinator.Run(ctx, relay.RunOptions{
		SnapshotPrefix:         flagSnapshotPrefix,
		CreateSnapshot:         !flagNoSnapshot && !flagRemoveLocks,
		DoTransfer:             !flagNoTransfer,
		LockedDestsOnly:        flagLockedDests,
		RemoveLocks:            flagRemoveLocks,
		RetainSourceCount:      flagNumSnapshots,
		RetainDestinationCount: flagNumBackups,
		UsePV:                  flagUsePV,
	})
	if err != nil {
		if result != nil && result.SnapshotCreateFailed {
			exitCode = 3
			return err
		}
		exitCode = 2
		return err
	}

	if result.TransferFailures > 0 {
		exitCode = 1
		return nil
	}

	exitCode = 0
	return nil
}

// Execute runs the CLI and returns the process exit code per spec.md §6.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		if exitCode == 0 {
			exitCode = 2
		}
	}
	return exitCode
}
