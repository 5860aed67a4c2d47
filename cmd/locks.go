package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	relay "github.com/sloonz/btrfs-relay/lib"
)

var cmdLocksListFolder string

var cmdLocksList = &cobra.Command{
	Use:   "list SOURCE",
	Short: "Print the lock journal's current contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		journalPath := filepath.Join(args[0], cmdLocksListFolder, relay.JournalFilename)
		journal, err := relay.OpenJournal(journalPath)
		if err != nil {
			exitCode = 2
			return err
		}

		for basename, destKeys := range journal.Entries() {
			for destKey := range destKeys {
				fmt.Printf("%s %s\n", basename, destKey)
			}
		}
		return nil
	},
}

var cmdLocks = &cobra.Command{
	Use: "locks",
}

func init() {
	cmdLocksList.Flags().StringVarP(&cmdLocksListFolder, "snapshot-folder", "f", "snapshots", "directory under SOURCE where the lock journal is kept")
	cmdLocks.AddCommand(cmdLocksList)
}
