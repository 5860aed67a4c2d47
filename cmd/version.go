package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// tag, commit and buildDate are set via -ldflags at release build time
// (teacher's cmd/root.go cmdVersion does the same).
var (
	tag       = "git"
	commit    = "unknown"
	buildDate = "unknown"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", tag)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
