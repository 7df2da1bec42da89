package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/eviction"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune <dir>",
	Short: "Keep only the most recently modified files of a directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keep, err := cmd.Flags().GetInt("keep")
		if err != nil {
			errutil.ReportError(err, "Failed to get keep flag")
			os.Exit(1)
		}

		deleted, err := eviction.NewPruner(keep).Prune(args[0])
		for _, path := range deleted {
			if _, printErr := fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(path)); printErr != nil {
				errutil.LogMsg(printErr, "Failed to print deleted file")
			}
		}
		if err != nil {
			errutil.ReportError(err, "Prune failed", "dir", args[0], "deleted", len(deleted))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().Int("keep", eviction.DefaultKeep, "Files to keep")
}
