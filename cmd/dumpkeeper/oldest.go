package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/eviction"
	"github.com/spf13/cobra"
)

var oldestCmd = &cobra.Command{
	Use:   "oldest [listing-file]",
	Short: "Print the archive that would be evicted from a directory listing",
	Long: `Reads a newline separated listing (from the file argument or stdin) and
prints the entry with the earliest YYYY-MM-DD date prefix. Nothing is printed
when the listing has fewer entries than --min-entries.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		minEntries, err := cmd.Flags().GetInt("min-entries")
		if err != nil {
			errutil.ReportError(err, "Failed to get min-entries flag")
			os.Exit(1)
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				errutil.ReportError(err, "Failed to open listing")
				os.Exit(1)
			}
			defer func() {
				errutil.LogMsg(f.Close(), "Failed to close listing")
			}()
			in = f
		}

		raw, err := io.ReadAll(in)
		if err != nil {
			errutil.ReportError(err, "Failed to read listing")
			os.Exit(1)
		}

		oldest, err := eviction.NewSelector(minEntries).SelectOldest(eviction.ParseListing(string(raw)))
		if err != nil {
			errutil.ReportError(err, "Failed to select oldest entry")
			os.Exit(1)
		}
		if oldest != "" {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), oldest); err != nil {
				errutil.ReportError(err, "Failed to print result")
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(oldestCmd)
	oldestCmd.Flags().Int("min-entries", eviction.DefaultMinEntries, "Entries required before anything is selected")
}
