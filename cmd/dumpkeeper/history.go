package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/lucasew/dumpkeeper/internal/db"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded backup runs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags())
		path := viper.GetString("history-db")
		if path == "" {
			errutil.ReportError(fmt.Errorf("no history database configured"), "Set --history-db or DUMPKEEPER_HISTORY_DB")
			os.Exit(1)
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			errutil.ReportError(err, "Failed to get limit flag")
			os.Exit(1)
		}
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			errutil.ReportError(err, "Failed to get output flag")
			os.Exit(1)
		}

		history, err := db.Open(path)
		if err != nil {
			errutil.ReportError(err, "Failed to open history database", "path", path)
			os.Exit(1)
		}
		defer func() {
			errutil.LogMsg(history.Close(), "Failed to close history database")
		}()

		runs, err := history.ListRuns(cmd.Context(), limit)
		if err != nil {
			errutil.ReportError(err, "Failed to list runs")
			os.Exit(1)
		}

		if err := writeRuns(os.Stdout, runs, output); err != nil {
			errutil.ReportError(err, "Failed to print runs")
			os.Exit(1)
		}
	},
}

func writeRuns(w io.Writer, runs []db.Run, format string) error {
	if runs == nil {
		runs = []db.Run{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(tw, "STARTED\tSTATUS\tDURATION\tARCHIVE\tSIZE\tEVICTED\tERROR"); err != nil {
			return err
		}
		for _, r := range runs {
			size := ""
			if r.ArchiveSize > 0 {
				size = humanize.Bytes(uint64(r.ArchiveSize))
			}
			if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.StartedAt.Local().Format(time.DateTime),
				r.Status,
				r.Duration().Round(time.Second),
				dash(r.Archive), dash(size), dash(r.Evicted), dash(r.Error),
			); err != nil {
				return err
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("history-db", "", "SQLite database recording every run")
	historyCmd.Flags().Int("limit", 20, "Runs to show, 0 for all")
	historyCmd.Flags().StringP("output", "o", "table", "Output format (table, json, yaml)")
}
