package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucasew/dumpkeeper/internal/app"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup now",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		job, err := app.NewJob(cfg)
		if err != nil {
			errutil.ReportError(err, "Failed to set up backup job")
			os.Exit(1)
		}

		report, err := job.Run(ctx)
		errutil.LogMsg(job.Close(), "Failed to close history database")
		if err != nil {
			errutil.ReportError(err, "Backup failed", "step", app.StepName(err))
			os.Exit(1)
		}

		attrs := []any{"duration", report.Finished.Sub(report.Started), "evicted", report.Evicted, "pruned", len(report.Pruned)}
		if report.Archive != nil {
			attrs = append(attrs, "archive", report.Archive.Name, "size", report.Archive.Size, "checksum", report.Archive.Checksum)
		}
		slog.Info("Backup finished", attrs...)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addJobFlags(runCmd)
}
