package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/lucasew/dumpkeeper/internal/app"
	"github.com/lucasew/dumpkeeper/internal/config"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/metrics"
	"github.com/lucasew/dumpkeeper/internal/scheduler"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds graceful shutdown of the metrics server.
const shutdownTimeout = 10 * time.Second

type healthStatus struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run backups on a cron schedule and expose metrics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if err := cfg.ValidateSchedule(); err != nil {
			errutil.ReportError(err, "Invalid schedule")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		collector := metrics.NewCollector(nil)
		job, err := app.NewJob(cfg, app.WithMetrics(collector))
		if err != nil {
			errutil.ReportError(err, "Failed to set up backup job")
			os.Exit(1)
		}
		defer func() {
			errutil.LogMsg(job.Close(), "Failed to close history database")
		}()

		sched, err := scheduler.New(cfg.Schedule, func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		})
		if err != nil {
			errutil.ReportError(err, "Failed to create scheduler")
			os.Exit(1)
		}

		g, ctx := errgroup.WithContext(ctx)

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				errutil.LogMsg(json.NewEncoder(w).Encode(healthStatus{
					Scheduled: sched.IsRunning(),
					NextRun:   sched.NextRun(),
				}), "Failed to write health status")
			})
			server := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g.Go(func() error {
				slog.Info("Starting metrics server", "addr", cfg.MetricsAddr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
		}

		g.Go(func() error {
			if err := sched.Start(ctx); err != nil {
				return err
			}
			if viper.GetBool("run-now") {
				if _, err := sched.Trigger(ctx); err != nil {
					errutil.ReportError(err, "Initial backup failed", "step", app.StepName(err))
				}
			}
			<-ctx.Done()
			sched.Stop()
			return nil
		})

		if err := g.Wait(); err != nil {
			errutil.ReportError(err, "Server failed")
			os.Exit(1)
		}
		slog.Info("Shut down")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addJobFlags(serveCmd)

	d := config.Default()
	serveCmd.Flags().String("schedule", d.Schedule, "Cron expression (minute hour day month weekday)")
	serveCmd.Flags().String("metrics-addr", d.MetricsAddr, "Address serving /metrics, empty to disable")
	serveCmd.Flags().Bool("run-now", false, "Run a backup immediately on start")
}
