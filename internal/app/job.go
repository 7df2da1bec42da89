// Package app wires the backup job together from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/dumpkeeper/internal/archive"
	"github.com/lucasew/dumpkeeper/internal/config"
	"github.com/lucasew/dumpkeeper/internal/db"
	"github.com/lucasew/dumpkeeper/internal/dump"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/eviction"
	"github.com/lucasew/dumpkeeper/internal/eviction/policy"
	"github.com/lucasew/dumpkeeper/internal/eviction/policy/maxsize"
	"github.com/lucasew/dumpkeeper/internal/eviction/policy/minfree"
	"github.com/lucasew/dumpkeeper/internal/metrics"
	"github.com/lucasew/dumpkeeper/internal/notify"
	"github.com/lucasew/dumpkeeper/internal/pipeline"
	"github.com/lucasew/dumpkeeper/internal/remote"
)

// MetricsJobName is the Pushgateway job label.
const MetricsJobName = "dumpkeeper"

// Report summarizes one run.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time
	DumpSize int64
	Archive  *archive.Result
	Evicted  string
	Pruned   []string
}

// Job runs the backup described by a Config.
type Job struct {
	cfg      *config.Config
	dumper   *dump.Dumper
	evictor  *eviction.Manager
	notifier notify.Notifier
	metrics  *metrics.Collector
	history  *db.DB
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Job.
type Option func(*Job)

// WithNotifier replaces the notifier built from the webhook settings.
func WithNotifier(n notify.Notifier) Option {
	return func(j *Job) { j.notifier = n }
}

// WithMetrics records into c instead of a private collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(j *Job) { j.metrics = c }
}

// WithClock overrides the time source used for archive names.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// NewJob builds a Job from a validated configuration.
func NewJob(cfg *config.Config, opts ...Option) (*Job, error) {
	j := &Job{
		cfg: cfg,
		dumper: &dump.Dumper{
			Tool:        cfg.DumpTool,
			URI:         cfg.MongoURI,
			Database:    cfg.Database,
			WorkDir:     cfg.WorkDir,
			Parallelism: cfg.DumpParallelism,
		},
		evictor: eviction.NewManager(cfg.MinRemoteEntries, cfg.KeepLocal),
		now:     time.Now,
		logger:  slog.Default().With("component", "app.job", "database", cfg.Database),
	}
	for _, opt := range opts {
		opt(j)
	}

	if j.metrics == nil {
		j.metrics = metrics.NewCollector(nil)
	}

	if j.notifier == nil {
		if cfg.WebhookURL == "" {
			j.logger.Info("No webhook configured, notifications are only logged")
			j.notifier = notify.Nop{}
		} else {
			wh, err := notify.NewWebhook(notify.WebhookOptions{
				URL:      cfg.WebhookURL,
				Username: cfg.WebhookName(),
				CABundle: cfg.WebhookCABundle,
				Timeout:  cfg.WebhookTimeout,
				Interval: cfg.WebhookInterval,
			})
			if err != nil {
				return nil, err
			}
			j.notifier = wh
		}
	}

	if cfg.HistoryDB != "" {
		history, err := db.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database at %s: %w", cfg.HistoryDB, err)
		}
		j.history = history
	}

	return j, nil
}

// Metrics returns the collector the job records into.
func (j *Job) Metrics() *metrics.Collector { return j.metrics }

// Close releases the history database.
func (j *Job) Close() error {
	if j.history == nil {
		return nil
	}
	return j.history.Close()
}

func (j *Job) notify(ctx context.Context, msg string) {
	j.logger.Info(msg)
	j.notifier.Notify(ctx, msg)
}

// Run performs one backup. Whatever the outcome, the run is recorded in the
// metrics and, when configured, in the history database.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{Started: time.Now()}
	j.notify(ctx, "Cron job started.")

	var store remote.Store
	defer func() {
		if store != nil {
			errutil.CloseLogged(store, "Failed to close remote store")
		}
	}()

	steps := []pipeline.Step{
		{
			Name:     "clean",
			Start:    "Removing all the old dump files.",
			Done:     "All the old dump files removed.",
			Failed:   "Error removing all the old dump files.",
			Optional: true,
			Run:      func(context.Context) error { return j.dumper.Clean() },
		},
		{
			Name:   "preflight",
			Failed: "Not enough free disk space to dump the database.",
			Run:    j.preflight,
		},
		{
			Name:   "dump",
			Start:  "Dumping the mongo database.",
			Done:   "Mongo database dumped.",
			Failed: "Error dumping the mongo database.",
			Run:    j.dumper.Dump,
		},
		{
			Name:   "strip-index",
			Start:  "Removing the _id_ index from the dump files.",
			Done:   "_id_ index removed from the dump files.",
			Failed: "Error removing the _id_ index from the dump files.",
			Run: func(context.Context) error {
				_, err := dump.StripIDIndex(j.dumper.Dir())
				return err
			},
		},
		{
			Name:   "size",
			Failed: "Dump size check failed.",
			Run: func(ctx context.Context) error {
				size, err := dump.DirSize(j.dumper.Dir())
				if err != nil {
					return err
				}
				report.DumpSize = size
				j.metrics.SetDumpBytes(size)
				j.notify(ctx, "Native MONGODB compressed (gz) size: "+humanize.Bytes(uint64(size)))
				return policy.Check(size, &maxsize.Policy{MaxBytes: int64(j.cfg.MaxDumpSize)})
			},
		},
		{
			Name:   "connect",
			Failed: "Error connecting to the storage box.",
			Run: func(ctx context.Context) error {
				var err error
				store, err = j.openStore(ctx)
				return err
			},
		},
		{
			Name:   "evict-remote",
			Start:  "Finding the old file from the storage box.",
			Failed: "Error deleting the old file from the storage box.",
			Run: func(ctx context.Context) error {
				victim, err := j.evictor.EvictRemote(ctx, store)
				if err != nil {
					return err
				}
				if victim != "" {
					report.Evicted = victim
					j.metrics.AddRemoteEvicted(1)
					j.notify(ctx, fmt.Sprintf("Oldest file `%s` deleted.", victim))
				}
				return nil
			},
		},
		{
			Name:   "archive",
			Start:  "Packing the dump into the zips folder.",
			Done:   "Dump packed into the zips folder.",
			Failed: "Error packing the dump into the zips folder.",
			Run: func(context.Context) error {
				name := archive.Filename(j.now(), j.cfg.Compression)
				res, err := archive.Create(j.dumper.Dir(), j.cfg.ArchiveDir, name, archive.Options{
					Format:   j.cfg.Compression,
					Checksum: j.cfg.Checksum,
				})
				if err != nil {
					return err
				}
				report.Archive = res
				j.metrics.SetArchiveBytes(res.Size)
				return nil
			},
		},
		{
			Name:   "upload",
			Start:  "Copying the zip file to the storage box.",
			Done:   "Zip file copied.",
			Failed: "Error copying the zip file to the storage box.",
			Run: func(ctx context.Context) error {
				return store.Upload(ctx, report.Archive.Path, report.Archive.Name)
			},
		},
		{
			Name:   "prune-local",
			Start:  "Deleting the oldest zip file from the server.",
			Failed: "Error deleting the oldest zip file from the server.",
			Run: func(context.Context) error {
				pruned, err := j.evictor.PruneLocal(j.cfg.ArchiveDir)
				report.Pruned = pruned
				j.metrics.AddLocalPruned(len(pruned))
				return err
			},
		},
	}

	err := pipeline.NewRunner(j.notifier, j.metrics).Run(ctx, steps)
	report.Finished = time.Now()
	elapsed := report.Finished.Sub(report.Started)

	if err == nil {
		j.notify(ctx, "Cron job finished. Time Taken: "+notify.Elapsed(elapsed))
	} else {
		j.logger.Error("Backup failed", "duration", elapsed, "error", err)
	}

	j.metrics.RecordRun(elapsed, err, report.Finished)
	report.ID = j.record(ctx, report, err)
	j.push(ctx)

	return report, err
}

func (j *Job) preflight(context.Context) error {
	if j.cfg.MinFreeSpace <= 0 {
		return nil
	}
	if err := os.MkdirAll(j.cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	return policy.Check(0, &minfree.Policy{
		Path:         j.cfg.WorkDir,
		MinFreeBytes: int64(j.cfg.MinFreeSpace),
	})
}

func (j *Job) openStore(ctx context.Context) (remote.Store, error) {
	rc, err := j.cfg.RemoteConfig()
	if err != nil {
		return nil, err
	}
	return remote.Open(ctx, j.cfg.Remote, rc)
}

// record stores the run in the history database and returns its ID.
// Failing to record is logged and never fails the run.
func (j *Job) record(ctx context.Context, report *Report, runErr error) string {
	if j.history == nil {
		return ""
	}

	run := db.Run{
		Database:   j.cfg.Database,
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
		Status:     db.StatusSuccess,
		Evicted:    report.Evicted,
	}
	if report.Archive != nil {
		run.Archive = report.Archive.Name
		run.ArchiveSize = report.Archive.Size
		run.Checksum = report.Archive.Checksum
	}
	if runErr != nil {
		run.Status = db.StatusFailure
		run.Error = runErr.Error()
	}

	// The run context may already be canceled; the record should still land.
	id, err := j.history.RecordRun(context.WithoutCancel(ctx), run)
	errutil.LogMsg(err, "Failed to record run history")
	return id
}

func (j *Job) push(ctx context.Context) {
	if j.cfg.Pushgateway == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	errutil.LogMsg(j.metrics.Push(pushCtx, j.cfg.Pushgateway, MetricsJobName), "Failed to push metrics")
}

// StepName returns the name of the step that failed a run, or "" if err did not come from a step.
func StepName(err error) string {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
