// Package pipeline runs the ordered steps of a backup job.
//
// Each step announces itself before running and reports completion after,
// so the webhook channel reads as a progress log. A failing required step
// stops the run; a failing optional step is reported and skipped.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasew/dumpkeeper/internal/notify"
)

// Step is one unit of work in a run.
type Step struct {
	Name string
	// Start is sent before the step runs. Empty means no message.
	Start string
	// Done is sent after the step succeeds. Empty means no message.
	Done string
	// Failed is sent when the step fails. Empty means "Error " followed by Start.
	Failed   string
	Optional bool
	Run      func(ctx context.Context) error
}

func (s Step) failedMessage() string {
	if s.Failed != "" || s.Start == "" {
		return s.Failed
	}
	return "Error " + s.Start
}

// StepError reports which step stopped the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Observer receives the outcome of every step.
type Observer interface {
	ObserveStep(name string, d time.Duration, err error)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(name string, d time.Duration, err error)

func (f ObserverFunc) ObserveStep(name string, d time.Duration, err error) { f(name, d, err) }

// Runner executes steps in order.
type Runner struct {
	notifier notify.Notifier
	observer Observer
	logger   *slog.Logger
}

// NewRunner creates a Runner. Nil arguments disable notifications or observation.
func NewRunner(n notify.Notifier, o Observer) *Runner {
	if n == nil {
		n = notify.Nop{}
	}
	return &Runner{
		notifier: n,
		observer: o,
		logger:   slog.Default().With("component", "pipeline"),
	}
}

// Run executes steps until one that is not optional fails, returning a *StepError for it.
// A canceled context stops the run before the next step.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Err: err}
		}

		r.send(ctx, step.Start)
		r.logger.Info("Running step", "step", step.Name)

		started := time.Now()
		err := step.Run(ctx)
		elapsed := time.Since(started)
		if r.observer != nil {
			r.observer.ObserveStep(step.Name, elapsed, err)
		}

		if err != nil {
			r.send(ctx, step.failedMessage())
			if step.Optional {
				r.logger.Warn("Optional step failed", "step", step.Name, "error", err)
				continue
			}
			r.logger.Error("Step failed", "step", step.Name, "duration", elapsed, "error", err)
			return &StepError{Step: step.Name, Err: err}
		}

		r.logger.Info("Step finished", "step", step.Name, "duration", elapsed)
		r.send(ctx, step.Done)
	}
	return nil
}

func (r *Runner) send(ctx context.Context, msg string) {
	if msg == "" {
		return
	}
	r.notifier.Notify(ctx, msg)
}
