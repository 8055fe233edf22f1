// Package asyncjob wraps long-running work with a transient placeholder:
// post the placeholder, do the work, clear the placeholder on every exit
// path, then deliver the result or a failure notice. The clear is a
// guaranteed-cleanup contract, not best-effort.
package asyncjob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/databothq/databot/telemetry"
)

// Placeholder is the handle to the transient UI element posted before the
// work begins.
type Placeholder interface {
	Clear(ctx context.Context) error
}

// Job is one unit of asynchronous work. PostPlaceholder and Work are
// required; Deliver runs only on success, NotifyFailure on any failure after
// the placeholder was cleared.
type Job struct {
	Name            string
	PostPlaceholder func(ctx context.Context) (Placeholder, error)
	Work            func(ctx context.Context) (any, error)
	Deliver         func(ctx context.Context, result any) error
	NotifyFailure   func(ctx context.Context, err error)
}

type Runner struct {
	logger *slog.Logger
	sink   telemetry.Sink
}

func NewRunner(logger *slog.Logger, sink telemetry.Sink) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Runner{logger: logger, sink: sink}
}

// Run executes the job synchronously. The placeholder is cleared exactly
// once, before the final message is delivered, whether the work succeeded or
// failed. The returned error reports what went wrong for the caller's log;
// the user has already been notified through Deliver or NotifyFailure.
func (r *Runner) Run(ctx context.Context, job Job) error {
	if job.PostPlaceholder == nil || job.Work == nil {
		return fmt.Errorf("asyncjob: job %q is missing placeholder or work", job.Name)
	}

	jobID := uuid.NewString()
	r.logger.Debug("asyncjob_start", "job", job.Name, "job_id", jobID)

	placeholder, err := job.PostPlaceholder(ctx)
	if err != nil {
		// No placeholder was posted, nothing to clear.
		r.notify(ctx, job, fmt.Errorf("post placeholder: %w", err))
		r.record(ctx, job, jobID, "placeholder_failed")
		return fmt.Errorf("asyncjob %q %s: post placeholder: %w", job.Name, jobID, err)
	}

	result, workErr := job.Work(ctx)

	if placeholder != nil {
		if clearErr := placeholder.Clear(ctx); clearErr != nil {
			r.logger.Warn("asyncjob_placeholder_clear_error", "job", job.Name, "job_id", jobID, "error", clearErr.Error())
		}
	}

	if workErr != nil {
		r.notify(ctx, job, workErr)
		r.record(ctx, job, jobID, "work_failed")
		return fmt.Errorf("asyncjob %q %s: %w", job.Name, jobID, workErr)
	}

	if job.Deliver != nil {
		if err := job.Deliver(ctx, result); err != nil {
			r.notify(ctx, job, fmt.Errorf("deliver: %w", err))
			r.record(ctx, job, jobID, "deliver_failed")
			return fmt.Errorf("asyncjob %q %s: deliver: %w", job.Name, jobID, err)
		}
	}
	r.record(ctx, job, jobID, "completed")
	return nil
}

// Go runs the job on a detached goroutine, for work that outlives a
// synchronous acknowledgment window. Failures are routed through the job's
// NotifyFailure path (there is no caller left waiting) and reported on the
// returned channel, which receives exactly one value.
func (r *Runner) Go(ctx context.Context, job Job) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := r.Run(ctx, job)
		if err != nil {
			r.logger.Warn("asyncjob_detached_error", "job", job.Name, "error", err.Error())
		}
		done <- err
	}()
	return done
}

func (r *Runner) notify(ctx context.Context, job Job, err error) {
	if job.NotifyFailure == nil {
		return
	}
	job.NotifyFailure(ctx, err)
}

// record emits one audit event per finished job, keyed by the job id so a
// failure notice in the log can be matched to its trace.
func (r *Runner) record(ctx context.Context, job Job, jobID, outcome string) {
	r.sink.RecordEvent(ctx, "async_job", map[string]string{
		"job":     job.Name,
		"job_id":  jobID,
		"outcome": outcome,
	}, nil)
}
