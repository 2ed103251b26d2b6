// Package poller tracks one asynchronous video job until it reaches a
// terminal state, fetching the primary asset when it completes.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"sorastudio/internal/domain"
	"sorastudio/internal/infra"
	"sorastudio/internal/providers/video"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultMaxAttempts      = 120
	DefaultTransientRetries = 3

	timeoutMessage   = "Video generation timed out"
	cancelledMessage = "Polling cancelled"
)

// Source is the slice of the video client the poller needs.
type Source interface {
	Retrieve(ctx context.Context, id string) (*domain.Job, error)
	Download(ctx context.Context, id string, variant domain.Variant) (*domain.Asset, error)
}

// State is the poller's view of a run. It extends the provider statuses with
// the locally decided outcomes timed_out and cancelled.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the run has stopped.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Update is delivered to the observer after every successful status check.
type Update struct {
	Attempt  int
	Job      domain.Job
	Snapshot domain.Snapshot
	State    State
}

// Observer receives updates on the run's goroutine. It may call Run.Cancel.
type Observer func(Update)

// Result is the outcome of a run. Video is set only for completed runs;
// Thumbnail is best-effort and may be nil even then.
type Result struct {
	State     State
	Attempts  int
	Job       *domain.Job
	Video     *domain.Asset
	Thumbnail *domain.Asset
	Failure   *domain.JobError
}

// Err returns nil for a completed run and otherwise the failure joined with
// the matching domain sentinel, so both errors.Is and errors.As work.
func (r Result) Err() error {
	var sentinel error
	switch r.State {
	case StateCompleted:
		return nil
	case StateTimedOut:
		sentinel = domain.ErrTimedOut
	case StateCancelled:
		sentinel = domain.ErrCancelled
	default:
		sentinel = domain.ErrProviderFailure
		if r.Failure != nil && r.Failure.Code == domain.CodeAssetUnavailable {
			sentinel = domain.ErrAssetUnavailable
		}
	}
	if r.Failure == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, r.Failure)
}

// Options tunes a Poller. Zero Interval and MaxAttempts take the defaults;
// TransientRetries is used as given, so zero disables retrying.
type Options struct {
	Interval         time.Duration
	MaxAttempts      int
	TransientRetries int
	Logger           *infra.Logger

	// After replaces time.After; tests use it to drive the clock.
	After func(time.Duration) <-chan time.Time
	// IsTransient classifies status check errors. Defaults to video.IsTransient.
	IsTransient func(error) bool
}

// DefaultOptions returns the stock polling cadence.
func DefaultOptions() Options {
	return Options{
		Interval:         DefaultInterval,
		MaxAttempts:      DefaultMaxAttempts,
		TransientRetries: DefaultTransientRetries,
	}
}

// Poller starts runs against one Source. It holds no per-run state, so any
// number of runs may be active at once.
type Poller struct {
	source Source
	opts   Options
	logger *infra.Logger
}

func New(source Source, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.TransientRetries < 0 {
		opts.TransientRetries = 0
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.IsTransient == nil {
		opts.IsTransient = video.IsTransient
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Poller{source: source, opts: opts, logger: logger}
}

// Run is the handle of one polling run.
type Run struct {
	jobID     string
	cancelled atomic.Bool
	stop      context.CancelFunc
	done      chan struct{}
	result    Result
}

// Cancel stops the run. No observer call starts after Cancel returns, apart
// from one already in progress. Safe to call more than once and from inside
// the observer.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.stop()
}

// JobID returns the tracked job id.
func (r *Run) JobID() string { return r.jobID }

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result is valid after Done is closed.
func (r *Run) Result() Result {
	select {
	case <-r.done:
		return r.result
	default:
		return Result{}
	}
}

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Start begins tracking jobID. The first check happens immediately on the
// run's own goroutine. Cancelling ctx cancels the run.
func (p *Poller) Start(ctx context.Context, jobID string, observe Observer) *Run {
	runCtx, stop := context.WithCancel(ctx)
	run := &Run{jobID: jobID, stop: stop, done: make(chan struct{})}
	if observe == nil {
		observe = func(Update) {}
	}
	go func() {
		defer close(run.done)
		defer stop()
		run.result = p.loop(runCtx, run, observe)
		p.logger.Debug().
			Str("video_id", jobID).
			Str("state", string(run.result.State)).
			Int("attempts", run.result.Attempts).
			Msg("poller: run finished")
	}()
	return run
}

// Watch is Start followed by Wait.
func (p *Poller) Watch(ctx context.Context, jobID string, observe Observer) (Result, error) {
	run := p.Start(ctx, jobID, observe)
	return run.Wait(ctx)
}

func (p *Poller) loop(ctx context.Context, run *Run, observe Observer) Result {
	retry := p.newRetry()
	res := Result{State: StateQueued}

	for {
		if run.stopped(ctx) {
			return cancelled(res)
		}

		job, err := p.check(ctx, run.jobID, res.Attempts+1)
		if err != nil {
			if run.stopped(ctx) {
				return cancelled(res)
			}
			if p.opts.TransientRetries == 0 || !p.opts.IsTransient(err) {
				return p.checkFailed(res, run.jobID, err)
			}
			delay := retry.NextBackOff()
			if delay == backoff.Stop {
				return p.checkFailed(res, run.jobID, err)
			}
			p.logger.Warn().Err(err).
				Str("video_id", run.jobID).
				Dur("retry_in", delay).
				Msg("poller: transient status check failure")
			if !p.wait(ctx, delay) {
				return cancelled(res)
			}
			continue
		}
		retry.Reset()
		res.Attempts++
		res.Job = job

		snapshot, ok := domain.SnapshotOf(*job)
		if !ok {
			res.State = StateFailed
			res.Failure = &domain.JobError{
				Code:    domain.CodeStatusCheckFailed,
				Message: fmt.Sprintf("unexpected job status %q", job.Status),
			}
			return res
		}
		res.State = stateOf(snapshot)

		if run.stopped(ctx) {
			return cancelled(res)
		}
		observe(Update{Attempt: res.Attempts, Job: *job, Snapshot: snapshot, State: res.State})

		switch s := snapshot.(type) {
		case domain.Completed:
			return p.fetchAssets(ctx, run, res)
		case domain.Failed:
			jobErr := s.Error
			res.Failure = &jobErr
			return res
		}

		if res.Attempts >= p.opts.MaxAttempts {
			res.State = StateTimedOut
			res.Failure = &domain.JobError{Code: domain.CodePollTimeout, Message: timeoutMessage}
			p.logger.Info().
				Str("video_id", run.jobID).
				Int("attempts", res.Attempts).
				Msg("poller: attempt budget exhausted")
			return res
		}
		if !p.wait(ctx, p.opts.Interval) {
			return cancelled(res)
		}
	}
}

func (p *Poller) check(ctx context.Context, id string, attempt int) (*domain.Job, error) {
	ctx, span := infra.StartSpan(ctx, "poller.check",
		attribute.String("video.id", id),
		attribute.Int("poller.attempt", attempt),
	)
	defer span.End()

	job, err := p.source.Retrieve(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("video.status", string(job.Status)))
	p.logger.Debug().
		Str("video_id", id).
		Int("attempt", attempt).
		Str("status", string(job.Status)).
		Msg("poller: status checked")
	return job, nil
}

// fetchAssets downloads the primary video exactly once and then tries the
// thumbnail. Only the video is required.
func (p *Poller) fetchAssets(ctx context.Context, run *Run, res Result) Result {
	asset, err := p.source.Download(ctx, run.jobID, domain.VariantVideo)
	if err != nil {
		if run.stopped(ctx) {
			return cancelled(res)
		}
		p.logger.Error().Err(err).Str("video_id", run.jobID).Msg("poller: video download failed")
		res.State = StateFailed
		res.Failure = &domain.JobError{Code: domain.CodeAssetUnavailable, Message: messageOf(err, "Failed to download video")}
		return res
	}
	res.Video = asset

	thumb, err := p.source.Download(ctx, run.jobID, domain.VariantThumbnail)
	if err != nil {
		p.logger.Debug().Err(err).Str("video_id", run.jobID).Msg("poller: thumbnail not available")
	} else {
		res.Thumbnail = thumb
	}
	return res
}

func (p *Poller) checkFailed(res Result, id string, err error) Result {
	p.logger.Error().Err(err).Str("video_id", id).Msg("poller: status check failed")
	res.State = StateFailed
	res.Failure = &domain.JobError{
		Code:    domain.CodeStatusCheckFailed,
		Message: messageOf(err, "Failed to check video status"),
	}
	return res
}

func (p *Poller) newRetry() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Second
	exp.MaxInterval = p.opts.Interval * 2
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(p.opts.TransientRetries))
}

func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.opts.After(d):
		return true
	}
}

func (r *Run) stopped(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

func cancelled(res Result) Result {
	res.State = StateCancelled
	res.Video = nil
	res.Thumbnail = nil
	res.Failure = &domain.JobError{Code: domain.CodePollCancelled, Message: cancelledMessage}
	return res
}

func stateOf(s domain.Snapshot) State {
	switch s.(type) {
	case domain.Running:
		return StateRunning
	case domain.Completed:
		return StateCompleted
	case domain.Failed:
		return StateFailed
	default:
		return StateQueued
	}
}

func messageOf(err error, fallback string) string {
	if msg, ok := video.ProviderMessage(err); ok {
		return msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback + ": deadline exceeded"
	}
	return fallback
}
