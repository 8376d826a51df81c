package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"sipuha/voicecheck/internal/auth"
	"sipuha/voicecheck/internal/observability"
)

// Dispatcher takes an upload from raw bytes to a Verdict: stage, classify on
// the pool under a deadline, release the scratch file.
type Dispatcher struct {
	pool         *Pool
	stager       *Stager
	classifier   Classifier
	timeout      time.Duration
	log          *slog.Logger
	metrics      *Metrics
	onTransition func(jobID string, state JobState)
}

type DispatcherConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
	// OnTransition, when set, observes every job state change.
	OnTransition func(jobID string, state JobState)
}

func NewDispatcher(pool *Pool, stager *Stager, classifier Classifier, cfg DispatcherConfig) (*Dispatcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if stager == nil {
		return nil, fmt.Errorf("stager is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0")
	}
	log := cfg.Logger
	if log == nil {
		log = observability.Discard()
	}
	return &Dispatcher{
		pool:         pool,
		stager:       stager,
		classifier:   classifier,
		timeout:      cfg.Timeout,
		log:          log.With("component", "dispatcher"),
		metrics:      cfg.Metrics,
		onTransition: cfg.OnTransition,
	}, nil
}

func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Ready reports whether jobs can still be admitted.
func (d *Dispatcher) Ready() bool { return !d.pool.Closed() }

// Submit classifies payload on behalf of identity. It returns ErrTimeout when
// no result arrives within the deadline and a *Failure for anything else
// that goes wrong. The scratch file is gone by the time Submit returns.
func (d *Dispatcher) Submit(ctx context.Context, payload io.Reader, identity auth.Identity) (Verdict, error) {
	jobID := ulid.Make().String()
	log := d.log.With("job_id", jobID, "username", identity.Username)
	d.transition(jobID, StateReceived)

	staged, err := d.stager.Stage(jobID, payload)
	if err != nil {
		d.finish(log, jobID, StateFailed, 0, err)
		d.transition(jobID, StateCleaned)
		if errors.Is(err, ErrPayloadTooLarge) {
			return 0, &Failure{Message: "file is too large", Err: err}
		}
		return 0, &Failure{Message: "could not store upload", Err: err}
	}
	defer func() {
		if err := staged.Release(); err != nil {
			log.Warn("scratch file cleanup failed", "path", staged.Path, "error", err)
		}
		d.transition(jobID, StateCleaned)
	}()
	d.transition(jobID, StateStaged)

	jobCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		verdict     Verdict
		classifyErr error
	)
	start := time.Now()
	d.transition(jobID, StateDispatched)
	poolErr := d.pool.Do(jobCtx, func(ctx context.Context) {
		verdict, classifyErr = d.classifier.Classify(ctx, staged.Path)
	})
	elapsed := time.Since(start)

	switch {
	case poolErr == nil && classifyErr == nil && verdict.Valid():
		d.finish(log, jobID, StateCompleted, elapsed, nil, "verdict", verdict.String(), "bytes", staged.Size)
		return verdict, nil

	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		cause := poolErr
		if cause == nil {
			cause = classifyErr
		}
		d.finish(log, jobID, StateTimedOut, elapsed, cause, "bytes", staged.Size)
		return 0, ErrTimeout

	case errors.Is(poolErr, context.Canceled) || errors.Is(jobCtx.Err(), context.Canceled):
		d.finish(log, jobID, StateFailed, elapsed, context.Canceled)
		return 0, &Failure{Message: "request canceled", Err: context.Canceled}

	case errors.Is(poolErr, ErrPoolClosed):
		d.finish(log, jobID, StateFailed, elapsed, poolErr)
		return 0, &Failure{Message: "service is shutting down", Err: poolErr}

	case poolErr != nil:
		d.finish(log, jobID, StateFailed, elapsed, poolErr)
		return 0, &Failure{Message: "classification failed", Err: poolErr}

	case classifyErr != nil:
		d.finish(log, jobID, StateFailed, elapsed, classifyErr)
		return 0, &Failure{Message: "classification failed", Err: classifyErr}

	default:
		err := fmt.Errorf("%w: %s", ErrUnknownLabel, verdict)
		d.finish(log, jobID, StateFailed, elapsed, err)
		return 0, &Failure{Message: "classification failed", Err: err}
	}
}

func (d *Dispatcher) finish(log *slog.Logger, jobID string, state JobState, elapsed time.Duration, cause error, attrs ...any) {
	d.transition(jobID, state)
	d.metrics.observeJob(state, elapsed)

	attrs = append(attrs, "outcome", string(state), "duration_ms", elapsed.Milliseconds())
	switch {
	case cause == nil:
		log.Info("classification finished", attrs...)
	case state == StateTimedOut:
		log.Warn("classification timed out", append(attrs, "error", cause)...)
	default:
		log.Error("classification failed", append(attrs, "error", cause)...)
	}
}

func (d *Dispatcher) transition(jobID string, state JobState) {
	if d.onTransition != nil {
		d.onTransition(jobID, state)
	}
}
