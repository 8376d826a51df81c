// Package inference runs the blocking media classifier behind a fixed-size
// worker pool with a per-job deadline, staging each upload to a scratch file
// that is removed before the job returns.
package inference

import (
	"errors"
	"fmt"
)

// Verdict is the classifier outcome. The zero value is not a verdict.
type Verdict int

const (
	VerdictAuthentic Verdict = iota + 1
	VerdictSynthetic
)

func (v Verdict) String() string {
	switch v {
	case VerdictAuthentic:
		return "authentic"
	case VerdictSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

func (v Verdict) Valid() bool {
	return v == VerdictAuthentic || v == VerdictSynthetic
}

// VerdictFromLabel maps the classifier's label: 1 is synthetic, 0 authentic.
func VerdictFromLabel(label int) (Verdict, error) {
	switch label {
	case 0:
		return VerdictAuthentic, nil
	case 1:
		return VerdictSynthetic, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
}

var (
	ErrTimeout         = errors.New("classification timed out")
	ErrPoolClosed      = errors.New("worker pool closed")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrUnknownLabel    = errors.New("unknown classifier label")
	ErrTaskPanicked    = errors.New("task panicked")
)

// Failure is any non-timeout job error. Message is safe to show to clients;
// Err carries the internal cause for logs.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Message
	}
	return f.Message + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// JobState tracks a job through Received, Staged, Dispatched, one terminal
// state, then Cleaned.
type JobState string

const (
	StateReceived   JobState = "received"
	StateStaged     JobState = "staged"
	StateDispatched JobState = "dispatched"
	StateCompleted  JobState = "completed"
	StateTimedOut   JobState = "timed_out"
	StateFailed     JobState = "failed"
	StateCleaned    JobState = "cleaned"
)
