package probe

import (
	"fmt"
	"time"

	"github.com/dcadm/dcadm/internal/target"
)

// Outcome classifies how a probe run against one target ended.
type Outcome string

const (
	// OutcomeSuccess means the probe ran to completion. Whatever it
	// found, including threshold breaches or closed ports, is in the
	// payload.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the probe could not complete its work.
	OutcomeFailure Outcome = "failure"

	// OutcomeTimeout means the per-target or global deadline passed
	// before the probe finished.
	OutcomeTimeout Outcome = "timeout"
)

// ErrKind classifies failures for reporting.
type ErrKind string

const (
	// ErrConnection covers transport establishment and loss.
	ErrConnection ErrKind = "connection"

	// ErrTimeout marks results synthesized for expired deadlines.
	ErrTimeout ErrKind = "timeout"

	// ErrProbe covers failures of the diagnostic work itself, such as a
	// missing log file or a command that errored on the target.
	ErrProbe ErrKind = "probe"

	// ErrInternal marks faults in dcadm itself, such as a panicking
	// probe.
	ErrInternal ErrKind = "internal"
)

// Result is the outcome of running one probe against one target. The worker
// that produced it hands it to the aggregator; nothing mutates it afterwards.
type Result struct {
	// Target is the name of the target this result belongs to.
	Target string `json:"target"`

	Outcome Outcome `json:"outcome"`

	// Message is a one-line human summary.
	Message string `json:"message,omitempty"`

	// ErrKind is set for failure and timeout outcomes.
	ErrKind ErrKind `json:"error_kind,omitempty"`

	// Payload carries the probe's structured findings.
	Payload map[string]any `json:"payload,omitempty"`

	// Duration is how long the run took, or how long it was allowed to
	// take for timeouts.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the result counts against the run's exit code.
func (r *Result) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// Success builds a completed result with the probe's findings.
func Success(t *target.Target, msg string, payload map[string]any) *Result {
	return &Result{
		Target:  t.Name,
		Outcome: OutcomeSuccess,
		Message: msg,
		Payload: payload,
	}
}

// Failure builds a failed result from an error.
func Failure(t *target.Target, kind ErrKind, err error) *Result {
	return &Result{
		Target:  t.Name,
		Outcome: OutcomeFailure,
		ErrKind: kind,
		Message: err.Error(),
	}
}

// Failuref builds a failed result from a format string.
func Failuref(t *target.Target, kind ErrKind, format string, args ...any) *Result {
	return &Result{
		Target:  t.Name,
		Outcome: OutcomeFailure,
		ErrKind: kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// TimedOut builds the result synthesized when a target's deadline passes.
func TimedOut(t *target.Target, elapsed time.Duration) *Result {
	msg := "timed out"
	if elapsed > 0 {
		msg = fmt.Sprintf("timed out after %s", elapsed.Round(time.Millisecond))
	}
	return &Result{
		Target:   t.Name,
		Outcome:  OutcomeTimeout,
		ErrKind:  ErrTimeout,
		Message:  msg,
		Duration: elapsed,
	}
}
