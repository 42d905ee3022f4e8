// Package report aggregates per-target probe results into the single
// deterministic report a run ends with, and maps it to the process exit
// code.
package report

import (
	"time"

	"github.com/dcadm/dcadm/internal/probe"
)

// Status classifies the overall outcome of a run.
type Status string

const (
	StatusAllOk          Status = "all-ok"
	StatusPartialFailure Status = "partial-failure"
	StatusAllFailed      Status = "all-failed"
)

// Process exit codes, following the sysexits convention for the non-result
// ones.
const (
	ExitOK             = 0
	ExitPartialFailure = 1
	ExitAllFailed      = 2
	ExitUsage          = 64
	ExitInternal       = 70
)

// Counts tallies results by outcome.
type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Timeout int `json:"timeout"`
}

// Total returns how many results were counted.
func (c Counts) Total() int {
	return c.Success + c.Failure + c.Timeout
}

// Report is the aggregate outcome of one probe run. It is built exactly
// once, after every target has a result.
type Report struct {
	// RunID correlates the report with log lines from the same
	// invocation.
	RunID string `json:"run_id"`

	// Probe is the kind that was dispatched.
	Probe string `json:"probe"`

	// Description is the probe's own summary of what it did.
	Description string `json:"description,omitempty"`

	Status Status `json:"status"`
	Counts Counts `json:"counts"`

	// Results holds one entry per target, in dispatch input order.
	Results []probe.Result `json:"results"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Aggregate folds results into a report. It is a pure function of its
// inputs: the same results always produce the same report. An empty result
// set aggregates to all-ok, since nothing was asked for and nothing failed.
func Aggregate(runID, probeKind string, results []probe.Result) *Report {
	rep := &Report{
		RunID:   runID,
		Probe:   probeKind,
		Results: results,
	}
	for i := range results {
		switch results[i].Outcome {
		case probe.OutcomeSuccess:
			rep.Counts.Success++
		case probe.OutcomeTimeout:
			rep.Counts.Timeout++
		default:
			rep.Counts.Failure++
		}
	}
	rep.Status = classify(rep.Counts)
	return rep
}

func classify(c Counts) Status {
	switch {
	case c.Success == c.Total():
		return StatusAllOk
	case c.Success == 0:
		return StatusAllFailed
	default:
		return StatusPartialFailure
	}
}

// ExitCode maps the report's status to the process exit code.
func (r *Report) ExitCode() int {
	switch r.Status {
	case StatusAllOk:
		return ExitOK
	case StatusAllFailed:
		return ExitAllFailed
	default:
		return ExitPartialFailure
	}
}
