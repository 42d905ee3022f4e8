package report

import (
	"reflect"
	"testing"

	"github.com/dcadm/dcadm/internal/probe"
)

func results(outcomes ...probe.Outcome) []probe.Result {
	out := make([]probe.Result, len(outcomes))
	for i, o := range outcomes {
		out[i] = probe.Result{Target: string(rune('a' + i)), Outcome: o}
	}
	return out
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []probe.Outcome
		wantStatus Status
		wantExit   int
	}{
		{
			name:       "all success",
			outcomes:   []probe.Outcome{probe.OutcomeSuccess, probe.OutcomeSuccess},
			wantStatus: StatusAllOk,
			wantExit:   ExitOK,
		},
		{
			name:       "mixed",
			outcomes:   []probe.Outcome{probe.OutcomeSuccess, probe.OutcomeFailure},
			wantStatus: StatusPartialFailure,
			wantExit:   ExitPartialFailure,
		},
		{
			name:       "timeout counts as failed",
			outcomes:   []probe.Outcome{probe.OutcomeSuccess, probe.OutcomeTimeout},
			wantStatus: StatusPartialFailure,
			wantExit:   ExitPartialFailure,
		},
		{
			name:       "all failed",
			outcomes:   []probe.Outcome{probe.OutcomeFailure, probe.OutcomeTimeout},
			wantStatus: StatusAllFailed,
			wantExit:   ExitAllFailed,
		},
		{
			name:       "single failure",
			outcomes:   []probe.Outcome{probe.OutcomeFailure},
			wantStatus: StatusAllFailed,
			wantExit:   ExitAllFailed,
		},
		{
			name:       "empty run",
			outcomes:   nil,
			wantStatus: StatusAllOk,
			wantExit:   ExitOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Aggregate("run-1", "port-scan", results(tt.outcomes...))
			if rep.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", rep.Status, tt.wantStatus)
			}
			if got := rep.ExitCode(); got != tt.wantExit {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantExit)
			}
		})
	}
}

func TestAggregateCounts(t *testing.T) {
	rep := Aggregate("run-1", "port-scan", results(
		probe.OutcomeSuccess, probe.OutcomeSuccess, probe.OutcomeFailure, probe.OutcomeTimeout,
	))
	want := Counts{Success: 2, Failure: 1, Timeout: 1}
	if rep.Counts != want {
		t.Errorf("Counts = %+v, want %+v", rep.Counts, want)
	}
	if rep.Counts.Total() != 4 {
		t.Errorf("Total() = %d, want 4", rep.Counts.Total())
	}
}

func TestAggregatePreservesOrder(t *testing.T) {
	in := results(probe.OutcomeFailure, probe.OutcomeSuccess, probe.OutcomeTimeout)
	rep := Aggregate("run-1", "port-scan", in)
	for i := range in {
		if rep.Results[i].Target != in[i].Target {
			t.Errorf("Results[%d] = %q, want %q", i, rep.Results[i].Target, in[i].Target)
		}
	}
}

func TestAggregateIdempotent(t *testing.T) {
	in := results(probe.OutcomeSuccess, probe.OutcomeFailure)
	first := Aggregate("run-1", "log-tail", in)
	second := Aggregate("run-1", "log-tail", in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Aggregate not deterministic:\n%+v\n%+v", first, second)
	}
}
