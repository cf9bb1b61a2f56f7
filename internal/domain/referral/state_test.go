package referral

import "testing"

var allStatuses = []Status{
	StatusPending, StatusSent, StatusAccepted, StatusContacted, StatusInProgress,
	StatusCompleted, StatusDeclined, StatusNoShow, StatusUnsuccessful, StatusCancelled,
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				t.Errorf("terminal %s should not transition to %s", from, to)
			}
		}
		if n := len(NextStatuses(from)); n != 0 {
			t.Errorf("%s: expected no next statuses, got %d", from, n)
		}
	}
}

func TestEveryEdgeTargetsKnownStatus(t *testing.T) {
	for from, targets := range transitions {
		for _, to := range targets {
			if !to.Valid() {
				t.Errorf("%s -> %s: unknown target", from, to)
			}
		}
	}
	if len(transitions) != len(allStatuses) {
		t.Errorf("expected %d statuses in graph, got %d", len(allStatuses), len(transitions))
	}
}

func TestClosedNonTerminalStatesOnlyReopen(t *testing.T) {
	for _, s := range []Status{StatusDeclined, StatusNoShow, StatusUnsuccessful} {
		if !s.IsClosed() || s.IsTerminal() {
			t.Errorf("%s: expected closed and non-terminal", s)
		}
		next := NextStatuses(s)
		if len(next) != 1 || next[0] != StatusPending {
			t.Errorf("%s: expected only pending, got %v", s, next)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusCompleted, false},
		{StatusSent, StatusAccepted, true},
		{StatusContacted, StatusUnsuccessful, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusAccepted, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusSent, false},
		{StatusNoShow, StatusPending, true},
		{Status("bogus"), StatusSent, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNextStatusesReturnsCopy(t *testing.T) {
	next := NextStatuses(StatusPending)
	next[0] = StatusCompleted
	if !CanTransition(StatusPending, StatusSent) {
		t.Error("mutating the returned slice changed the graph")
	}
}
