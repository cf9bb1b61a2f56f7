package referral

import (
	"math"
	"testing"
	"time"
)

var refNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return refNow.AddDate(0, 0, -d)
}

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil, refNow)
	if m.Total != 0 || m.ClosedLoopRate != 0 || m.SuccessRate != 0 || m.AverageTimeToCompletion != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m.ByStatus == nil {
		t.Error("expected non-nil ByStatus")
	}
}

func TestNeedsFollowUp_NoContact(t *testing.T) {
	old := &Referral{Status: StatusSent, ReferredDate: daysAgo(4)}
	recent := &Referral{Status: StatusSent, ReferredDate: daysAgo(1)}
	if !NeedsFollowUp(old, refNow) {
		t.Error("4-day-old referral without contact should need follow-up")
	}
	if NeedsFollowUp(recent, refNow) {
		t.Error("1-day-old referral should not need follow-up")
	}
}

func TestNeedsFollowUp_StaleContact(t *testing.T) {
	stale := &Referral{
		Status:          StatusContacted,
		ReferredDate:    daysAgo(20),
		ContactAttempts: []ContactAttempt{{Date: daysAgo(12)}, {Date: daysAgo(8)}},
	}
	fresh := &Referral{
		Status:          StatusContacted,
		ReferredDate:    daysAgo(20),
		ContactAttempts: []ContactAttempt{{Date: daysAgo(12)}, {Date: daysAgo(2)}},
	}
	if !NeedsFollowUp(stale, refNow) {
		t.Error("last contact 8 days ago should need follow-up")
	}
	if NeedsFollowUp(fresh, refNow) {
		t.Error("last contact 2 days ago should not need follow-up")
	}
}

func TestNeedsFollowUp_TerminalAndScheduled(t *testing.T) {
	done := &Referral{Status: StatusCompleted, ReferredDate: daysAgo(30)}
	if NeedsFollowUp(done, refNow) {
		t.Error("completed referral never needs follow-up")
	}

	due := daysAgo(0)
	scheduled := &Referral{
		Status:           StatusAccepted,
		ReferredDate:     daysAgo(2),
		ContactAttempts:  []ContactAttempt{{Date: daysAgo(1)}},
		FollowUpRequired: true,
		FollowUpDate:     &due,
	}
	if !NeedsFollowUp(scheduled, refNow) {
		t.Error("arrived follow-up date should need follow-up")
	}

	// Closed but re-openable referrals still surface.
	declined := &Referral{Status: StatusDeclined, ReferredDate: daysAgo(5)}
	if !NeedsFollowUp(declined, refNow) {
		t.Error("declined referral without contact should need follow-up")
	}
}

func TestComputeMetrics_Rates(t *testing.T) {
	closed := func(d int) *time.Time {
		c := daysAgo(d)
		return &c
	}
	referrals := []*Referral{
		{Status: StatusCompleted, ReferredDate: daysAgo(10), ClosedDate: closed(6)},
		{Status: StatusCompleted, ReferredDate: daysAgo(10), ClosedDate: closed(8),
			Outcomes: []Outcome{{Type: OutcomeOther, Success: false}}},
		{Status: StatusUnsuccessful, ReferredDate: daysAgo(10), ClosedDate: closed(4)},
		{Status: StatusPending, ReferredDate: daysAgo(1)},
	}
	m := ComputeMetrics(referrals, refNow)

	if m.Total != 4 || m.Open != 1 || m.Closed != 3 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if m.ByStatus[StatusCompleted] != 2 {
		t.Errorf("expected 2 completed, got %d", m.ByStatus[StatusCompleted])
	}
	if m.ClosedLoopRate != 75 {
		t.Errorf("expected closed loop rate 75, got %v", m.ClosedLoopRate)
	}
	if math.Abs(m.SuccessRate-100.0/3) > 1e-9 {
		t.Errorf("expected success rate 33.3, got %v", m.SuccessRate)
	}
	if m.AverageTimeToCompletion != 4 {
		t.Errorf("expected 4 days average, got %v", m.AverageTimeToCompletion)
	}
	if m.NeedingFollowUp != 1 {
		t.Errorf("expected 1 needing follow-up, got %d", m.NeedingFollowUp)
	}
}

func TestComputeMetrics_RatesBounded(t *testing.T) {
	referrals := []*Referral{
		{Status: StatusCompleted, ReferredDate: daysAgo(3)},
		{Status: StatusCompleted, ReferredDate: daysAgo(3)},
	}
	m := ComputeMetrics(referrals, refNow)
	for name, v := range map[string]float64{"closed_loop": m.ClosedLoopRate, "success": m.SuccessRate} {
		if v < 0 || v > 100 {
			t.Errorf("%s rate out of range: %v", name, v)
		}
	}
	if m.SuccessRate != 100 {
		t.Errorf("expected 100, got %v", m.SuccessRate)
	}
}
