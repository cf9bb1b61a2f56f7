package referral

import (
	"time"
)

// Follow-up thresholds.
const (
	FollowUpNoContactAfter    = 3 * 24 * time.Hour
	FollowUpStaleContactAfter = 7 * 24 * time.Hour
)

// Metrics summarizes a referral collection for closed-loop reporting.
// Rates are percentages in [0, 100] and are 0 for an empty collection.
type Metrics struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	Open            int            `json:"open"`
	Closed          int            `json:"closed"`
	ClosedLoopRate  float64        `json:"closed_loop_rate"`
	SuccessRate     float64        `json:"success_rate"`
	NeedingFollowUp int            `json:"needing_follow_up"`
	// AverageTimeToCompletion is in days, over referrals with a closed date.
	AverageTimeToCompletion float64 `json:"average_time_to_completion_days"`
}

// NeedsFollowUp reports whether a non-terminal referral has gone quiet: no
// contact attempt at all three days after referral, or a last contact at
// least seven days old. A scheduled follow-up date that has arrived also
// counts.
func NeedsFollowUp(r *Referral, now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if r.FollowUpRequired && r.FollowUpDate != nil && !now.Before(*r.FollowUpDate) {
		return true
	}
	last, ok := r.LastContact()
	if !ok {
		return now.Sub(r.ReferredDate) >= FollowUpNoContactAfter
	}
	return now.Sub(last) >= FollowUpStaleContactAfter
}

// isSuccessfulCompletion reports whether a completed referral met the need.
// A completion without any recorded outcome counts as successful; otherwise
// at least one outcome must be marked successful.
func isSuccessfulCompletion(r *Referral) bool {
	if r.Status != StatusCompleted {
		return false
	}
	if len(r.Outcomes) == 0 {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// ComputeMetrics is a pure function over referrals as of now.
func ComputeMetrics(referrals []*Referral, now time.Time) Metrics {
	m := Metrics{ByStatus: make(map[Status]int)}
	m.Total = len(referrals)
	if m.Total == 0 {
		return m
	}

	var (
		closedLoop, successful, decided int
		completionDays                  float64
		completions                     int
	)
	for _, r := range referrals {
		m.ByStatus[r.Status]++
		if r.Status.IsClosed() {
			m.Closed++
		} else {
			m.Open++
		}

		switch r.Status {
		case StatusCompleted, StatusUnsuccessful:
			closedLoop++
		}
		switch r.Status {
		case StatusCompleted, StatusUnsuccessful, StatusCancelled:
			decided++
		}
		if isSuccessfulCompletion(r) {
			successful++
		}
		if r.ClosedDate != nil {
			completionDays += r.ClosedDate.Sub(r.ReferredDate).Hours() / 24
			completions++
		}
		if NeedsFollowUp(r, now) {
			m.NeedingFollowUp++
		}
	}

	m.ClosedLoopRate = percent(closedLoop, m.Total)
	m.SuccessRate = percent(successful, decided)
	if completions > 0 {
		m.AverageTimeToCompletion = completionDays / float64(completions)
	}
	return m
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
