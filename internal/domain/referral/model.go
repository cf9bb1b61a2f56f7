package referral

import (
	"time"

	"github.com/ehr/sdoh/internal/domain/resource"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAccepted     Status = "accepted"
	StatusContacted    Status = "contacted"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusDeclined     Status = "declined"
	StatusNoShow       Status = "no_show"
	StatusUnsuccessful Status = "unsuccessful"
	StatusCancelled    Status = "cancelled"
)

type Urgency string

const (
	UrgencyRoutine  Urgency = "routine"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyEmergent Urgency = "emergent"
)

type ContactMethod string

const (
	ContactPhone    ContactMethod = "phone"
	ContactEmail    ContactMethod = "email"
	ContactText     ContactMethod = "text"
	ContactInPerson ContactMethod = "in_person"
	ContactPortal   ContactMethod = "portal"
	ContactFax      ContactMethod = "fax"
)

var validContactMethods = map[ContactMethod]bool{
	ContactPhone: true, ContactEmail: true, ContactText: true,
	ContactInPerson: true, ContactPortal: true, ContactFax: true,
}

type OutcomeType string

const (
	OutcomeNeedMet          OutcomeType = "need_met"
	OutcomeNeedPartiallyMet OutcomeType = "need_partially_met"
	OutcomeDeclined         OutcomeType = "declined"
	OutcomeUnreachable      OutcomeType = "unreachable"
	OutcomeIneligible       OutcomeType = "ineligible"
	OutcomeWaitlisted       OutcomeType = "waitlisted"
	OutcomeNoShow           OutcomeType = "no_show"
	OutcomeOther            OutcomeType = "other"
)

var validOutcomeTypes = map[OutcomeType]bool{
	OutcomeNeedMet: true, OutcomeNeedPartiallyMet: true, OutcomeDeclined: true,
	OutcomeUnreachable: true, OutcomeIneligible: true, OutcomeWaitlisted: true,
	OutcomeNoShow: true, OutcomeOther: true,
}

type ContactAttempt struct {
	ID          string        `json:"id"`
	Date        time.Time     `json:"date"`
	Method      ContactMethod `json:"method"`
	Result      string        `json:"result,omitempty"`
	Successful  bool          `json:"successful"`
	ContactedBy string        `json:"contacted_by,omitempty"`
}

type Outcome struct {
	ID         string      `json:"id"`
	Type       OutcomeType `json:"type"`
	Success    bool        `json:"success"`
	Notes      string      `json:"notes,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
	RecordedBy string      `json:"recorded_by,omitempty"`
}

type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Referral tracks one patient's referral to one community resource through
// to a documented outcome. Contact attempts, outcomes and status history are
// append-only.
type Referral struct {
	ID               string            `json:"id"`
	PatientID        string            `json:"patient_id"`
	ResourceID       string            `json:"resource_id"`
	Need             resource.Category `json:"need,omitempty"`
	Status           Status            `json:"status"`
	Urgency          Urgency           `json:"urgency"`
	ReferredBy       string            `json:"referred_by,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	ReferredDate     time.Time         `json:"referred_date"`
	ClosedDate       *time.Time        `json:"closed_date,omitempty"`
	ContactAttempts  []ContactAttempt  `json:"contact_attempts"`
	Outcomes         []Outcome         `json:"outcomes"`
	FollowUpRequired bool              `json:"follow_up_required"`
	FollowUpDate     *time.Time        `json:"follow_up_date,omitempty"`
	StatusHistory    []StatusChange    `json:"status_history"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// LastContact returns the most recent contact attempt date.
func (r *Referral) LastContact() (time.Time, bool) {
	var last time.Time
	for _, a := range r.ContactAttempts {
		if a.Date.After(last) {
			last = a.Date
		}
	}
	return last, len(r.ContactAttempts) > 0
}

// Clone returns a deep copy.
func (r *Referral) Clone() *Referral {
	if r == nil {
		return nil
	}
	c := *r
	if r.ClosedDate != nil {
		t := *r.ClosedDate
		c.ClosedDate = &t
	}
	if r.FollowUpDate != nil {
		t := *r.FollowUpDate
		c.FollowUpDate = &t
	}
	c.ContactAttempts = copyList(r.ContactAttempts)
	c.Outcomes = copyList(r.Outcomes)
	c.StatusHistory = copyList(r.StatusHistory)
	return &c
}

// copyList never returns nil so the lists always encode as JSON arrays.
func copyList[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Filter selects referrals for listing and metrics. Empty fields match all.
type Filter struct {
	PatientID  string
	ResourceID string
	Status     Status
	Need       resource.Category
	From       *time.Time
	To         *time.Time
}

// Matches reports whether r satisfies f. From/To bound ReferredDate.
func (f Filter) Matches(r *Referral) bool {
	if f.PatientID != "" && r.PatientID != f.PatientID {
		return false
	}
	if f.ResourceID != "" && r.ResourceID != f.ResourceID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Need != "" && r.Need != f.Need {
		return false
	}
	if f.From != nil && r.ReferredDate.Before(*f.From) {
		return false
	}
	if f.To != nil && r.ReferredDate.After(*f.To) {
		return false
	}
	return true
}
