// Package events publishes referral lifecycle events for downstream
// reporting and closed-loop partners.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event types.
const (
	TypeReferralCreated       = "referral.created"
	TypeReferralStatusChanged = "referral.status_changed"
	TypeContactAttempted      = "referral.contact_attempted"
	TypeOutcomeRecorded       = "referral.outcome_recorded"
)

// Event is one referral lifecycle change. It is serialized as JSON.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ReferralID  string    `json:"referral_id"`
	PatientID   string    `json:"patient_id"`
	ResourceID  string    `json:"resource_id"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	OutcomeType string    `json:"outcome_type,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Version     int       `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory. Useful in tests and for
// single-node development runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned from every Publish.
	Err error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Multi fans each event out to every publisher in order. A failing
// publisher does not stop the rest; their errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
