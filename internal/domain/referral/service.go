package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/events"
	"github.com/ehr/sdoh/internal/platform/lock"
	"github.com/ehr/sdoh/internal/platform/metrics"
	"github.com/ehr/sdoh/internal/platform/sanitize"
)

// maxConflictRetries bounds re-reads after a version conflict. Conflicts
// only happen when another process wrote the same referral between our
// read and write.
const maxConflictRetries = 3

// ResourceLookup resolves the resource a referral points at.
type ResourceLookup interface {
	Get(ctx context.Context, id string) (*resource.CommunityResource, error)
}

type Service struct {
	referrals Repository
	resources ResourceLookup
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(referrals Repository, resources ResourceLookup, logger zerolog.Logger) *Service {
	return &Service{
		referrals: referrals,
		resources: resources,
		locker:    lock.NewKeyedMutex(),
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "referral").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker replaces the default in-process per-referral lock.
func (s *Service) SetLocker(l lock.Locker) {
	s.locker = l
}

func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// CreateInput is what a coordinator supplies to open a referral.
type CreateInput struct {
	PatientID    string            `json:"patient_id"`
	ResourceID   string            `json:"resource_id"`
	Need         resource.Category `json:"need,omitempty"`
	Urgency      Urgency           `json:"urgency,omitempty"`
	ReferredBy   string            `json:"referred_by,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ReferredDate *time.Time        `json:"referred_date,omitempty"`
	FollowUpDate *time.Time        `json:"follow_up_date,omitempty"`
}

func (in *CreateInput) validate() error {
	var errs ValidationErrors
	if in.PatientID == "" {
		errs.add("patient_id", "is required")
	}
	if in.ResourceID == "" {
		errs.add("resource_id", "is required")
	}
	if in.Need != "" && !in.Need.Valid() {
		errs.add("need", "unknown category")
	}
	switch in.Urgency {
	case "", UrgencyRoutine, UrgencyUrgent, UrgencyEmergent:
	default:
		errs.add("urgency", "must be routine, urgent or emergent")
	}
	return errs.orNil()
}

// CreateReferral opens a pending referral to an existing resource. The need
// defaults to the resource's category and the referred date to now.
func (s *Service) CreateReferral(ctx context.Context, in CreateInput) (*Referral, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	// the catalog takes the same lock before deciding to hard-delete
	unlock, err := s.locker.Lock(ctx, resourceLockKey(in.ResourceID))
	if err != nil {
		return nil, fmt.Errorf("lock resource %s: %w", in.ResourceID, err)
	}
	defer unlock()

	res, err := s.resources.Get(ctx, in.ResourceID)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, in.ResourceID)
		}
		return nil, fmt.Errorf("look up resource %s: %w", in.ResourceID, err)
	}

	now := s.now()
	r := &Referral{
		ID:              uuid.New().String(),
		PatientID:       in.PatientID,
		ResourceID:      in.ResourceID,
		Need:            in.Need,
		Status:          StatusPending,
		Urgency:         in.Urgency,
		ReferredBy:      in.ReferredBy,
		Notes:           sanitize.Text(in.Notes),
		ReferredDate:    now,
		ContactAttempts: []ContactAttempt{},
		Outcomes:        []Outcome{},
		StatusHistory:   []StatusChange{{To: StatusPending, ChangedBy: in.ReferredBy, ChangedAt: now}},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if r.Need == "" {
		r.Need = res.Category
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyRoutine
	}
	if in.ReferredDate != nil {
		r.ReferredDate = in.ReferredDate.UTC()
	}
	if in.FollowUpDate != nil {
		d := in.FollowUpDate.UTC()
		r.FollowUpRequired = true
		r.FollowUpDate = &d
	}

	if err := s.referrals.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ReferralsCreated.Inc()
	}
	s.logger.Info().Str("referral_id", r.ID).Str("resource_id", r.ResourceID).
		Str("need", string(r.Need)).Msg("referral created")
	s.publish(ctx, r, events.TypeReferralCreated, func(e *events.Event) {
		e.ToStatus = string(r.Status)
		e.Actor = r.ReferredBy
	})
	return r, nil
}

// mutate applies fn to the latest copy of a referral under its lock and
// persists the result with a version check, re-reading on conflict so
// concurrent appends are never lost.
func (s *Service) mutate(ctx context.Context, id string, fn func(r *Referral) error) (*Referral, error) {
	unlock, err := s.locker.Lock(ctx, "referral:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock referral %s: %w", id, err)
	}
	defer unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		cur, err := s.referrals.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()

		err = s.referrals.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Warn().Str("referral_id", id).Int("attempt", attempt+1).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update referral %s: %w", id, err)
		}
		return next, nil
	}
	return nil, ErrVersionConflict
}

// transition moves r to status to and records the change. Entering a closed
// state stamps ClosedDate; re-opening clears it.
func transition(r *Referral, to Status, reason, by string, at time.Time) {
	r.StatusHistory = append(r.StatusHistory, StatusChange{
		From:      r.Status,
		To:        to,
		Reason:    reason,
		ChangedBy: by,
		ChangedAt: at,
	})
	r.Status = to
	switch {
	case to.IsClosed():
		r.ClosedDate = &at
	case to == StatusPending:
		r.ClosedDate = nil
	}
}

// UpdateStatus performs an explicit transition along the state graph.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, reason, by string) (*Referral, error) {
	if !to.Valid() {
		return nil, ValidationErrors{{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}}
	}
	var from Status
	r, err := s.mutate(ctx, id, func(r *Referral) error {
		from = r.Status
		if !CanTransition(r.Status, to) {
			return &InvalidTransitionError{From: r.Status, To: to}
		}
		transition(r, to, sanitize.Text(reason), by, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReferralTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	s.logger.Info().Str("referral_id", id).Str("from", string(from)).Str("to", string(to)).Msg("referral status changed")
	s.publish(ctx, r, events.TypeReferralStatusChanged, func(e *events.Event) {
		e.FromStatus = string(from)
		e.ToStatus = string(to)
		e.Actor = by
	})
	return r, nil
}

// ContactInput describes one attempt to reach the patient or the provider.
type ContactInput struct {
	Date        *time.Time    `json:"date,omitempty"`
	Method      ContactMethod `json:"method"`
	Result      string        `json:"result,omitempty"`
	Successful  bool          `json:"successful"`
	ContactedBy string        `json:"contacted_by,omitempty"`
}

// RecordContactAttempt appends a contact attempt. It never changes status.
func (s *Service) RecordContactAttempt(ctx context.Context, id string, in ContactInput) (*Referral, error) {
	if !validContactMethods[in.Method] {
		return nil, ValidationErrors{{Field: "method", Message: "must be phone, email, text, in_person, portal or fax"}}
	}
	attempt := ContactAttempt{
		ID:          uuid.New().String(),
		Date:        s.now(),
		Method:      in.Method,
		Result:      sanitize.Text(in.Result),
		Successful:  in.Successful,
		ContactedBy: in.ContactedBy,
	}
	if in.Date != nil {
		attempt.Date = in.Date.UTC()
	}

	r, err := s.mutate(ctx, id, func(r *Referral) error {
		r.ContactAttempts = append(r.ContactAttempts, attempt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, r, events.TypeContactAttempted, func(e *events.Event) {
		e.Actor = in.ContactedBy
	})
	return r, nil
}

// OutcomeInput reports how a referral turned out. Success defaults to true
// for need_met and need_partially_met.
type OutcomeInput struct {
	Type       OutcomeType `json:"type"`
	Success    *bool       `json:"success,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	RecordedBy string      `json:"recorded_by,omitempty"`
}

// RecordOutcome appends an outcome. A need_met outcome completes the
// referral and stamps ClosedDate; it is rejected on a cancelled referral.
func (s *Service) RecordOutcome(ctx context.Context, id string, in OutcomeInput) (*Referral, error) {
	if !validOutcomeTypes[in.Type] {
		return nil, ValidationErrors{{Field: "type", Message: fmt.Sprintf("unknown outcome type %q", in.Type)}}
	}
	success := in.Type == OutcomeNeedMet || in.Type == OutcomeNeedPartiallyMet
	if in.Success != nil {
		success = *in.Success
	}

	var completedFrom Status
	r, err := s.mutate(ctx, id, func(r *Referral) error {
		completedFrom = ""
		if in.Type == OutcomeNeedMet && r.Status == StatusCancelled {
			return &InvalidTransitionError{From: r.Status, To: StatusCompleted}
		}
		now := s.now()
		r.Outcomes = append(r.Outcomes, Outcome{
			ID:         uuid.New().String(),
			Type:       in.Type,
			Success:    success,
			Notes:      sanitize.Text(in.Notes),
			RecordedAt: now,
			RecordedBy: in.RecordedBy,
		})
		if in.Type == OutcomeNeedMet && r.Status != StatusCompleted {
			completedFrom = r.Status
			transition(r, StatusCompleted, "need met", in.RecordedBy, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReferralOutcomes.WithLabelValues(string(in.Type)).Inc()
		if completedFrom != "" {
			s.metrics.ReferralTransitions.WithLabelValues(string(completedFrom), string(StatusCompleted)).Inc()
		}
	}
	s.logger.Info().Str("referral_id", id).Str("outcome", string(in.Type)).Bool("success", success).Msg("referral outcome recorded")
	s.publish(ctx, r, events.TypeOutcomeRecorded, func(e *events.Event) {
		e.OutcomeType = string(in.Type)
		e.FromStatus = string(completedFrom)
		e.ToStatus = string(r.Status)
		e.Actor = in.RecordedBy
	})
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Referral, error) {
	return s.referrals.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Referral, error) {
	return s.referrals.List(ctx, f)
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]*Referral, error) {
	return s.referrals.List(ctx, Filter{PatientID: patientID})
}

func (s *Service) ListByResource(ctx context.Context, resourceID string) ([]*Referral, error) {
	return s.referrals.List(ctx, Filter{ResourceID: resourceID})
}

// NeedingFollowUp lists referrals matching f that have gone quiet.
func (s *Service) NeedingFollowUp(ctx context.Context, f Filter) ([]*Referral, error) {
	all, err := s.referrals.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*Referral, 0)
	for _, r := range all {
		if NeedsFollowUp(r, now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Metrics computes closed-loop metrics over the referrals matching f.
func (s *Service) Metrics(ctx context.Context, f Filter) (Metrics, error) {
	all, err := s.referrals.List(ctx, f)
	if err != nil {
		return Metrics{}, err
	}
	return ComputeMetrics(all, s.now()), nil
}

// ReferenceCount lets the catalog refuse hard deletes of resources any
// referral has pointed at. Closed referrals count too: most can re-open.
func (s *Service) ReferenceCount(ctx context.Context, resourceID string) (int, error) {
	return s.referrals.CountByResource(ctx, resourceID)
}

// LockResource holds off new referrals to resourceID until unlock is called.
func (s *Service) LockResource(ctx context.Context, resourceID string) (unlock func(), err error) {
	return s.locker.Lock(ctx, resourceLockKey(resourceID))
}

func resourceLockKey(id string) string { return "resource:" + id }

// publish emits a lifecycle event. Failures are logged, never returned: the
// referral change is already committed.
func (s *Service) publish(ctx context.Context, r *Referral, typ string, fill func(e *events.Event)) {
	e := events.Event{
		ID:         uuid.New().String(),
		Type:       typ,
		ReferralID: r.ID,
		PatientID:  r.PatientID,
		ResourceID: r.ResourceID,
		Version:    r.Version,
		OccurredAt: s.now(),
	}
	fill(&e)

	result := "ok"
	if err := s.publisher.Publish(ctx, e); err != nil {
		result = "error"
		s.logger.Error().Err(err).Str("referral_id", r.ID).Str("event_type", typ).Msg("failed to publish referral event")
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(result).Inc()
	}
}
