package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultVerificationDays is how old a verification may be before the
// resource is due for re-verification.
const DefaultVerificationDays = 90

// ReferenceChecker reports how many referrals point at a resource. While
// LockResource is held no new referral to that resource can be created.
type ReferenceChecker interface {
	LockResource(ctx context.Context, resourceID string) (unlock func(), err error)
	ReferenceCount(ctx context.Context, resourceID string) (int, error)
}

type Service struct {
	resources Repository
	refs      ReferenceChecker
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(resources Repository, logger zerolog.Logger) *Service {
	return &Service{
		resources: resources,
		logger:    logger.With().Str("component", "catalog").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetReferenceChecker attaches the referral lookup used by Delete.
func (s *Service) SetReferenceChecker(rc ReferenceChecker) {
	s.refs = rc
}

// Add validates and stores a new resource. New resources are active.
func (s *Service) Add(ctx context.Context, r *CommunityResource) error {
	if errs := Validate(r); errs != nil {
		return errs
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.now()
	r.CreatedAt = now
	r.LastUpdated = now
	r.IsActive = true
	if err := s.resources.Create(ctx, r); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*CommunityResource, error) {
	return s.resources.GetByID(ctx, id)
}

func (s *Service) GetAll(ctx context.Context) ([]*CommunityResource, error) {
	return s.resources.List(ctx, ListFilter{})
}

// GetByCategory lists active resources in category.
func (s *Service) GetByCategory(ctx context.Context, category Category) ([]*CommunityResource, error) {
	return s.resources.List(ctx, ListFilter{Category: &category, ActiveOnly: true})
}

// SearchByKeyword returns resources whose text contains every query token.
func (s *Service) SearchByKeyword(ctx context.Context, query string) ([]*CommunityResource, error) {
	all, err := s.resources.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]*CommunityResource, 0, len(all))
	for _, r := range all {
		if r.MatchesKeywords(query) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Update merges patch into the stored resource and stamps LastUpdated.
func (s *Service) Update(ctx context.Context, id string, patch *Patch) (*CommunityResource, error) {
	current, err := s.resources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	patch.Apply(next)
	if errs := Validate(next); errs != nil {
		return nil, errs
	}
	next.LastUpdated = s.now()
	if err := s.resources.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("update resource %s: %w", id, err)
	}
	return next, nil
}

// Delete removes a resource. A resource any referral has ever pointed at is
// deactivated instead, and softDeleted is true.
func (s *Service) Delete(ctx context.Context, id string) (softDeleted bool, err error) {
	if s.refs != nil {
		unlock, err := s.refs.LockResource(ctx, id)
		if err != nil {
			return false, fmt.Errorf("lock resource %s: %w", id, err)
		}
		defer unlock()
	}

	current, err := s.resources.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if s.refs != nil {
		referenced, err := s.refs.ReferenceCount(ctx, id)
		if err != nil {
			return false, fmt.Errorf("check referrals for %s: %w", id, err)
		}
		if referenced > 0 {
			current.IsActive = false
			current.LastUpdated = s.now()
			if err := s.resources.Update(ctx, current); err != nil {
				return false, fmt.Errorf("deactivate resource %s: %w", id, err)
			}
			s.logger.Info().Str("resource_id", id).Int("referrals", referenced).
				Msg("resource referenced by referrals, deactivated instead of deleted")
			return true, nil
		}
	}
	return false, s.resources.Delete(ctx, id)
}

// Verify stamps verification metadata on a resource.
func (s *Service) Verify(ctx context.Context, id, verifiedBy string) (*CommunityResource, error) {
	r, err := s.resources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r.Verified = true
	r.VerifiedDate = &now
	r.VerifiedBy = &verifiedBy
	r.LastUpdated = now
	if err := s.resources.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("verify resource %s: %w", id, err)
	}
	return r, nil
}

// NeedingVerification returns resources that were never verified or whose
// verification is more than days old. days <= 0 uses DefaultVerificationDays.
func (s *Service) NeedingVerification(ctx context.Context, days int) ([]*CommunityResource, error) {
	if days <= 0 {
		days = DefaultVerificationDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	all, err := s.resources.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	var out []*CommunityResource
	for _, r := range all {
		if !r.Verified || r.VerifiedDate == nil || r.VerifiedDate.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Snapshot returns a private copy of the whole catalog for matching.
func (s *Service) Snapshot(ctx context.Context) ([]*CommunityResource, error) {
	return s.resources.List(ctx, ListFilter{})
}

// UpsertExternal creates or refreshes a resource imported from an external
// directory, keyed by provider and external id. Catalog-owned fields
// (id, verification, active flag, created time) survive a refresh.
func (s *Service) UpsertExternal(ctx context.Context, provider string, r *CommunityResource) (created bool, err error) {
	if r.ExternalID == nil || *r.ExternalID == "" {
		return false, ValidationErrors{{Field: "external_id", Message: "is required for imported resources"}}
	}
	r.SourceProvider = &provider
	if errs := Validate(r); errs != nil {
		return false, errs
	}

	existing, err := s.resources.GetByExternalID(ctx, provider, *r.ExternalID)
	switch {
	case errors.Is(err, ErrNotFound):
		return true, s.Add(ctx, r)
	case err != nil:
		return false, err
	}

	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.Verified = existing.Verified
	r.VerifiedDate = existing.VerifiedDate
	r.VerifiedBy = existing.VerifiedBy
	r.IsActive = existing.IsActive
	r.LastUpdated = s.now()
	if err := s.resources.Update(ctx, r); err != nil {
		return false, fmt.Errorf("refresh resource %s: %w", r.ID, err)
	}
	return false, nil
}
