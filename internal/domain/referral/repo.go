package referral

import "context"

// Repository persists referrals. Update is a compare-and-swap on Version:
// it stores r only if the stored version equals expectedVersion, and fails
// with ErrVersionConflict otherwise.
type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id string) (*Referral, error)
	Update(ctx context.Context, r *Referral, expectedVersion int) error
	List(ctx context.Context, f Filter) ([]*Referral, error)
	// CountByResource counts every referral to resourceID, open or closed.
	CountByResource(ctx context.Context, resourceID string) (int, error)
}
