package resource

import "context"

// ListFilter narrows List results. The zero value lists everything.
type ListFilter struct {
	Category   *Category
	ActiveOnly bool
}

type Repository interface {
	Create(ctx context.Context, r *CommunityResource) error
	GetByID(ctx context.Context, id string) (*CommunityResource, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*CommunityResource, error)
	Update(ctx context.Context, r *CommunityResource) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*CommunityResource, error)
}
