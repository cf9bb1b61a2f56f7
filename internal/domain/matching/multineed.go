package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehr/sdoh/internal/domain/resource"
)

// ErrNoNeeds is returned when a multi-need request names no needs.
var ErrNoNeeds = errors.New("at least one need category is required")

// NeedsRequest asks for matches for several needs at once. Base carries the
// filters, sort and page shared by every need; its Categories are replaced
// by each need in turn.
type NeedsRequest struct {
	Needs   []resource.Category `json:"needs"`
	Patient *PatientContext     `json:"patient,omitempty"`
	Base    SearchCriteria      `json:"criteria"`
}

// NeedMatches is the ranked result for one need.
type NeedMatches struct {
	Need     resource.Category `json:"need"`
	Results  []SearchResult    `json:"results"`
	Total    int               `json:"total"`
	TopMatch *SearchResult     `json:"top_match,omitempty"`
}

// MultiNeedResult lists per-need matches in request order.
type MultiNeedResult struct {
	Needs []NeedMatches `json:"needs"`
}

// Validate checks that at least one known need category is present.
func (r *NeedsRequest) Validate() error {
	if len(r.Needs) == 0 {
		return ErrNoNeeds
	}
	for _, n := range r.Needs {
		if !n.Valid() {
			return fmt.Errorf("unknown need category %q", n)
		}
	}
	return nil
}

// MatchNeeds runs one independent matching pass per need over the same
// resource snapshot. Passes run concurrently; resources is shared read-only,
// so a resource may appear under several needs.
func MatchNeeds(ctx context.Context, resources []*resource.CommunityResource, req NeedsRequest, now time.Time) (*MultiNeedResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := make([]NeedMatches, len(req.Needs))
	g, gctx := errgroup.WithContext(ctx)
	for i, need := range req.Needs {
		i, need := i, need
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := req.Base
			c.Categories = []resource.Category{need}
			if req.Patient != nil {
				c.Patient = req.Patient
			}
			resp := FindMatches(resources, c, now)

			nm := NeedMatches{Need: need, Results: resp.Results, Total: resp.Total}
			if len(resp.Results) > 0 {
				top := resp.Results[0]
				nm.TopMatch = &top
			}
			out[i] = nm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &MultiNeedResult{Needs: out}, nil
}
