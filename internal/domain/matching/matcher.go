package matching

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/pkg/pagination"
)

// FindMatches filters resources by c, annotates the survivors with distance,
// score, eligibility and availability, sorts them and returns the requested
// page. It reads nothing but its arguments and never modifies resources.
func FindMatches(resources []*resource.CommunityResource, c SearchCriteria, now time.Time) SearchResponse {
	origin := c.origin()
	matched := make([]SearchResult, 0, len(resources))
	for _, r := range resources {
		dist := nearestDistance(r, origin)
		if !passes(r, &c, dist) {
			continue
		}
		score, reasons := Score(r, &c, dist)
		matched = append(matched, SearchResult{
			Resource:     r,
			Distance:     dist,
			MatchScore:   score,
			MatchReasons: reasons,
			Eligibility:  CheckEligibility(r.Eligibility, c.Patient),
			Availability: availabilityOf(r, now),
		})
	}

	sortResults(matched, c.SortBy, c.SortOrder)

	pg := pagination.Normalize(c.Limit, c.Offset)
	return SearchResponse{
		Results: pagination.Page(matched, pg),
		Total:   len(matched),
		Offset:  pg.Offset,
		Limit:   pg.Limit,
	}
}

func availabilityOf(r *resource.CommunityResource, now time.Time) Availability {
	a := Availability{HasRoom: r.Capacity.HasRoom()}
	if r.Capacity != nil {
		a.Status = r.Capacity.Status
		a.Slots = r.Capacity.Available
		a.WaitlistWeeks = r.Capacity.WaitlistWeeks
	}
	if open, known := r.IsOpenAt(now); known {
		a.OpenNow = &open
	}
	return a
}

// defaultOrder is descending for score and rating, ascending otherwise.
func defaultOrder(field SortField) SortOrder {
	switch field {
	case SortByDistance, SortByName:
		return OrderAsc
	default:
		return OrderDesc
	}
}

// sortResults orders results by field. Results missing the sort key
// (no distance, no rating) always go last. Ties fall back to name, then id.
func sortResults(results []SearchResult, field SortField, order SortOrder) {
	if field == "" {
		field = SortByScore
	}
	if order == "" {
		order = defaultOrder(field)
	}
	desc := order == OrderDesc

	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		switch field {
		case SortByDistance:
			if c, decided := compareOptional(a.Distance, b.Distance, desc); decided {
				return c
			}
		case SortByRating:
			if c, decided := compareOptional(a.Resource.Rating, b.Resource.Rating, desc); decided {
				return c
			}
		case SortByName:
			an, bn := strings.ToLower(a.Resource.Name), strings.ToLower(b.Resource.Name)
			if an != bn {
				if desc {
					return an > bn
				}
				return an < bn
			}
		default:
			if a.MatchScore != b.MatchScore {
				if desc {
					return a.MatchScore > b.MatchScore
				}
				return a.MatchScore < b.MatchScore
			}
		}
		return tieBreak(a.Resource, b.Resource)
	})
}

// compareOptional orders two optional values with nil last. decided is
// false when the values are equal.
func compareOptional(a, b *float64, desc bool) (less, decided bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case *a == *b:
		return false, false
	case desc:
		return *a > *b, true
	default:
		return *a < *b, true
	}
}

func tieBreak(a, b *resource.CommunityResource) bool {
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}
