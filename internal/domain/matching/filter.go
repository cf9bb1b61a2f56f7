package matching

import (
	"strings"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

// nearestDistance returns the distance from origin to the closest located
// site of r, or nil when either side has no coordinates.
func nearestDistance(r *resource.CommunityResource, origin *geo.Coordinates) *float64 {
	if origin == nil {
		return nil
	}
	_, miles, ok := geo.Nearest(*origin, r.Coordinates())
	if !ok {
		return nil
	}
	return &miles
}

// passes applies every hard filter in c to r. Filters combine with AND, so
// adding a constraint can only shrink the result set.
func passes(r *resource.CommunityResource, c *SearchCriteria, distance *float64) bool {
	if c.activeOnly() && !r.IsActive {
		return false
	}
	if c.VerifiedOnly && !r.Verified {
		return false
	}
	if len(c.Categories) > 0 && !hasCategory(c.Categories, r.Category) {
		return false
	}
	if len(c.Subcategories) > 0 && !anyFold(c.Subcategories, r.Subcategories) {
		return false
	}
	if len(c.TaxonomyCodes) > 0 && !matchesTaxonomy(c.TaxonomyCodes, r.TaxonomyCodes) {
		return false
	}
	if c.Keywords != "" && !r.MatchesKeywords(c.Keywords) {
		return false
	}
	if !matchesLocation(r, c, distance) {
		return false
	}
	if len(c.Languages) > 0 && !anyFold(c.Languages, r.Languages) {
		return false
	}
	if len(c.DeliveryMethods) > 0 && !offersDelivery(r, c.DeliveryMethods) {
		return false
	}
	if c.AcceptsReferrals && !r.AcceptsReferrals {
		return false
	}
	if c.ClosedLoopOnly && !r.ClosedLoopEnabled {
		return false
	}
	if c.FreeOnly && !r.IsFree() {
		return false
	}
	if c.HasCapacity && !r.Capacity.HasRoom() {
		return false
	}
	if c.OpenAt != nil {
		if open, _ := r.IsOpenAt(*c.OpenAt); !open {
			return false
		}
	}
	return true
}

// matchesLocation requires every supplied location constraint to hold:
// radius from a point, zip, city and state. Unset constraints do not filter.
func matchesLocation(r *resource.CommunityResource, c *SearchCriteria, distance *float64) bool {
	if c.RadiusMiles != nil && c.origin() != nil {
		if distance == nil || *distance > *c.RadiusMiles {
			return false
		}
	}
	if zip := strings.TrimSpace(c.Zip); zip != "" {
		if !anyAddress(r, func(a resource.Address) bool { return strings.TrimSpace(a.Zip) == zip }) {
			return false
		}
	}
	if city := strings.TrimSpace(c.City); city != "" {
		if !anyAddress(r, func(a resource.Address) bool { return strings.EqualFold(strings.TrimSpace(a.City), city) }) {
			return false
		}
	}
	if state := strings.TrimSpace(c.State); state != "" {
		if !anyAddress(r, func(a resource.Address) bool { return strings.EqualFold(strings.TrimSpace(a.State), state) }) {
			return false
		}
	}
	return true
}

func anyAddress(r *resource.CommunityResource, pred func(resource.Address) bool) bool {
	for _, loc := range r.Locations {
		if pred(loc.Address) {
			return true
		}
	}
	return false
}

func hasCategory(list []resource.Category, c resource.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// anyFold reports whether any wanted value is present in have, ignoring case.
func anyFold(wanted, have []string) bool {
	for _, w := range wanted {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}

// matchesTaxonomy treats requested codes as prefixes, so "BD-1800" matches
// the more specific "BD-1800.2000".
func matchesTaxonomy(wanted, have []string) bool {
	for _, w := range wanted {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, h := range have {
			if strings.HasPrefix(strings.ToUpper(h), w) {
				return true
			}
		}
	}
	return false
}

func offersDelivery(r *resource.CommunityResource, methods []resource.DeliveryMethod) bool {
	for _, s := range r.Services {
		for _, m := range methods {
			if s.DeliveryMethod == m {
				return true
			}
		}
	}
	return false
}
