package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/ehr/sdoh/internal/domain/resource"
)

// Criterion weights. A criterion contributes to the maximum only when the
// caller supplied it, so omitted criteria never lower a score.
const (
	WeightCategory         = 30.0
	WeightSubcategory      = 20.0
	WeightKeyword          = 15.0
	WeightDistance         = 10.0
	WeightLanguage         = 10.0
	WeightVerified         = 5.0
	WeightAcceptsReferrals = 5.0
	WeightCapacity         = 5.0
	WeightHighRating       = 5.0

	HighRatingThreshold = 4.5
)

// distancePoints maps a distance in miles onto the distance tiers.
func distancePoints(miles float64) float64 {
	switch {
	case miles <= 1:
		return 10
	case miles <= 5:
		return 8
	case miles <= 10:
		return 5
	case miles <= 25:
		return 2
	default:
		return 0
	}
}

// Score computes the normalized 0-100 match score of r against c and the
// reasons behind it. distance is nil when no origin was supplied or r has
// no coordinates.
func Score(r *resource.CommunityResource, c *SearchCriteria, distance *float64) (int, []string) {
	var (
		score, maxScore float64
		reasons         []string
	)

	if len(c.Categories) > 0 {
		maxScore += WeightCategory
		for _, cat := range c.Categories {
			if r.Category == cat {
				score += WeightCategory
				reasons = append(reasons, fmt.Sprintf("Matches %s category", cat))
				break
			}
		}
	}

	if n := len(c.Subcategories); n > 0 {
		maxScore += WeightSubcategory
		matched := 0
		for _, want := range c.Subcategories {
			if containsFold(r.Subcategories, want) {
				matched++
			}
		}
		if matched > 0 {
			score += float64(matched) / float64(n) * WeightSubcategory
			reasons = append(reasons, fmt.Sprintf("Matches %d of %d requested services", matched, n))
		}
	}

	if tokens := resource.Tokenize(c.Keywords); len(tokens) > 0 {
		maxScore += WeightKeyword
		text := keywordText(r)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				matched++
			}
		}
		if matched > 0 {
			score += float64(matched) / float64(len(tokens)) * WeightKeyword
			reasons = append(reasons, fmt.Sprintf("Matches %d of %d keywords", matched, len(tokens)))
		}
	}

	if c.origin() != nil {
		maxScore += WeightDistance
		if distance != nil {
			if pts := distancePoints(*distance); pts > 0 {
				score += pts
				reasons = append(reasons, fmt.Sprintf("%.1f miles away", *distance))
			}
		}
	}

	if langs := c.requestedLanguages(); len(langs) > 0 {
		maxScore += WeightLanguage
		var spoken []string
		for _, l := range langs {
			if containsFold(r.Languages, l) {
				spoken = append(spoken, l)
			}
		}
		if len(spoken) > 0 {
			score += float64(len(spoken)) / float64(len(langs)) * WeightLanguage
			reasons = append(reasons, "Services available in "+strings.Join(spoken, ", "))
		}
	}

	maxScore += WeightVerified
	if r.Verified {
		score += WeightVerified
		reasons = append(reasons, "Verified resource")
	}

	maxScore += WeightAcceptsReferrals
	if r.AcceptsReferrals {
		score += WeightAcceptsReferrals
		reasons = append(reasons, "Accepts referrals")
	}

	maxScore += WeightCapacity
	if r.Capacity.HasRoom() {
		score += WeightCapacity
		reasons = append(reasons, "Has capacity")
	}

	if r.Rating != nil && *r.Rating >= HighRatingThreshold {
		maxScore += WeightHighRating
		score += WeightHighRating
		reasons = append(reasons, fmt.Sprintf("Highly rated (%.1f)", *r.Rating))
	}

	if reasons == nil {
		reasons = []string{}
	}
	return normalize(score, maxScore), reasons
}

func normalize(score, maxScore float64) int {
	if maxScore <= 0 {
		return 0
	}
	pct := int(math.Round(score / maxScore * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// keywordText is the text keyword relevance is scored against. Tags only
// participate in keyword filtering, not scoring.
func keywordText(r *resource.CommunityResource) string {
	parts := make([]string, 0, 2+len(r.Subcategories))
	parts = append(parts, r.Name, r.Description)
	parts = append(parts, r.Subcategories...)
	return strings.ToLower(strings.Join(parts, " "))
}
