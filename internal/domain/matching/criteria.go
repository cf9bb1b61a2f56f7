package matching

import (
	"time"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

// PatientContext carries the optional facts about a patient that eligibility
// and scoring can use. Every field may be absent.
type PatientContext struct {
	Age           *int             `json:"age,omitempty"`
	Income        *float64         `json:"income,omitempty"`
	HouseholdSize *int             `json:"household_size,omitempty"`
	Insurance     *string          `json:"insurance,omitempty"`
	Languages     []string         `json:"languages,omitempty"`
	Coordinates   *geo.Coordinates `json:"coordinates,omitempty"`
	Zip           string           `json:"zip,omitempty"`
	City          string           `json:"city,omitempty"`
	State         string           `json:"state,omitempty"`
}

type SortField string

const (
	SortByScore    SortField = "score"
	SortByDistance SortField = "distance"
	SortByName     SortField = "name"
	SortByRating   SortField = "rating"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// SearchCriteria is a matching query. Zero values mean "not constrained";
// ActiveOnly defaults to true when nil.
type SearchCriteria struct {
	// what
	Categories    []resource.Category `json:"categories,omitempty"`
	Subcategories []string            `json:"subcategories,omitempty"`
	TaxonomyCodes []string            `json:"taxonomy_codes,omitempty"`
	Keywords      string              `json:"keywords,omitempty"`

	// where; every supplied constraint must hold
	Location    *geo.Coordinates `json:"location,omitempty"`
	RadiusMiles *float64         `json:"radius_miles,omitempty"`
	Zip         string           `json:"zip,omitempty"`
	City        string           `json:"city,omitempty"`
	State       string           `json:"state,omitempty"`

	// who
	Patient *PatientContext `json:"patient,omitempty"`

	// when
	OpenAt *time.Time `json:"open_at,omitempty"`

	// how
	Languages       []string                  `json:"languages,omitempty"`
	DeliveryMethods []resource.DeliveryMethod `json:"delivery_methods,omitempty"`

	ActiveOnly       *bool `json:"active_only,omitempty"`
	VerifiedOnly     bool  `json:"verified_only,omitempty"`
	AcceptsReferrals bool  `json:"accepts_referrals,omitempty"`
	ClosedLoopOnly   bool  `json:"closed_loop_only,omitempty"`
	FreeOnly         bool  `json:"free_only,omitempty"`
	HasCapacity      bool  `json:"has_capacity,omitempty"`

	SortBy    SortField `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// origin is the point distances are measured from: the explicit search
// location, else the patient's coordinates.
func (c *SearchCriteria) origin() *geo.Coordinates {
	if c.Location != nil {
		return c.Location
	}
	if c.Patient != nil && c.Patient.Coordinates != nil {
		return c.Patient.Coordinates
	}
	return nil
}

// requestedLanguages are the languages scored for: explicit criteria
// languages, else the patient's preferred languages.
func (c *SearchCriteria) requestedLanguages() []string {
	if len(c.Languages) > 0 {
		return c.Languages
	}
	if c.Patient != nil {
		return c.Patient.Languages
	}
	return nil
}

func (c *SearchCriteria) activeOnly() bool {
	return c.ActiveOnly == nil || *c.ActiveOnly
}

// Availability summarizes whether a resource can take someone now.
type Availability struct {
	Status        resource.CapacityStatus `json:"status,omitempty"`
	HasRoom       bool                    `json:"has_room"`
	Slots         *int                    `json:"slots,omitempty"`
	WaitlistWeeks *int                    `json:"waitlist_weeks,omitempty"`
	// OpenNow is nil when the resource lists no hours.
	OpenNow *bool `json:"open_now,omitempty"`
}

// SearchResult pairs a resource with everything computed for it.
type SearchResult struct {
	Resource     *resource.CommunityResource `json:"resource"`
	Distance     *float64                    `json:"distance,omitempty"`
	MatchScore   int                         `json:"match_score"`
	MatchReasons []string                    `json:"match_reasons"`
	Eligibility  EligibilityResult           `json:"eligibility"`
	Availability Availability                `json:"availability"`
}

// SearchResponse is one page of results plus the total before paging.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
}
