package resource

import (
	"strings"
	"time"

	"github.com/ehr/sdoh/internal/platform/geo"
)

// Category classifies the social need a resource addresses.
type Category string

const (
	CategoryHousing        Category = "housing"
	CategoryFood           Category = "food"
	CategoryTransportation Category = "transportation"
	CategoryUtilities      Category = "utilities"
	CategoryEmployment     Category = "employment"
	CategoryEducation      Category = "education"
	CategoryHealthcare     Category = "healthcare"
	CategoryMentalHealth   Category = "mental_health"
	CategorySubstanceUse   Category = "substance_use"
	CategoryChildcare      Category = "childcare"
	CategoryLegal          Category = "legal"
	CategoryFinancial      Category = "financial"
	CategorySafety         Category = "safety"
	CategorySocialSupport  Category = "social_support"
	CategoryClothing       Category = "clothing"
	CategoryPersonalCare   Category = "personal_care"
	CategoryOther          Category = "other"
)

var validCategories = map[Category]bool{
	CategoryHousing: true, CategoryFood: true, CategoryTransportation: true,
	CategoryUtilities: true, CategoryEmployment: true, CategoryEducation: true,
	CategoryHealthcare: true, CategoryMentalHealth: true, CategorySubstanceUse: true,
	CategoryChildcare: true, CategoryLegal: true, CategoryFinancial: true,
	CategorySafety: true, CategorySocialSupport: true, CategoryClothing: true,
	CategoryPersonalCare: true, CategoryOther: true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return validCategories[c] }

type DeliveryMethod string

const (
	DeliveryInPerson  DeliveryMethod = "in_person"
	DeliveryPhone     DeliveryMethod = "phone"
	DeliveryVirtual   DeliveryMethod = "virtual"
	DeliveryHomeVisit DeliveryMethod = "home_visit"
	DeliveryMobile    DeliveryMethod = "mobile"
)

type CostType string

const (
	CostFree         CostType = "free"
	CostSlidingScale CostType = "sliding_scale"
	CostFixedFee     CostType = "fixed_fee"
	CostInsurance    CostType = "insurance"
)

type CapacityStatus string

const (
	CapacityAvailable CapacityStatus = "available"
	CapacityLimited   CapacityStatus = "limited"
	CapacityFull      CapacityStatus = "full"
	CapacityWaitlist  CapacityStatus = "waitlist"
)

// IncomeRuleType selects how an IncomeRule threshold is computed.
type IncomeRuleType string

const (
	IncomeAbsolute IncomeRuleType = "absolute"
	IncomeFPL      IncomeRuleType = "fpl"
)

type Address struct {
	Line1 string `json:"line1,omitempty"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

type Location struct {
	Name        string           `json:"name,omitempty"`
	Address     Address          `json:"address"`
	Coordinates *geo.Coordinates `json:"coordinates,omitempty"`
	IsPrimary   bool             `json:"is_primary,omitempty"`
}

type ServiceOffering struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	DeliveryMethod DeliveryMethod `json:"delivery_method,omitempty"`
	CostType       CostType       `json:"cost_type,omitempty"`
}

// IncomeRule caps household income. Absolute rules compare against MaxIncome;
// FPL rules compare against Percentage of the federal poverty level.
type IncomeRule struct {
	Type       IncomeRuleType `json:"type"`
	MaxIncome  *float64       `json:"max_income,omitempty"`
	Percentage *float64       `json:"percentage,omitempty"`
}

type Eligibility struct {
	AgeMin            *int        `json:"age_min,omitempty"`
	AgeMax            *int        `json:"age_max,omitempty"`
	Income            *IncomeRule `json:"income,omitempty"`
	ServiceArea       []string    `json:"service_area,omitempty"`
	GeographicScope   string      `json:"geographic_scope,omitempty"`
	InsuranceAccepted []string    `json:"insurance_accepted,omitempty"`
	Requirements      []string    `json:"requirements,omitempty"`
	DocumentsRequired []string    `json:"documents_required,omitempty"`
}

// OperatingHours is one open interval on a weekday, times as "HH:MM".
type OperatingHours struct {
	Day   time.Weekday `json:"day"`
	Open  string       `json:"open"`
	Close string       `json:"close"`
}

type Accessibility struct {
	Wheelchair    bool `json:"wheelchair,omitempty"`
	Interpreter   bool `json:"interpreter,omitempty"`
	SignLanguage  bool `json:"sign_language,omitempty"`
	TransitNearby bool `json:"transit_nearby,omitempty"`
}

type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

type Capacity struct {
	Status        CapacityStatus `json:"status"`
	Available     *int           `json:"available,omitempty"`
	Total         *int           `json:"total,omitempty"`
	WaitlistWeeks *int           `json:"waitlist_weeks,omitempty"`
}

// HasRoom reports whether the resource can take someone. Only a full
// resource with no open slots has no room.
func (c *Capacity) HasRoom() bool {
	if c == nil {
		return true
	}
	if c.Status == CapacityFull && (c.Available == nil || *c.Available <= 0) {
		return false
	}
	return true
}

// CommunityResource is a community-based organization program in the catalog.
type CommunityResource struct {
	ID                string            `json:"id"`
	ExternalID        *string           `json:"external_id,omitempty"`
	SourceProvider    *string           `json:"source_provider,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	OrganizationName  string            `json:"organization_name,omitempty"`
	Category          Category          `json:"category"`
	Subcategories     []string          `json:"subcategories,omitempty"`
	TaxonomyCodes     []string          `json:"taxonomy_codes,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	Locations         []Location        `json:"locations,omitempty"`
	Services          []ServiceOffering `json:"services,omitempty"`
	Eligibility       *Eligibility      `json:"eligibility,omitempty"`
	Hours             []OperatingHours  `json:"hours,omitempty"`
	Languages         []string          `json:"languages,omitempty"`
	Accessibility     Accessibility     `json:"accessibility"`
	Contact           Contact           `json:"contact"`
	Verified          bool              `json:"verified"`
	VerifiedDate      *time.Time        `json:"verified_date,omitempty"`
	VerifiedBy        *string           `json:"verified_by,omitempty"`
	AcceptsReferrals  bool              `json:"accepts_referrals"`
	ClosedLoopEnabled bool              `json:"closed_loop_enabled"`
	Capacity          *Capacity         `json:"capacity,omitempty"`
	Rating            *float64          `json:"rating,omitempty"`
	ReviewCount       int               `json:"review_count,omitempty"`
	IsActive          bool              `json:"is_active"`
	CreatedAt         time.Time         `json:"created_at"`
	LastUpdated       time.Time         `json:"last_updated"`
}

// SearchText is the lower-cased text keyword queries run against.
func (r *CommunityResource) SearchText() string {
	parts := make([]string, 0, 2+len(r.Subcategories)+len(r.Tags))
	parts = append(parts, r.Name, r.Description)
	parts = append(parts, r.Subcategories...)
	parts = append(parts, r.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// MatchesKeywords reports whether every whitespace-separated token of query
// appears somewhere in the resource's search text. An empty query matches.
func (r *CommunityResource) MatchesKeywords(query string) bool {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return true
	}
	text := r.SearchText()
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return true
}

// Coordinates returns the coordinates of every location that has them.
func (r *CommunityResource) Coordinates() []geo.Coordinates {
	var out []geo.Coordinates
	for _, loc := range r.Locations {
		if loc.Coordinates != nil {
			out = append(out, *loc.Coordinates)
		}
	}
	return out
}

// IsFree reports whether any offered service is free of charge.
func (r *CommunityResource) IsFree() bool {
	for _, s := range r.Services {
		if s.CostType == CostFree {
			return true
		}
	}
	return false
}

// IsOpenAt reports whether the resource lists hours covering t. known is
// false when the resource lists no hours at all.
func (r *CommunityResource) IsOpenAt(t time.Time) (open, known bool) {
	if len(r.Hours) == 0 {
		return false, false
	}
	minute := t.Hour()*60 + t.Minute()
	for _, h := range r.Hours {
		if h.Day != t.Weekday() {
			continue
		}
		from, ok1 := parseClock(h.Open)
		to, ok2 := parseClock(h.Close)
		if !ok1 || !ok2 {
			continue
		}
		if minute >= from && minute < to {
			return true, true
		}
	}
	return false, true
}

// Clone returns a deep copy so callers can never mutate catalog state.
func (r *CommunityResource) Clone() *CommunityResource {
	if r == nil {
		return nil
	}
	c := *r
	c.ExternalID = clonePtr(r.ExternalID)
	c.SourceProvider = clonePtr(r.SourceProvider)
	c.Subcategories = cloneSlice(r.Subcategories)
	c.TaxonomyCodes = cloneSlice(r.TaxonomyCodes)
	c.Tags = cloneSlice(r.Tags)
	c.Languages = cloneSlice(r.Languages)
	c.Services = cloneSlice(r.Services)
	c.Hours = cloneSlice(r.Hours)
	c.VerifiedDate = clonePtr(r.VerifiedDate)
	c.VerifiedBy = clonePtr(r.VerifiedBy)
	c.Rating = clonePtr(r.Rating)
	if r.Locations != nil {
		c.Locations = make([]Location, len(r.Locations))
		for i, loc := range r.Locations {
			loc.Coordinates = clonePtr(loc.Coordinates)
			c.Locations[i] = loc
		}
	}
	if r.Eligibility != nil {
		e := *r.Eligibility
		e.AgeMin = clonePtr(e.AgeMin)
		e.AgeMax = clonePtr(e.AgeMax)
		if e.Income != nil {
			inc := *e.Income
			inc.MaxIncome = clonePtr(inc.MaxIncome)
			inc.Percentage = clonePtr(inc.Percentage)
			e.Income = &inc
		}
		e.ServiceArea = cloneSlice(e.ServiceArea)
		e.InsuranceAccepted = cloneSlice(e.InsuranceAccepted)
		e.Requirements = cloneSlice(e.Requirements)
		e.DocumentsRequired = cloneSlice(e.DocumentsRequired)
		c.Eligibility = &e
	}
	if r.Capacity != nil {
		cp := *r.Capacity
		cp.Available = clonePtr(cp.Available)
		cp.Total = clonePtr(cp.Total)
		cp.WaitlistWeeks = clonePtr(cp.WaitlistWeeks)
		c.Capacity = &cp
	}
	return &c
}

// Tokenize lower-cases s and splits it on whitespace.
func Tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
