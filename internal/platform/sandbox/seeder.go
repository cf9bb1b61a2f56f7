// Package sandbox generates synthetic community resources for demo and
// development environments. Output is reproducible for a given seed.
package sandbox

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

// SeedConfig controls the volume and placement of generated resources.
type SeedConfig struct {
	ResourceCount int             `json:"resource_count"`
	Center        geo.Coordinates `json:"center"`
	RadiusMiles   float64         `json:"radius_miles"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	Zips          []string        `json:"zips"`
	Seed          int64           `json:"seed"`
}

// DefaultSeedConfig places resources around downtown Cleveland.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		ResourceCount: 40,
		Center:        geo.Coordinates{Lat: 41.4993, Lng: -81.6944},
		RadiusMiles:   15,
		City:          "Cleveland",
		State:         "OH",
		Zips:          []string{"44102", "44103", "44105", "44113", "44115"},
	}
}

// SeedResult summarizes one seeding run.
type SeedResult struct {
	Resources  int                       `json:"resources"`
	ByCategory map[resource.Category]int `json:"by_category"`
	Duration   string                    `json:"duration"`
}

type template struct {
	category      resource.Category
	names         []string
	subcategories []string
	taxonomy      string
	tags          []string
}

var templates = []template{
	{resource.CategoryFood, []string{"Food Pantry", "Hot Meals Program", "Mobile Food Market"},
		[]string{"food_pantry", "meals", "groceries"}, "BD-1800", []string{"snap", "wic"}},
	{resource.CategoryHousing, []string{"Emergency Shelter", "Rental Assistance Program", "Housing Navigation Center"},
		[]string{"emergency_shelter", "rental_assistance", "transitional_housing"}, "BH-1800", []string{"homeless", "eviction"}},
	{resource.CategoryTransportation, []string{"Medical Ride Program", "Senior Shuttle"},
		[]string{"medical_transport", "bus_passes"}, "BT-4500", []string{"rides"}},
	{resource.CategoryUtilities, []string{"Utility Assistance Fund", "Winter Heating Help"},
		[]string{"energy_assistance", "water_bill"}, "BV-8900", []string{"liheap"}},
	{resource.CategoryEmployment, []string{"Job Readiness Center", "Workforce Training"},
		[]string{"job_training", "resume_help"}, "ND-1500", []string{"career"}},
	{resource.CategoryMentalHealth, []string{"Counseling Center", "Peer Support Line"},
		[]string{"counseling", "crisis_support"}, "RP-1500", []string{"therapy"}},
	{resource.CategoryLegal, []string{"Legal Aid Clinic", "Tenant Rights Project"},
		[]string{"tenant_rights", "benefits_appeals"}, "FT-3200", []string{"eviction"}},
	{resource.CategoryChildcare, []string{"Early Learning Center", "After School Program"},
		[]string{"daycare", "after_school"}, "PH-1250", []string{"kids"}},
}

var (
	neighborhoods = []string{"Eastside", "Northgate", "Riverside", "Lakeview", "Hillcrest", "Westpark", "Fairfax", "Ohio City"}
	streets       = []string{"Main St", "Euclid Ave", "Superior Ave", "Lorain Ave", "Carnegie Ave", "Detroit Ave"}
	languageSets  = [][]string{{"English"}, {"English", "Spanish"}, {"English", "Arabic"}, {"English", "Spanish", "Somali"}}
	insurances    = []string{"Medicaid", "Medicare", "CareSource", "Molina"}
)

// DataGenerator produces resources from a private random source.
type DataGenerator struct {
	rng *rand.Rand
	cfg SeedConfig
	now time.Time
	seq int
}

func NewDataGenerator(cfg SeedConfig, now time.Time) *DataGenerator {
	seed := cfg.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed)), cfg: cfg, now: now}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// point returns a location uniformly distributed within the configured
// radius of the center.
func (g *DataGenerator) point() geo.Coordinates {
	d := g.cfg.RadiusMiles * math.Sqrt(g.rng.Float64())
	theta := g.rng.Float64() * 2 * math.Pi
	const milesPerDegree = 69.0
	lat := g.cfg.Center.Lat + d*math.Cos(theta)/milesPerDegree
	lng := g.cfg.Center.Lng + d*math.Sin(theta)/(milesPerDegree*math.Cos(g.cfg.Center.Lat*math.Pi/180))
	return geo.Coordinates{Lat: math.Round(lat*1e5) / 1e5, Lng: math.Round(lng*1e5) / 1e5}
}

func (g *DataGenerator) phone() string {
	return fmt.Sprintf("(216) %03d-%04d", 200+g.rng.Intn(800), g.rng.Intn(10000))
}

// GenerateResource returns one synthetic resource with the category cycling
// through the template list.
func (g *DataGenerator) GenerateResource() *resource.CommunityResource {
	t := templates[g.seq%len(templates)]
	g.seq++

	hood := g.pick(neighborhoods)
	zip := ""
	if len(g.cfg.Zips) > 0 {
		zip = g.pick(g.cfg.Zips)
	}
	coords := g.point()
	org := hood + " Community Services"

	r := &resource.CommunityResource{
		Name:             fmt.Sprintf("%s %s", hood, g.pick(t.names)),
		Description:      fmt.Sprintf("Synthetic %s program serving %s residents.", t.category, g.cfg.City),
		OrganizationName: org,
		Category:         t.category,
		Subcategories:    []string{g.pick(t.subcategories)},
		TaxonomyCodes:    []string{t.taxonomy},
		Tags:             append([]string{"sandbox"}, t.tags...),
		Locations: []resource.Location{{
			Name: org,
			Address: resource.Address{
				Line1: fmt.Sprintf("%d %s", 100+g.rng.Intn(9000), g.pick(streets)),
				City:  g.cfg.City,
				State: g.cfg.State,
				Zip:   zip,
			},
			Coordinates: &coords,
			IsPrimary:   true,
		}},
		Services: []resource.ServiceOffering{{
			Name:           g.pick(t.names),
			DeliveryMethod: resource.DeliveryInPerson,
			CostType:       resource.CostFree,
		}},
		Languages: g.pickLanguages(),
		Accessibility: resource.Accessibility{
			Wheelchair:    g.rng.Intn(4) != 0,
			Interpreter:   g.rng.Intn(3) == 0,
			TransitNearby: g.rng.Intn(2) == 0,
		},
		Contact: resource.Contact{
			Phone:   g.phone(),
			Website: fmt.Sprintf("https://example.org/sandbox/%d", g.seq),
		},
		AcceptsReferrals:  g.rng.Intn(5) != 0,
		ClosedLoopEnabled: g.rng.Intn(2) == 0,
		Rating:            floatPtr(math.Round((3+2*g.rng.Float64())*10) / 10),
		ReviewCount:       g.rng.Intn(200),
	}

	if g.rng.Intn(4) == 0 {
		r.Services[0].CostType = resource.CostSlidingScale
		r.Services = append(r.Services, resource.ServiceOffering{
			Name:           "Phone intake",
			DeliveryMethod: resource.DeliveryPhone,
			CostType:       resource.CostFree,
		})
	}

	for d := time.Monday; d <= time.Friday; d++ {
		r.Hours = append(r.Hours, resource.OperatingHours{Day: d, Open: "09:00", Close: "17:00"})
	}
	if g.rng.Intn(3) == 0 {
		r.Hours = append(r.Hours, resource.OperatingHours{Day: time.Saturday, Open: "10:00", Close: "14:00"})
	}

	r.Eligibility = g.eligibility(zip)
	r.Capacity = g.capacity()

	if g.rng.Intn(10) < 7 {
		verified := g.now.AddDate(0, 0, -g.rng.Intn(200))
		by := "sandbox"
		r.Verified, r.VerifiedDate, r.VerifiedBy = true, &verified, &by
	}
	return r
}

func (g *DataGenerator) pickLanguages() []string {
	langs := languageSets[g.rng.Intn(len(languageSets))]
	return append([]string(nil), langs...)
}

func (g *DataGenerator) eligibility(zip string) *resource.Eligibility {
	e := &resource.Eligibility{}
	switch g.rng.Intn(4) {
	case 0:
		e.AgeMin = intPtr(18)
	case 1:
		e.AgeMin = intPtr(60)
	}
	if g.rng.Intn(3) == 0 {
		e.Income = &resource.IncomeRule{Type: resource.IncomeFPL, Percentage: floatPtr(200)}
	}
	if zip != "" && g.rng.Intn(3) == 0 {
		e.ServiceArea = []string{zip, g.cfg.City}
	}
	if g.rng.Intn(4) == 0 {
		e.InsuranceAccepted = []string{g.pick(insurances)}
	}
	if g.rng.Intn(3) == 0 {
		e.DocumentsRequired = []string{"Photo ID", "Proof of address"}
	}
	return e
}

func (g *DataGenerator) capacity() *resource.Capacity {
	total := 10 + g.rng.Intn(90)
	switch g.rng.Intn(6) {
	case 0:
		return &resource.Capacity{Status: resource.CapacityFull, Available: intPtr(0), Total: intPtr(total)}
	case 1:
		return &resource.Capacity{Status: resource.CapacityWaitlist, WaitlistWeeks: intPtr(1 + g.rng.Intn(8))}
	case 2:
		return &resource.Capacity{Status: resource.CapacityLimited, Available: intPtr(1 + g.rng.Intn(5)), Total: intPtr(total)}
	default:
		return &resource.Capacity{Status: resource.CapacityAvailable, Available: intPtr(total / 2), Total: intPtr(total)}
	}
}

// Catalog is where generated resources go.
type Catalog interface {
	Add(ctx context.Context, r *resource.CommunityResource) error
}

// Seeder writes generated resources into a catalog. It is safe to call Seed
// more than once; each run appends another batch.
type Seeder struct {
	mu      sync.Mutex
	catalog Catalog
	now     func() time.Time
}

func NewSeeder(catalog Catalog) *Seeder {
	return &Seeder{catalog: catalog, now: time.Now}
}

// Seed generates cfg.ResourceCount resources and adds them to the catalog.
// Zero values in cfg fall back to DefaultSeedConfig.
func (s *Seeder) Seed(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg = withDefaults(cfg)
	start := time.Now()
	gen := NewDataGenerator(cfg, s.now().UTC())
	result := &SeedResult{ByCategory: make(map[resource.Category]int)}

	for i := 0; i < cfg.ResourceCount; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r := gen.GenerateResource()
		if err := s.catalog.Add(ctx, r); err != nil {
			return result, fmt.Errorf("add %q: %w", r.Name, err)
		}
		result.Resources++
		result.ByCategory[r.Category]++
	}
	result.Duration = time.Since(start).String()
	return result, nil
}

func withDefaults(cfg SeedConfig) SeedConfig {
	def := DefaultSeedConfig()
	if cfg.ResourceCount <= 0 {
		cfg.ResourceCount = def.ResourceCount
	}
	if cfg.Center == (geo.Coordinates{}) {
		cfg.Center = def.Center
		if cfg.City == "" {
			cfg.City, cfg.State = def.City, def.State
		}
		if len(cfg.Zips) == 0 {
			cfg.Zips = def.Zips
		}
	}
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = def.RadiusMiles
	}
	return cfg
}
