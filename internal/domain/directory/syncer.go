package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
	"github.com/ehr/sdoh/internal/platform/metrics"
	"github.com/ehr/sdoh/internal/platform/sanitize"
)

const (
	// DefaultProviderTimeout bounds one provider's whole sync run.
	DefaultProviderTimeout = 2 * time.Minute
	// DefaultMaxPages caps how many pages a sync pulls per provider.
	DefaultMaxPages = 20

	breakerFailures = 3
	breakerCooldown = time.Minute
)

// Upserter stores imported resources. *resource.Service implements it.
type Upserter interface {
	UpsertExternal(ctx context.Context, provider string, r *resource.CommunityResource) (created bool, err error)
}

// SyncRequest selects what to import. Empty Providers means all.
type SyncRequest struct {
	Query       string           `json:"query,omitempty"`
	Zip         string           `json:"zip,omitempty"`
	Location    *geo.Coordinates `json:"location,omitempty"`
	RadiusMiles float64          `json:"radius_miles,omitempty"`
	Providers   []string         `json:"providers,omitempty"`
	MaxPages    int              `json:"max_pages,omitempty"`
}

// ProviderReport is the outcome of syncing one provider. Error is set when
// the provider could not be read; records fetched before that still count.
type ProviderReport struct {
	Provider   string `json:"provider"`
	Pages      int    `json:"pages"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type SyncReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Providers  []ProviderReport `json:"providers"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed_providers"`
}

// Syncer pulls every configured directory into the catalog. Providers run
// concurrently, each under its own timeout and circuit breaker.
type Syncer struct {
	catalog  Upserter
	adapters map[string]Adapter
	breakers map[string]*gobreaker.CircuitBreaker
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSyncer(catalog Upserter, logger zerolog.Logger, adapters ...Adapter) *Syncer {
	s := &Syncer{
		catalog:  catalog,
		adapters: make(map[string]Adapter, len(adapters)),
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(adapters)),
		timeout:  DefaultProviderTimeout,
		logger:   logger.With().Str("component", "directory-sync").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, a := range adapters {
		s.adapters[a.Provider()] = a
		s.breakers[a.Provider()] = s.newBreaker(a.Provider())
	}
	return s
}

// SetTimeout sets the per-provider deadline. Non-positive values are ignored.
func (s *Syncer) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func (s *Syncer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Providers lists configured provider names in sorted order.
func (s *Syncer) Providers() []string {
	out := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Adapter returns the adapter registered for provider.
func (s *Syncer) Adapter(provider string) (Adapter, bool) {
	a, ok := s.adapters[provider]
	return a, ok
}

// Gateway returns the provider's referral gateway when it has one.
func (s *Syncer) Gateway(provider string) (ReferralGateway, bool) {
	a, ok := s.adapters[provider]
	if !ok {
		return nil, false
	}
	g, ok := a.(ReferralGateway)
	return g, ok
}

// BreakerState reports the circuit state for provider.
func (s *Syncer) BreakerState(provider string) gobreaker.State {
	if b, ok := s.breakers[provider]; ok {
		return b.State()
	}
	return gobreaker.StateClosed
}

func (s *Syncer) newBreaker(provider string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory:" + provider,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller-side cancellation says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			if s.metrics != nil {
				s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// SyncAll imports from every requested provider and reports per-provider
// results. Provider failures are captured in the report, never returned.
func (s *Syncer) SyncAll(ctx context.Context, req SyncRequest) SyncReport {
	report := SyncReport{StartedAt: s.now()}

	names := req.Providers
	if len(names) == 0 {
		names = s.Providers()
	}
	report.Providers = make([]ProviderReport, len(names))

	var g errgroup.Group
	for i, name := range names {
		a, ok := s.adapters[name]
		if !ok {
			report.Providers[i] = ProviderReport{Provider: name, Error: "provider not configured"}
			continue
		}
		i, a := i, a
		g.Go(func() error {
			report.Providers[i] = s.syncProvider(ctx, a, req)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range report.Providers {
		report.Created += p.Created
		report.Updated += p.Updated
		report.Skipped += p.Skipped
		if p.Error != "" {
			report.Failed++
		}
	}
	report.FinishedAt = s.now()
	s.logger.Info().Int("providers", len(names)).Int("created", report.Created).
		Int("updated", report.Updated).Int("failed_providers", report.Failed).Msg("directory sync finished")
	return report
}

func (s *Syncer) syncProvider(ctx context.Context, a Adapter, req SyncRequest) ProviderReport {
	start := time.Now()
	provider := a.Provider()
	rep := ProviderReport{Provider: provider}
	log := s.logger.With().Str("provider", provider).Logger()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// A misbehaving adapter fails its own provider entry, never the sync run.
	func() {
		defer func() {
			if p := recover(); p != nil {
				rep.Error = fmt.Sprintf("provider panicked: %v", p)
				log.Error().Interface("panic", p).Msg("directory provider panicked")
			}
		}()
		s.importPages(ctx, a, req, &rep, log)
	}()

	rep.DurationMS = time.Since(start).Milliseconds()
	if s.metrics != nil {
		result := "ok"
		if rep.Error != "" {
			result = "error"
		}
		s.metrics.SyncRuns.WithLabelValues(provider, result).Inc()
		metrics.ObserveSince(s.metrics.SyncDuration.WithLabelValues(provider), start)
		s.metrics.SyncRecords.WithLabelValues(provider, "created").Add(float64(rep.Created))
		s.metrics.SyncRecords.WithLabelValues(provider, "updated").Add(float64(rep.Updated))
		s.metrics.SyncRecords.WithLabelValues(provider, "skipped").Add(float64(rep.Skipped))
	}
	log.Info().Int("pages", rep.Pages).Int("fetched", rep.Fetched).Int("created", rep.Created).
		Int("updated", rep.Updated).Int("skipped", rep.Skipped).Msg("provider sync finished")
	return rep
}

func (s *Syncer) importPages(ctx context.Context, a Adapter, req SyncRequest, rep *ProviderReport, log zerolog.Logger) {
	provider := a.Provider()
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	breaker := s.breakers[provider]
	search := SearchRequest{Query: req.Query, Zip: req.Zip, Location: req.Location, RadiusMiles: req.RadiusMiles}

	for page := 1; page <= maxPages; page++ {
		search.Page = page
		res, err := breaker.Execute(func() (interface{}, error) {
			return a.SearchResources(ctx, search)
		})
		if err != nil {
			rep.Error = fmt.Sprintf("page %d: %v", page, err)
			log.Error().Err(err).Int("page", page).Msg("directory search failed")
			break
		}
		result := res.(*SearchPage)
		rep.Pages++
		rep.Fetched += len(result.Records)

		for _, raw := range result.Records {
			r, err := a.ConvertToInternalFormat(raw)
			if err != nil {
				rep.Skipped++
				log.Warn().Err(err).Msg("skipping unconvertible record")
				continue
			}
			cleanResource(r)
			created, err := s.catalog.UpsertExternal(ctx, provider, r)
			if err != nil {
				rep.Skipped++
				log.Warn().Err(err).Str("external_id", deref(r.ExternalID)).Msg("skipping record the catalog rejected")
				continue
			}
			if created {
				rep.Created++
			} else {
				rep.Updated++
			}
		}
		if !result.HasMore {
			break
		}
	}
}

// cleanResource strips markup from every free-text field a provider sent.
func cleanResource(r *resource.CommunityResource) {
	r.Name = sanitize.Text(r.Name)
	r.Description = sanitize.Text(r.Description)
	r.OrganizationName = sanitize.Text(r.OrganizationName)
	r.Subcategories = sanitize.Strings(r.Subcategories)
	r.Tags = sanitize.Strings(r.Tags)
	r.Languages = sanitize.Strings(r.Languages)
	for i := range r.Services {
		r.Services[i].Name = sanitize.Text(r.Services[i].Name)
		r.Services[i].Description = sanitize.Text(r.Services[i].Description)
	}
	if e := r.Eligibility; e != nil {
		e.Requirements = sanitize.Strings(e.Requirements)
		e.DocumentsRequired = sanitize.Strings(e.DocumentsRequired)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
