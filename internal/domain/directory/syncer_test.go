package directory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/metrics"
)

// fakeAdapter serves fixed pages of {"id","name","category","description"}
// records.
type fakeAdapter struct {
	name  string
	pages [][]string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

type fakeRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (f *fakeAdapter) Provider() string { return f.name }

func (f *fakeAdapter) SearchResources(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Page > len(f.pages) {
		return &SearchPage{Page: req.Page}, nil
	}
	page := &SearchPage{Page: req.Page, HasMore: req.Page < len(f.pages)}
	for _, rec := range f.pages[req.Page-1] {
		page.Records = append(page.Records, json.RawMessage(rec))
	}
	return page, nil
}

func (f *fakeAdapter) GetResource(context.Context, string) (json.RawMessage, error) {
	return nil, ErrNotFound
}

func (f *fakeAdapter) ConvertToInternalFormat(raw json.RawMessage) (*resource.CommunityResource, error) {
	var rec fakeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, errors.New("missing id")
	}
	id := rec.ID
	return &resource.CommunityResource{
		ExternalID:  &id,
		Name:        rec.Name,
		Description: rec.Description,
		Category:    resource.Category(rec.Category),
	}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newCatalog() *resource.Service {
	return resource.NewService(resource.NewInMemoryRepository(), zerolog.Nop())
}

func TestSyncAll_ImportsAllProviders(t *testing.T) {
	catalog := newCatalog()
	a := &fakeAdapter{name: "alpha", pages: [][]string{
		{`{"id":"a1","name":"Pantry","category":"food"}`, `{"id":"a2","name":"Shelter","category":"housing"}`},
		{`{"id":"a3","name":"Clinic","category":"healthcare"}`},
	}}
	b := &fakeAdapter{name: "beta", pages: [][]string{{`{"id":"b1","name":"Legal Aid","category":"legal"}`}}}
	s := NewSyncer(catalog, zerolog.Nop(), a, b)

	report := s.SyncAll(context.Background(), SyncRequest{})
	if report.Created != 4 || report.Updated != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Providers) != 2 || report.Providers[0].Provider != "alpha" || report.Providers[0].Pages != 2 {
		t.Errorf("unexpected provider reports %+v", report.Providers)
	}

	report = s.SyncAll(context.Background(), SyncRequest{Providers: []string{"alpha"}})
	if report.Created != 0 || report.Updated != 3 {
		t.Errorf("expected re-sync to update, got %+v", report)
	}
	all, _ := catalog.GetAll(context.Background())
	if len(all) != 4 {
		t.Errorf("expected 4 catalog entries, got %d", len(all))
	}
}

func TestSyncAll_ProviderFailureIsIsolated(t *testing.T) {
	catalog := newCatalog()
	good := &fakeAdapter{name: "good", pages: [][]string{{`{"id":"g1","name":"Pantry","category":"food"}`}}}
	bad := &fakeAdapter{name: "bad", err: errors.New("connection refused")}
	s := NewSyncer(catalog, zerolog.Nop(), good, bad)

	report := s.SyncAll(context.Background(), SyncRequest{})
	if report.Failed != 1 || report.Created != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, p := range report.Providers {
		switch p.Provider {
		case "bad":
			if !strings.Contains(p.Error, "connection refused") {
				t.Errorf("expected captured error, got %q", p.Error)
			}
		case "good":
			if p.Error != "" {
				t.Errorf("good provider should not fail: %q", p.Error)
			}
		}
	}
}

// panickyAdapter blows up while converting its second record.
type panickyAdapter struct {
	fakeAdapter
	converted int
}

func (p *panickyAdapter) ConvertToInternalFormat(raw json.RawMessage) (*resource.CommunityResource, error) {
	p.converted++
	if p.converted > 1 {
		panic("unexpected record shape")
	}
	return p.fakeAdapter.ConvertToInternalFormat(raw)
}

func TestSyncAll_ProviderPanicIsIsolated(t *testing.T) {
	catalog := newCatalog()
	good := &fakeAdapter{name: "good", pages: [][]string{{`{"id":"g1","name":"Pantry","category":"food"}`}}}
	bad := &panickyAdapter{fakeAdapter: fakeAdapter{name: "bad", pages: [][]string{
		{`{"id":"p1","name":"Shelter","category":"housing"}`, `{"id":"p2","name":"Clinic","category":"healthcare"}`},
	}}}
	s := NewSyncer(catalog, zerolog.Nop(), good, bad)
	m := metrics.New(nil)
	s.SetMetrics(m)

	report := s.SyncAll(context.Background(), SyncRequest{})
	if report.Failed != 1 || report.Created != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, p := range report.Providers {
		switch p.Provider {
		case "bad":
			if !strings.Contains(p.Error, "panicked") || p.Created != 1 {
				t.Errorf("expected recorded panic with partial progress, got %+v", p)
			}
		case "good":
			if p.Error != "" || p.Created != 1 {
				t.Errorf("good provider should be unaffected: %+v", p)
			}
		}
	}
	if got := testutil.ToFloat64(m.SyncRuns.WithLabelValues("bad", "error")); got != 1 {
		t.Errorf("expected error sync run for panicking provider, got %v", got)
	}
}

func TestSyncAll_ProviderTimeout(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: time.Second, pages: [][]string{{`{"id":"s1","name":"x","category":"food"}`}}}
	s := NewSyncer(newCatalog(), zerolog.Nop(), slow)
	s.SetTimeout(20 * time.Millisecond)

	start := time.Now()
	report := s.SyncAll(context.Background(), SyncRequest{})
	if time.Since(start) > 500*time.Millisecond {
		t.Error("sync should stop at the provider timeout")
	}
	if report.Failed != 1 || !strings.Contains(report.Providers[0].Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline error, got %+v", report.Providers[0])
	}
}

func TestSyncAll_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	bad := &fakeAdapter{name: "flaky", err: errors.New("503")}
	m := metrics.New(nil)
	s := NewSyncer(newCatalog(), zerolog.Nop(), bad)
	s.SetMetrics(m)

	for i := 0; i < breakerFailures; i++ {
		s.SyncAll(context.Background(), SyncRequest{})
	}
	if s.BreakerState("flaky") != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", s.BreakerState("flaky"))
	}

	report := s.SyncAll(context.Background(), SyncRequest{})
	if bad.callCount() != breakerFailures {
		t.Errorf("open breaker should not call the provider, got %d calls", bad.callCount())
	}
	if !strings.Contains(report.Providers[0].Error, gobreaker.ErrOpenState.Error()) {
		t.Errorf("expected open-state error, got %q", report.Providers[0].Error)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("directory:flaky")); got != float64(gobreaker.StateOpen) {
		t.Errorf("expected breaker gauge %d, got %v", gobreaker.StateOpen, got)
	}
	if got := testutil.ToFloat64(m.SyncRuns.WithLabelValues("flaky", "error")); got != float64(breakerFailures+1) {
		t.Errorf("expected %d failed runs, got %v", breakerFailures+1, got)
	}
}

func TestSyncAll_SkipsBadRecordsAndSanitizes(t *testing.T) {
	catalog := newCatalog()
	a := &fakeAdapter{name: "alpha", pages: [][]string{{
		`{"id":"a1","name":"<b>Pantry</b>","category":"food","description":"<script>x()</script>Fresh &amp; canned food"}`,
		`{"id":"a2","name":"Unknown","category":"space_travel"}`,
		`{"name":"no id","category":"food"}`,
		`not json`,
	}}}
	s := NewSyncer(catalog, zerolog.Nop(), a)

	report := s.SyncAll(context.Background(), SyncRequest{})
	p := report.Providers[0]
	if p.Fetched != 4 || p.Created != 1 || p.Skipped != 3 || p.Error != "" {
		t.Fatalf("unexpected provider report %+v", p)
	}

	all, _ := catalog.GetAll(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(all))
	}
	if all[0].Name != "Pantry" || all[0].Description != "Fresh & canned food" {
		t.Errorf("expected sanitized text, got %q / %q", all[0].Name, all[0].Description)
	}
	if all[0].SourceProvider == nil || *all[0].SourceProvider != "alpha" {
		t.Errorf("expected source provider alpha, got %v", all[0].SourceProvider)
	}
}

func TestSyncAll_UnknownProviderAndMaxPages(t *testing.T) {
	a := &fakeAdapter{name: "alpha", pages: [][]string{
		{`{"id":"a1","name":"One","category":"food"}`},
		{`{"id":"a2","name":"Two","category":"food"}`},
	}}
	s := NewSyncer(newCatalog(), zerolog.Nop(), a)

	report := s.SyncAll(context.Background(), SyncRequest{Providers: []string{"alpha", "gamma"}, MaxPages: 1})
	if report.Providers[0].Pages != 1 || report.Providers[0].Created != 1 {
		t.Errorf("expected one page, got %+v", report.Providers[0])
	}
	if report.Providers[1].Error == "" || report.Failed != 1 {
		t.Errorf("expected unknown provider error, got %+v", report.Providers[1])
	}
}

func TestSyncer_Gateway(t *testing.T) {
	fh := NewFindhelpAdapter(ProviderConfig{APIURL: "http://unused", APIKey: "k"})
	fake := &fakeAdapter{name: "alpha"}
	s := NewSyncer(newCatalog(), zerolog.Nop(), fh, fake)

	if _, ok := s.Gateway(ProviderFindhelp); !ok {
		t.Error("findhelp should expose a referral gateway")
	}
	if _, ok := s.Gateway("alpha"); ok {
		t.Error("fake adapter has no referral gateway")
	}
	if got := s.Providers(); len(got) != 2 || got[0] != "alpha" {
		t.Errorf("unexpected providers %v", got)
	}
}
