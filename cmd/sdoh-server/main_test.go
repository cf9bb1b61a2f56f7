package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/sdoh/internal/config"
	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/auth"
	"github.com/ehr/sdoh/internal/platform/db"
)

const testSigningKey = "server-test-signing-key"

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   env,
		Storage:               config.StorageMemory,
		CORSOrigins:           []string{"http://localhost:3000"},
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		BodyLimit:             "1M",
		RequestTimeout:        5 * time.Second,
		SyncProviderTimeout:   time.Minute,
		VerificationStaleDays: 90,
		AuthSigningKey:        testSigningKey,
	}
}

func newTestApp(t *testing.T, env string) *app {
	t.Helper()
	a, err := buildApp(context.Background(), testConfig(env), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, a *app, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	newServer(a).ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, roles ...string) http.Header {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "coordinator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + signed}}
}

func TestServer_HealthInMemory(t *testing.T) {
	a := newTestApp(t, "development")

	rec := do(t, a, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}

	rec = do(t, a, http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /health/db to be absent without postgres, got %d", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	a := newTestApp(t, "development")
	do(t, a, http.MethodGet, "/health", "", nil)

	rec := do(t, a, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Error("expected HTTP request counter in scrape output")
	}
}

func TestServer_ResourceMatchReferralFlow(t *testing.T) {
	a := newTestApp(t, "development")

	rec := do(t, a, http.MethodPost, "/api/v1/resources",
		`{"name":"Eastside Food Pantry","category":"food","accepts_referrals":true}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create resource: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created resource.CommunityResource
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode resource: %v", err)
	}

	rec = do(t, a, http.MethodPost, "/api/v1/matches/search", `{"categories":["food"]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var matches struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &matches); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if matches.Total != 1 {
		t.Errorf("expected 1 match, got %d", matches.Total)
	}

	rec = do(t, a, http.MethodPost, "/api/v1/referrals",
		`{"patient_id":"patient-1","resource_id":"`+created.ID+`","urgency":"routine"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create referral: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// an open referral turns the delete into a deactivation
	rec = do(t, a, http.MethodDelete, "/api/v1/resources/"+created.ID, "", nil)
	if rec.Code >= 300 {
		t.Fatalf("delete resource: got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := a.resources.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("expected resource to survive as inactive: %v", err)
	}
	if got.IsActive {
		t.Error("expected resource to be deactivated")
	}
}

func TestServer_JWTRequiredOutsideDevelopment(t *testing.T) {
	a := newTestApp(t, "staging")

	if rec := do(t, a, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health should bypass auth, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/v1/resources", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/v1/resources", "", bearer(t, auth.RoleCareCoordinator)); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a coordinator, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, a, http.MethodPost, "/api/v1/directory/sync", "", bearer(t, auth.RoleCareCoordinator)); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a coordinator on sync, got %d", rec.Code)
	}
}

func TestServer_DirectorySyncWithoutProviders(t *testing.T) {
	a := newTestApp(t, "development")

	rec := do(t, a, http.MethodPost, "/api/v1/directory/sync", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with no providers configured, got %d", rec.Code)
	}
}

func TestDirectoryAdapters(t *testing.T) {
	cfg := testConfig("development")
	if got := directoryAdapters(cfg); len(got) != 0 {
		t.Fatalf("expected no adapters without credentials, got %d", len(got))
	}

	cfg.FindhelpAPIKey = "fh-key"
	cfg.FindhelpAPIURL = "https://findhelp.example.org"
	cfg.TwoOneOneAPIKey = "211-key"
	cfg.TwoOneOneAPIURL = "https://211.example.org"
	got := directoryAdapters(cfg)
	if len(got) != 2 {
		t.Fatalf("expected 2 adapters, got %d", len(got))
	}
	if got[0].Provider() != "findhelp" || got[1].Provider() != "211" {
		t.Errorf("unexpected providers %q, %q", got[0].Provider(), got[1].Provider())
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig("production")
	cfg.LogLevel = "warn"
	if lvl := newLogger(cfg).GetLevel(); lvl != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", lvl)
	}
	cfg.LogLevel = "nonsense"
	if lvl := newLogger(cfg).GetLevel(); lvl != zerolog.InfoLevel {
		t.Errorf("expected info fallback, got %s", lvl)
	}
}

func TestPrintVerificationSweep(t *testing.T) {
	verifiedAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stale := []*resource.CommunityResource{
		{ID: "r1", Name: "Westside Shelter", Category: resource.Category("housing")},
		{ID: "r2", Name: "Ride Share Program", Category: resource.Category("transportation"), Verified: true, VerifiedDate: &verifiedAt},
	}

	var buf bytes.Buffer
	printVerificationSweep(&buf, stale, 90)
	out := buf.String()
	for _, want := range []string{"2 resource(s)", "more than 90 days", "Westside Shelter", "never", "2024-01-15"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_sdoh_core.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied    2024-06-01 09:30:00") {
		t.Errorf("expected applied row:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("got %q", got)
	}
}

func TestServer_ReferralEventsReachPartnerWebhook(t *testing.T) {
	a := newTestApp(t, "development")

	received := make(chan string, 4)
	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer partner.Close()

	rec := do(t, a, http.MethodPost, "/api/v1/webhooks", `{"url":"`+partner.URL+`","events":["referral.created"]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register webhook: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, a, http.MethodPost, "/api/v1/resources", `{"name":"Warm Meals","category":"food"}`, nil)
	var res resource.CommunityResource
	_ = json.Unmarshal(rec.Body.Bytes(), &res)

	rec = do(t, a, http.MethodPost, "/api/v1/referrals", `{"patient_id":"patient-9","resource_id":"`+res.ID+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create referral: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case typ := <-received:
		if typ != "referral.created" {
			t.Errorf("unexpected event type %q", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("partner webhook was not called")
	}
}

func TestServer_SandboxSeedDevOnly(t *testing.T) {
	a := newTestApp(t, "development")

	rec := do(t, a, http.MethodPost, "/api/v1/sandbox/seed", `{"resource_count":12,"seed":5}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, a, http.MethodGet, "/api/v1/resources", "", nil)
	var page struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode resources: %v", err)
	}
	if page.Total != 12 {
		t.Errorf("expected 12 seeded resources, got %d", page.Total)
	}

	staging := newTestApp(t, "staging")
	rec = do(t, staging, http.MethodPost, "/api/v1/sandbox/seed", "", bearer(t, auth.RoleAdmin))
	if rec.Code != http.StatusNotFound {
		t.Errorf("staging seed route: expected 404, got %d", rec.Code)
	}
}

func TestServer_SlowPartnerDoesNotDelayReferralWrites(t *testing.T) {
	a := newTestApp(t, "development")

	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(partner.Close)

	rec := do(t, a, http.MethodPost, "/api/v1/webhooks", `{"url":"`+partner.URL+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register webhook: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, a, http.MethodPost, "/api/v1/resources", `{"name":"Warm Meals","category":"food"}`, nil)
	var res resource.CommunityResource
	_ = json.Unmarshal(rec.Body.Bytes(), &res)

	start := time.Now()
	rec = do(t, a, http.MethodPost, "/api/v1/referrals", `{"patient_id":"patient-3","resource_id":"`+res.ID+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create referral: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ref struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &ref)

	rec = do(t, a, http.MethodPost, "/api/v1/referrals/"+ref.ID+"/contact-attempts", `{"method":"phone","successful":true}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("contact attempt: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("referral writes took %s behind a slow partner endpoint", elapsed)
	}
}
