package referral

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv(t)
	return NewHandler(env.svc), env, echo.New()
}

func jsonContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_CreateReferral(t *testing.T) {
	h, env, e := newTestHandler(t)
	c, rec := jsonContext(e, http.MethodPost, "/", `{"patient_id":"patient-1","resource_id":"`+env.resources+`","urgency":"urgent"}`)
	if err := h.CreateReferral(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Referral
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID == "" || got.Urgency != UrgencyUrgent || got.Status != StatusPending {
		t.Errorf("unexpected referral %+v", got)
	}
}

func TestHandler_CreateReferral_UnknownResource(t *testing.T) {
	h, _, e := newTestHandler(t)
	c, _ := jsonContext(e, http.MethodPost, "/", `{"patient_id":"patient-1","resource_id":"nope"}`)
	if code := httpCode(t, h.CreateReferral(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_CreateReferral_Invalid(t *testing.T) {
	h, _, e := newTestHandler(t)
	c, _ := jsonContext(e, http.MethodPost, "/", `{}`)
	if code := httpCode(t, h.CreateReferral(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestHandler_GetReferral_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	c, _ := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if code := httpCode(t, h.GetReferral(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, env, e := newTestHandler(t)
	r := env.create(t)

	c, rec := jsonContext(e, http.MethodPost, "/", `{"status":"sent","reason":"faxed"}`)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodPost, "/", `{"status":"completed"}`)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if code := httpCode(t, h.UpdateStatus(c)); code != http.StatusConflict {
		t.Errorf("expected 409 for invalid transition, got %d", code)
	}
}

func TestHandler_RecordContactAndOutcome(t *testing.T) {
	h, env, e := newTestHandler(t)
	r := env.create(t)

	c, rec := jsonContext(e, http.MethodPost, "/", `{"method":"phone","result":"spoke with patient","successful":true}`)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if err := h.RecordContactAttempt(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, rec = jsonContext(e, http.MethodPost, "/", `{"type":"need_met","notes":"picked up groceries"}`)
	c.SetParamNames("id")
	c.SetParamValues(r.ID)
	if err := h.RecordOutcome(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Referral
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCompleted || len(got.ContactAttempts) != 1 {
		t.Errorf("unexpected referral %s with %d attempts", got.Status, len(got.ContactAttempts))
	}
}

func TestHandler_ListReferrals_Filters(t *testing.T) {
	h, env, e := newTestHandler(t)
	r := env.create(t)
	env.create(t)
	env.walk(t, r.ID, StatusSent)

	c, rec := jsonContext(e, http.MethodGet, "/?status=sent", "")
	if err := h.ListReferrals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []Referral `json:"data"`
		Total int        `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].ID != r.ID {
		t.Errorf("expected only the sent referral, got %+v", page)
	}

	c, _ = jsonContext(e, http.MethodGet, "/?status=lost", "")
	if code := httpCode(t, h.ListReferrals(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	c, _ = jsonContext(e, http.MethodGet, "/?from=yesterday", "")
	if code := httpCode(t, h.ListReferrals(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetMetrics(t *testing.T) {
	h, env, e := newTestHandler(t)
	r := env.create(t)
	env.walk(t, r.ID, StatusSent, StatusAccepted, StatusInProgress, StatusCompleted)

	c, rec := jsonContext(e, http.MethodGet, "/", "")
	if err := h.GetMetrics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m Metrics
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Total != 1 || m.ClosedLoopRate != 100 || m.SuccessRate != 100 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestHandler_ListPatientReferrals(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.create(t)
	if _, err := env.svc.CreateReferral(context.Background(), CreateInput{PatientID: "patient-2", ResourceID: env.resources}); err != nil {
		t.Fatal(err)
	}

	c, rec := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("patientId")
	c.SetParamValues("patient-2")
	if err := h.ListPatientReferrals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one referral, got %s", rec.Body.String())
	}
}
