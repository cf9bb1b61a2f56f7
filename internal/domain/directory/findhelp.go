package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

const (
	ProviderFindhelp        = "findhelp"
	findhelpDefaultPageSize = 50
)

type findhelpOffice struct {
	Name      string                       `json:"name"`
	Address1  string                       `json:"address1"`
	Address2  string                       `json:"address2"`
	City      string                       `json:"city"`
	State     string                       `json:"state"`
	Postal    string                       `json:"postal"`
	Latitude  *float64                     `json:"latitude"`
	Longitude *float64                     `json:"longitude"`
	Phone     string                       `json:"phone_number"`
	Primary   bool                         `json:"is_primary"`
	Hours     map[string]findhelpDayWindow `json:"hours"`
}

type findhelpDayWindow struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type findhelpProgram struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	ProviderName     string           `json:"provider_name"`
	Description      string           `json:"description"`
	ServiceTags      []string         `json:"service_tags"`
	AttributeTags    []string         `json:"attribute_tags"`
	Offices          []findhelpOffice `json:"offices"`
	WebsiteURL       string           `json:"website_url"`
	Phone            string           `json:"phone"`
	Email            string           `json:"email"`
	Languages        []string         `json:"languages"`
	FreeOrReduced    string           `json:"free_or_reduced"`
	AcceptsReferrals bool             `json:"accepts_referrals"`
	ClosedLoop       bool             `json:"closed_loop"`
	AgeMin           *int             `json:"age_min"`
	AgeMax           *int             `json:"age_max"`
}

type findhelpSearchResponse struct {
	Programs []json.RawMessage `json:"programs"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PerPage  int               `json:"per_page"`
}

// FindhelpAdapter reads programs from the findhelp directory API and sends
// referrals into its closed-loop network.
type FindhelpAdapter struct {
	client *resty.Client
	cfg    ProviderConfig
}

func NewFindhelpAdapter(cfg ProviderConfig) *FindhelpAdapter {
	client := newClient(cfg).SetAuthToken(cfg.APIKey)
	if cfg.ProviderID != "" {
		client.SetHeader("X-Provider-Id", cfg.ProviderID)
	}
	return &FindhelpAdapter{client: client, cfg: cfg}
}

func (a *FindhelpAdapter) Provider() string { return ProviderFindhelp }

func (a *FindhelpAdapter) SearchResources(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PageSize
	if perPage <= 0 {
		perPage = findhelpDefaultPageSize
	}
	params := map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	}
	if req.Query != "" {
		params["terms"] = req.Query
	}
	if req.Zip != "" {
		params["zipcode"] = req.Zip
	}
	if req.Location != nil {
		params["lat"] = strconv.FormatFloat(req.Location.Lat, 'f', 6, 64)
		params["lng"] = strconv.FormatFloat(req.Location.Lng, 'f', 6, 64)
	}
	if req.RadiusMiles > 0 {
		params["radius"] = strconv.FormatFloat(req.RadiusMiles, 'f', -1, 64)
	}

	var out findhelpSearchResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get("/programs")
	if err != nil {
		return nil, fmt.Errorf("findhelp search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("findhelp search: unexpected status %d", resp.StatusCode())
	}

	return &SearchPage{
		Records: out.Programs,
		Total:   out.Total,
		Page:    page,
		HasMore: page*perPage < out.Total,
	}, nil
}

func (a *FindhelpAdapter) GetResource(ctx context.Context, id string) (json.RawMessage, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/programs/{id}")
	if err != nil {
		return nil, fmt.Errorf("findhelp get %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: findhelp %s", ErrNotFound, id)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("findhelp get %s: unexpected status %d", id, resp.StatusCode())
	}
	return json.RawMessage(resp.Body()), nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// validClock reports whether s is an HH:MM time.
func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

func (a *FindhelpAdapter) ConvertToInternalFormat(raw json.RawMessage) (*resource.CommunityResource, error) {
	var p findhelpProgram
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode findhelp program: %w", err)
	}
	if p.ID == "" {
		return nil, errors.New("findhelp program without id")
	}

	id := p.ID
	r := &resource.CommunityResource{
		ExternalID:        &id,
		Name:              p.Name,
		Description:       p.Description,
		OrganizationName:  p.ProviderName,
		Category:          findhelpCategories.Map(nil, p.ServiceTags),
		Subcategories:     p.ServiceTags,
		Tags:              p.AttributeTags,
		Languages:         p.Languages,
		AcceptsReferrals:  p.AcceptsReferrals,
		ClosedLoopEnabled: p.ClosedLoop,
		Contact: resource.Contact{
			Phone:   p.Phone,
			Email:   p.Email,
			Website: p.WebsiteURL,
		},
	}
	if p.AgeMin != nil || p.AgeMax != nil {
		r.Eligibility = &resource.Eligibility{AgeMin: p.AgeMin, AgeMax: p.AgeMax}
	}
	switch strings.ToLower(p.FreeOrReduced) {
	case "free":
		r.Services = []resource.ServiceOffering{{Name: p.Name, CostType: resource.CostFree}}
	case "reduced":
		r.Services = []resource.ServiceOffering{{Name: p.Name, CostType: resource.CostSlidingScale}}
	}

	for i, o := range p.Offices {
		loc := resource.Location{
			Name:      o.Name,
			IsPrimary: o.Primary || i == 0,
			Address: resource.Address{
				Line1: o.Address1,
				Line2: o.Address2,
				City:  o.City,
				State: o.State,
				Zip:   o.Postal,
			},
		}
		if o.Latitude != nil && o.Longitude != nil {
			loc.Coordinates = &geo.Coordinates{Lat: *o.Latitude, Lng: *o.Longitude}
		}
		r.Locations = append(r.Locations, loc)
		if r.Contact.Phone == "" {
			r.Contact.Phone = o.Phone
		}
		// Hours come from the first office that publishes any.
		if len(r.Hours) == 0 {
			r.Hours = findhelpHours(o.Hours)
		}
	}
	return r, nil
}

func findhelpHours(in map[string]findhelpDayWindow) []resource.OperatingHours {
	var out []resource.OperatingHours
	for name, w := range in {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok || !validClock(w.Open) || !validClock(w.Close) {
			continue
		}
		out = append(out, resource.OperatingHours{Day: day, Open: w.Open, Close: w.Close})
	}
	sortHours(out)
	return out
}

type findhelpReferralRequest struct {
	ProgramID      string `json:"program_id"`
	PatientRef     string `json:"patient_reference"`
	Need           string `json:"need,omitempty"`
	Notes          string `json:"notes,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type findhelpReferralResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *FindhelpAdapter) CreateReferral(ctx context.Context, ref ExternalReferral) (string, error) {
	var out findhelpReferralResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(findhelpReferralRequest{
			ProgramID:      ref.ResourceExternalID,
			PatientRef:     ref.PatientReference,
			Need:           string(ref.Need),
			Notes:          ref.Notes,
			OrganizationID: a.cfg.OrganizationID,
		}).
		SetResult(&out).
		Post("/referrals")
	if err != nil {
		return "", fmt.Errorf("findhelp create referral: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("findhelp create referral: unexpected status %d", resp.StatusCode())
	}
	return out.ID, nil
}

func (a *FindhelpAdapter) GetReferralStatus(ctx context.Context, externalID string) (*ExternalReferralStatus, error) {
	var out findhelpReferralResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", externalID).
		SetResult(&out).
		Get("/referrals/{id}")
	if err != nil {
		return nil, fmt.Errorf("findhelp referral status: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: findhelp referral %s", ErrNotFound, externalID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("findhelp referral status: unexpected status %d", resp.StatusCode())
	}
	return &ExternalReferralStatus{ExternalID: out.ID, Status: out.Status, UpdatedAt: out.UpdatedAt}, nil
}
