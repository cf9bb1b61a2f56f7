package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

const (
	Provider211        = "211"
	twoOneOnePageSize  = 25
	twoOneOneAPIHeader = "Api-Key"
)

type twoOneOneTaxonomy struct {
	Code string `json:"taxonomyCode"`
	Term string `json:"taxonomyTerm"`
}

type twoOneOneAddress struct {
	Address1      string   `json:"address1"`
	Address2      string   `json:"address2"`
	City          string   `json:"city"`
	StateProvince string   `json:"stateProvince"`
	PostalCode    string   `json:"postalCode"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

type twoOneOnePhone struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

// twoOneOneRecord is one service-at-location record.
type twoOneOneRecord struct {
	ID                 string              `json:"idServiceAtLocation"`
	ServiceName        string              `json:"nameService"`
	OrganizationName   string              `json:"nameOrganization"`
	LocationName       string              `json:"nameLocation"`
	Description        string              `json:"descriptionService"`
	Taxonomy           []twoOneOneTaxonomy `json:"taxonomy"`
	Address            twoOneOneAddress    `json:"address"`
	Phones             []twoOneOnePhone    `json:"phones"`
	Website            string              `json:"website"`
	Email              string              `json:"email"`
	Languages          string              `json:"languages"`
	Fees               string              `json:"fees"`
	Eligibility        string              `json:"eligibility"`
	DocumentsRequired  string              `json:"documentsRequired"`
	ServiceAreas       []string            `json:"serviceAreas"`
	InterpretationNote string              `json:"interpretationServices"`
}

type twoOneOneSearchResponse struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

// TwoOneOneAdapter reads taxonomy-coded service-at-location records from a
// 211 search API.
type TwoOneOneAdapter struct {
	client *resty.Client
	cfg    ProviderConfig
}

func NewTwoOneOneAdapter(cfg ProviderConfig) *TwoOneOneAdapter {
	client := newClient(cfg).SetHeader(twoOneOneAPIHeader, cfg.APIKey)
	return &TwoOneOneAdapter{client: client, cfg: cfg}
}

func (a *TwoOneOneAdapter) Provider() string { return Provider211 }

func (a *TwoOneOneAdapter) SearchResources(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	top := req.PageSize
	if top <= 0 {
		top = twoOneOnePageSize
	}
	params := map[string]string{
		"top":  strconv.Itoa(top),
		"skip": strconv.Itoa((page - 1) * top),
	}
	if req.Query != "" {
		params["keyword"] = req.Query
	}
	switch {
	case req.Location != nil:
		params["location"] = fmt.Sprintf("%.6f,%.6f", req.Location.Lat, req.Location.Lng)
	case req.Zip != "":
		params["location"] = req.Zip
	}
	if req.RadiusMiles > 0 {
		params["distance"] = strconv.FormatFloat(req.RadiusMiles, 'f', -1, 64)
	}
	if a.cfg.OrganizationID != "" {
		params["dataOwners"] = a.cfg.OrganizationID
	}

	var out twoOneOneSearchResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("211 search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("211 search: unexpected status %d", resp.StatusCode())
	}

	return &SearchPage{
		Records: out.Results,
		Total:   out.Count,
		Page:    page,
		HasMore: page*top < out.Count,
	}, nil
}

func (a *TwoOneOneAdapter) GetResource(ctx context.Context, id string) (json.RawMessage, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/serviceAtLocation/{id}")
	if err != nil {
		return nil, fmt.Errorf("211 get %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: 211 %s", ErrNotFound, id)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("211 get %s: unexpected status %d", id, resp.StatusCode())
	}
	return json.RawMessage(resp.Body()), nil
}

// splitList splits "English; Spanish" or "English, Spanish" style fields.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// isFree recognizes the usual "no fee" phrasings in the fees field.
func isFree(fees string) bool {
	f := strings.ToLower(fees)
	for _, s := range []string{"free", "none", "no fee", "no cost"} {
		if strings.Contains(f, s) {
			return true
		}
	}
	return false
}

func (a *TwoOneOneAdapter) ConvertToInternalFormat(raw json.RawMessage) (*resource.CommunityResource, error) {
	var rec twoOneOneRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode 211 record: %w", err)
	}
	if rec.ID == "" {
		return nil, errors.New("211 record without idServiceAtLocation")
	}

	codes := make([]string, 0, len(rec.Taxonomy))
	terms := make([]string, 0, len(rec.Taxonomy))
	for _, t := range rec.Taxonomy {
		if t.Code != "" {
			codes = append(codes, t.Code)
		}
		if t.Term != "" {
			terms = append(terms, t.Term)
		}
	}

	id := rec.ID
	r := &resource.CommunityResource{
		ExternalID:       &id,
		Name:             rec.ServiceName,
		Description:      rec.Description,
		OrganizationName: rec.OrganizationName,
		Category:         twoOneOneCategories.Map(codes, terms),
		Subcategories:    terms,
		TaxonomyCodes:    codes,
		Languages:        splitList(rec.Languages),
		Contact: resource.Contact{
			Email:   rec.Email,
			Website: rec.Website,
		},
		Accessibility: resource.Accessibility{
			Interpreter: rec.InterpretationNote != "",
		},
	}
	for _, p := range rec.Phones {
		if p.Number != "" {
			r.Contact.Phone = p.Number
			break
		}
	}
	if isFree(rec.Fees) {
		r.Services = []resource.ServiceOffering{{Name: rec.ServiceName, CostType: resource.CostFree}}
	}

	loc := resource.Location{
		Name:      rec.LocationName,
		IsPrimary: true,
		Address: resource.Address{
			Line1: rec.Address.Address1,
			Line2: rec.Address.Address2,
			City:  rec.Address.City,
			State: rec.Address.StateProvince,
			Zip:   rec.Address.PostalCode,
		},
	}
	if rec.Address.Latitude != nil && rec.Address.Longitude != nil {
		loc.Coordinates = &geo.Coordinates{Lat: *rec.Address.Latitude, Lng: *rec.Address.Longitude}
	}
	r.Locations = []resource.Location{loc}

	if rec.Eligibility != "" || rec.DocumentsRequired != "" || len(rec.ServiceAreas) > 0 {
		e := &resource.Eligibility{ServiceArea: rec.ServiceAreas}
		if rec.Eligibility != "" {
			e.Requirements = []string{rec.Eligibility}
		}
		e.DocumentsRequired = splitList(rec.DocumentsRequired)
		r.Eligibility = e
	}
	return r, nil
}
