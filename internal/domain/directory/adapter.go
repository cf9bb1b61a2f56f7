// Package directory imports community resources from external resource
// directories and, where a provider supports it, exchanges referrals with
// them.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/geo"
)

// DefaultTimeout bounds a single provider HTTP call.
const DefaultTimeout = 30 * time.Second

// ErrNotFound is returned when a provider has no record for an id.
var ErrNotFound = errors.New("directory record not found")

// ProviderConfig holds credentials and endpoints for one directory.
type ProviderConfig struct {
	APIKey         string
	APIURL         string
	ProviderID     string
	OrganizationID string
	Timeout        time.Duration
	Retries        int
}

// Configured reports whether enough is set to call the provider.
func (c ProviderConfig) Configured() bool {
	return c.APIURL != "" && c.APIKey != ""
}

// SearchRequest narrows a directory query. Page is 1-based.
type SearchRequest struct {
	Query       string           `json:"query,omitempty"`
	Zip         string           `json:"zip,omitempty"`
	Location    *geo.Coordinates `json:"location,omitempty"`
	RadiusMiles float64          `json:"radius_miles,omitempty"`
	Page        int              `json:"page,omitempty"`
	PageSize    int              `json:"page_size,omitempty"`
}

// SearchPage is one page of raw provider records.
type SearchPage struct {
	Records []json.RawMessage
	Total   int
	Page    int
	HasMore bool
}

// Adapter is the contract every external directory implements.
type Adapter interface {
	Provider() string
	SearchResources(ctx context.Context, req SearchRequest) (*SearchPage, error)
	GetResource(ctx context.Context, id string) (json.RawMessage, error)
	ConvertToInternalFormat(raw json.RawMessage) (*resource.CommunityResource, error)
}

// ExternalReferral is a referral sent to a provider's closed-loop network.
type ExternalReferral struct {
	ResourceExternalID string            `json:"resource_external_id"`
	PatientReference   string            `json:"patient_reference"`
	Need               resource.Category `json:"need,omitempty"`
	Notes              string            `json:"notes,omitempty"`
}

// ExternalReferralStatus is the provider's view of a referral.
type ExternalReferralStatus struct {
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReferralGateway is implemented by adapters whose provider accepts
// referrals over its API.
type ReferralGateway interface {
	CreateReferral(ctx context.Context, ref ExternalReferral) (externalID string, err error)
	GetReferralStatus(ctx context.Context, externalID string) (*ExternalReferralStatus, error)
}

func newClient(cfg ProviderConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
}

func sortHours(h []resource.OperatingHours) {
	sort.Slice(h, func(i, j int) bool {
		if h[i].Day != h[j].Day {
			return h[i].Day < h[j].Day
		}
		return h[i].Open < h[j].Open
	})
}
