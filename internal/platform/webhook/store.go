// Package webhook notifies partner organizations of referral lifecycle
// events. Each delivery is signed with HMAC-SHA256 over the JSON body so the
// receiving community organization can verify it came from us.
package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown endpoints.
var ErrNotFound = errors.New("webhook endpoint not found")

const (
	StatusActive = "active"
	StatusPaused = "paused"

	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// Endpoint is a registered partner destination. A non-empty ResourceID
// limits it to events for referrals sent to that resource.
type Endpoint struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	ResourceID string    `json:"resource_id,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeliveryAttempt records one delivery of one event to one endpoint.
type DeliveryAttempt struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpoint_id"`
	EventType    string        `json:"event_type"`
	EventID      string        `json:"event_id"`
	ReferralID   string        `json:"referral_id"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Store persists endpoints and the delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, attempt *DeliveryAttempt) error
	ListDeliveries(ctx context.Context, endpointID string) ([]*DeliveryAttempt, error)
}

// InMemoryStore keeps endpoints in registration order. Returned values are
// copies.
type InMemoryStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	order      []string
	deliveries []*DeliveryAttempt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{endpoints: make(map[string]*Endpoint)}
}

func cloneEndpoint(ep *Endpoint) *Endpoint {
	c := *ep
	c.Events = append([]string(nil), ep.Events...)
	return &c
}

func (s *InMemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = cloneEndpoint(ep)
	s.order = append(s.order, ep.ID)
	return nil
}

func (s *InMemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEndpoint(ep), nil
}

func (s *InMemoryStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneEndpoint(s.endpoints[id]))
	}
	return out, nil
}

func (s *InMemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return ErrNotFound
	}
	s.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (s *InMemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return ErrNotFound
	}
	delete(s.endpoints, id)
	for i, eid := range s.order {
		if eid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) RecordDelivery(_ context.Context, attempt *DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *attempt
	s.deliveries = append(s.deliveries, &c)
	return nil
}

func (s *InMemoryStore) ListDeliveries(_ context.Context, endpointID string) ([]*DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DeliveryAttempt, 0)
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}
