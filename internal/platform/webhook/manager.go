package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/sdoh/internal/platform/events"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1024

	defaultWorkers   = 4
	defaultQueueSize = 256
)

// ErrQueueFull is returned by Publish when the delivery backlog is full.
var ErrQueueFull = errors.New("webhook delivery queue is full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("webhook manager is closed")

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(n int) Option {
	return func(m *Manager) { m.client.SetRetryCount(n) }
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.client.SetTimeout(d) }
}

// WithWorkers sets the number of background delivery goroutines.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithQueueSize bounds how many events may wait for delivery.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// Manager registers partner endpoints and delivers referral events to them.
// It implements events.Publisher: Publish only enqueues, and a pool of
// workers performs the HTTP deliveries.
type Manager struct {
	store  Store
	client *resty.Client
	logger zerolog.Logger
	now    func() time.Time

	workers   int
	queueSize int
	queue     chan events.Event
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

func NewManager(store Store, logger zerolog.Logger, opts ...Option) *Manager {
	client := resty.New().
		SetTimeout(defaultTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	m := &Manager{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,

		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(m)
	}

	m.queue = make(chan events.Event, m.queueSize)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work()
	}
	return m
}

func (m *Manager) work() {
	defer m.wg.Done()
	for e := range m.queue {
		// deliveries outlive the request that produced the event
		if err := m.Deliver(context.Background(), e); err != nil {
			m.logger.Debug().Err(err).Str("event_id", e.ID).Msg("webhook event not fully delivered")
		}
	}
}

// generateSecret produces a cryptographically random 32-byte hex string.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateURL checks that the URL is absolute and uses http or https.
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

// Register validates and stores a new endpoint. An empty secret is replaced
// by a random one; no event patterns subscribes to everything.
func (m *Manager) Register(ctx context.Context, rawURL, secret, resourceID string, patterns []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	ep := &Endpoint{
		ID:         uuid.New().String(),
		URL:        rawURL,
		Secret:     secret,
		Events:     patterns,
		ResourceID: resourceID,
		Status:     StatusActive,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// SetStatus pauses or resumes an endpoint.
func (m *Manager) SetStatus(ctx context.Context, id, status string) (*Endpoint, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, fmt.Errorf("status must be %q or %q", StatusActive, StatusPaused)
	}
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Endpoint, error) {
	return m.store.GetEndpoint(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]*Endpoint, error) {
	return m.store.ListEndpoints(ctx)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteEndpoint(ctx, id)
}

func (m *Manager) Deliveries(ctx context.Context, endpointID string) ([]*DeliveryAttempt, error) {
	if _, err := m.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, err
	}
	return m.store.ListDeliveries(ctx, endpointID)
}

// eventMatches reports whether an event type matches a subscription
// pattern: "*", an exact type, or a "referral.*" prefix.
func eventMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep *Endpoint) wants(e events.Event) bool {
	if ep.Status != StatusActive {
		return false
	}
	if ep.ResourceID != "" && ep.ResourceID != e.ResourceID {
		return false
	}
	for _, p := range ep.Events {
		if eventMatches(p, e.Type) {
			return true
		}
	}
	return false
}

// Publish queues e for background delivery and returns immediately. It
// never waits on a partner endpoint.
func (m *Manager) Publish(_ context.Context, e events.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.queue <- e:
		return nil
	default:
		m.logger.Warn().Str("event_id", e.ID).Str("event_type", e.Type).
			Str("referral_id", e.ReferralID).Msg("webhook queue full, dropping event")
		return ErrQueueFull
	}
}

// Deliver sends e to every active endpoint that subscribes to it and waits
// for the results. Each endpoint gets its own attempt record; failures are
// joined into the returned error.
func (m *Manager) Deliver(ctx context.Context, e events.Event) error {
	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("list webhook endpoints: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var errs []error
	for _, ep := range endpoints {
		if !ep.wants(e) {
			continue
		}
		attempt := m.deliver(ctx, ep, e, payload)
		if attempt.Status != DeliverySuccess {
			errs = append(errs, fmt.Errorf("webhook %s: %s", ep.ID, attempt.Error))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) deliver(ctx context.Context, ep *Endpoint, e events.Event, payload []byte) *DeliveryAttempt {
	sig := SignPayload(payload, ep.Secret)
	now := m.now().UTC()
	attempt := &DeliveryAttempt{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  e.Type,
		EventID:    e.ID,
		ReferralID: e.ReferralID,
		Signature:  sig,
		CreatedAt:  now,
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, "sha256="+sig).
		SetHeader("X-Webhook-ID", ep.ID).
		SetHeader("X-Webhook-Event", e.Type).
		SetHeader("X-Webhook-Timestamp", now.Format(time.RFC3339)).
		SetBody(payload).
		Post(ep.URL)

	switch {
	case err != nil:
		attempt.Status = DeliveryFailed
		attempt.Error = err.Error()
	case resp.IsSuccess():
		attempt.Status = DeliverySuccess
	default:
		attempt.Status = DeliveryFailed
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode())
	}
	if resp != nil {
		attempt.StatusCode = resp.StatusCode()
		attempt.Duration = resp.Time()
		body := resp.Body()
		if len(body) > maxResponseBody {
			body = body[:maxResponseBody]
		}
		attempt.ResponseBody = string(body)
	}

	if err := m.store.RecordDelivery(ctx, attempt); err != nil {
		m.logger.Warn().Err(err).Str("endpoint_id", ep.ID).Msg("failed to record webhook delivery")
	}
	if attempt.Status != DeliverySuccess {
		m.logger.Warn().Str("endpoint_id", ep.ID).Str("event_type", e.Type).
			Str("referral_id", e.ReferralID).Int("status_code", attempt.StatusCode).
			Str("error", attempt.Error).Msg("webhook delivery failed")
	}
	return attempt
}

// Close stops accepting events and waits for queued deliveries to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
