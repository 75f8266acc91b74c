// Package webhook delivers clinic change events to registered HTTP
// endpoints. Endpoints are scoped to a clinic, subscribe to event name
// patterns, and receive HMAC-SHA256 signed payloads. Payloads carry the
// same change hints as realtime events: record data is never included,
// receivers re-fetch through the API with their own credentials.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Endpoint statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// Endpoint is a registered webhook destination owned by one clinic.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedBy uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is the JSON body posted to endpoints. Name is "<resource>.<action>",
// for example "consults.update" or "invoices.insert".
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"event"`
	ClinicID   uuid.UUID `json:"clinic_id"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id,omitempty"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// Delivery records one attempt to post an event to an endpoint.
type Delivery struct {
	ID           uuid.UUID     `json:"id"`
	EndpointID   uuid.UUID     `json:"endpoint_id"`
	EventName    string        `json:"event"`
	EventID      string        `json:"event_id"`
	Payload      []byte        `json:"payload"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Result summarises the outcome of delivering one event to one endpoint.
type Result struct {
	EndpointID uuid.UUID `json:"endpoint_id"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret. Comparison is constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// newSecret produces a cryptographically random 32-byte hex string.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateURL checks that the URL parses as http or https with a host.
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
		return fmt.Errorf("url host is required")
	}
	return nil
}

// eventMatches reports whether an event name matches a subscription pattern.
// Patterns are exact ("consults.update"), resource wildcards ("consults.*"),
// action wildcards ("*.delete"), or "*" for everything.
func eventMatches(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(name, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return false
}

// subscribed reports whether the endpoint subscribes to the event name.
func subscribed(ep *Endpoint, name string) bool {
	for _, pat := range ep.Events {
		if eventMatches(pat, name) {
			return true
		}
	}
	return false
}

// Store is the persistence interface for endpoints and delivery logs.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	ListEndpoints(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Endpoint, int, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error)
}

// MemoryStore is a thread-safe in-memory Store. Getters return copies so
// callers can mutate results without racing concurrent dispatches.
type MemoryStore struct {
	mu            sync.RWMutex
	endpoints     map[uuid.UUID]*Endpoint
	deliveries    map[uuid.UUID]*Delivery
	endpointOrder []uuid.UUID
	deliveryOrder []uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[uuid.UUID]*Endpoint),
		deliveries: make(map[uuid.UUID]*Delivery),
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id uuid.UUID) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, clinicID uuid.UUID, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Endpoint
	for _, id := range s.endpointOrder {
		ep := s.endpoints[id]
		if ep == nil {
			continue
		}
		if clinicID == uuid.Nil || ep.ClinicID == clinicID {
			cp := *ep
			filtered = append(filtered, &cp)
		}
	}
	return pageEndpoints(filtered, limit, offset)
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return fmt.Errorf("endpoint %s not found", ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		s.deliveryOrder = append(s.deliveryOrder, d.ID)
	}
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Delivery
	for _, id := range s.deliveryOrder {
		d := s.deliveries[id]
		if d == nil || d.EndpointID != endpointID {
			continue
		}
		cp := *d
		filtered = append(filtered, &cp)
	}
	return pageDeliveries(filtered, limit, offset)
}

func pageEndpoints(all []*Endpoint, limit, offset int) ([]*Endpoint, int, error) {
	total := len(all)
	if offset >= total {
		return []*Endpoint{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func pageDeliveries(all []*Delivery, limit, offset int) ([]*Delivery, int, error) {
	total := len(all)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
