package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whiskr/whiskr/internal/platform/realtime"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMaxAttempts sets how many times a failed delivery is attempted.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the waits between delivery attempts. The last entry
// repeats when there are more attempts than entries.
func WithBackoff(delays ...time.Duration) Option {
	return func(d *Dispatcher) {
		if len(delays) > 0 {
			d.backoff = delays
		}
	}
}

// Dispatcher posts clinic events to matching endpoints and manages the
// endpoint registry. It implements realtime.Publisher so it can sit next
// to the WebSocket hub behind a single fanout.
type Dispatcher struct {
	store       Store
	client      *http.Client
	logger      zerolog.Logger
	maxAttempts int
	backoff     []time.Duration

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a Dispatcher with a 10s HTTP timeout and three
// delivery attempts.
func NewDispatcher(store Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With().Str("component", "webhook").Logger(),
		maxAttempts: 3,
		backoff:     []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Close stops retry waits and blocks until in-flight dispatches finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// Publish converts a realtime change event into a webhook event and
// dispatches it in the background. Deliveries outlive the request that
// triggered them, so they run on a detached context.
func (d *Dispatcher) Publish(_ context.Context, clinicID uuid.UUID, event realtime.Event) error {
	ev := Event{
		ID:         uuid.NewString(),
		Name:       event.Table + "." + event.Action,
		ClinicID:   clinicID,
		Resource:   event.Table,
		ResourceID: event.ID,
		Action:     event.Action,
		Timestamp:  event.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(context.Background(), ev)
	}()
	return nil
}

// Dispatch synchronously delivers the event to every active endpoint of the
// clinic whose subscription matches, retrying failures with backoff.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) []Result {
	endpoints, _, err := d.store.ListEndpoints(ctx, event.ClinicID, 1000, 0)
	if err != nil {
		d.logger.Error().Err(err).Str("clinic_id", event.ClinicID.String()).Msg("list webhook endpoints")
		return nil
	}

	var results []Result
	for _, ep := range endpoints {
		if ep.Status != StatusActive || !subscribed(ep, event.Name) {
			continue
		}
		del := d.deliverWithRetry(ctx, ep, event)
		results = append(results, Result{
			EndpointID: ep.ID,
			Success:    del.Status == DeliverySuccess,
			StatusCode: del.StatusCode,
			Error:      del.Error,
		})
	}
	return results
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, ep *Endpoint, event Event) *Delivery {
	del := d.deliver(ctx, ep, event, 1)
	for n := 2; del.Status == DeliveryFailed && n <= d.maxAttempts; n++ {
		idx := n - 2
		if idx >= len(d.backoff) {
			idx = len(d.backoff) - 1
		}
		select {
		case <-ctx.Done():
			return del
		case <-d.done:
			return del
		case <-time.After(d.backoff[idx]):
		}
		del = d.deliver(ctx, ep, event, n)
	}
	return del
}

// deliver signs and POSTs the payload, then records the attempt.
func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, event Event, attempt int) *Delivery {
	payload, _ := json.Marshal(event)
	sig := SignPayload(payload, ep.Secret)
	now := time.Now()

	del := &Delivery{
		ID:         uuid.New(),
		EndpointID: ep.ID,
		EventName:  event.Name,
		EventID:    event.ID,
		Payload:    payload,
		Signature:  sig,
		Attempt:    attempt,
		Status:     DeliveryPending,
		CreatedAt:  now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		del.Status = DeliveryFailed
		del.Error = err.Error()
		d.record(ctx, del)
		return del
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Whiskr-Signature", "sha256="+sig)
	req.Header.Set("X-Whiskr-Event", event.Name)
	req.Header.Set("X-Whiskr-Delivery", del.ID.String())
	req.Header.Set("X-Whiskr-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := d.client.Do(req)
	del.Duration = time.Since(start)

	if err != nil {
		del.Status = DeliveryFailed
		del.Error = err.Error()
		d.record(ctx, del)
		return del
	}
	defer resp.Body.Close()

	del.StatusCode = resp.StatusCode

	// Keep at most 1KB of response body in the log.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	del.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		del.Status = DeliverySuccess
	} else {
		del.Status = DeliveryFailed
		del.Error = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	}

	d.record(ctx, del)
	return del
}

func (d *Dispatcher) record(ctx context.Context, del *Delivery) {
	if err := d.store.RecordDelivery(ctx, del); err != nil {
		d.logger.Error().Err(err).Str("endpoint_id", del.EndpointID.String()).Msg("record webhook delivery")
	}
	if del.Status == DeliveryFailed {
		d.logger.Warn().
			Str("endpoint_id", del.EndpointID.String()).
			Str("event", del.EventName).
			Int("attempt", del.Attempt).
			Str("error", del.Error).
			Msg("webhook delivery failed")
	}
}

// Register validates and stores a new endpoint, filling ID, Status, and
// CreatedAt. An empty secret is replaced with a random one; an empty event
// list subscribes to everything.
func (d *Dispatcher) Register(ctx context.Context, ep *Endpoint) error {
	if err := validateURL(ep.URL); err != nil {
		return err
	}
	if ep.ClinicID == uuid.Nil {
		return fmt.Errorf("clinic id is required")
	}
	if len(ep.Events) == 0 {
		ep.Events = []string{"*"}
	}
	if ep.Secret == "" {
		s, err := newSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		ep.Secret = s
	}
	ep.ID = uuid.New()
	ep.Status = StatusActive
	ep.CreatedAt = time.Now()
	return d.store.CreateEndpoint(ctx, ep)
}

// Endpoint fetches one endpoint, treating another clinic's endpoint as
// absent.
func (d *Dispatcher) Endpoint(ctx context.Context, clinicID, id uuid.UUID) (*Endpoint, error) {
	ep, err := d.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep.ClinicID != clinicID {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return ep, nil
}

// Endpoints lists the clinic's endpoints.
func (d *Dispatcher) Endpoints(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Endpoint, int, error) {
	return d.store.ListEndpoints(ctx, clinicID, limit, offset)
}

// UpdateEndpoint persists changes to an already fetched endpoint.
func (d *Dispatcher) UpdateEndpoint(ctx context.Context, ep *Endpoint) error {
	if err := validateURL(ep.URL); err != nil {
		return err
	}
	return d.store.UpdateEndpoint(ctx, ep)
}

// Delete removes a clinic's endpoint.
func (d *Dispatcher) Delete(ctx context.Context, clinicID, id uuid.UUID) error {
	if _, err := d.Endpoint(ctx, clinicID, id); err != nil {
		return err
	}
	return d.store.DeleteEndpoint(ctx, id)
}

// Pause stops deliveries to the endpoint until it is resumed.
func (d *Dispatcher) Pause(ctx context.Context, clinicID, id uuid.UUID) error {
	return d.setStatus(ctx, clinicID, id, StatusPaused)
}

// Resume re-enables deliveries to a paused endpoint.
func (d *Dispatcher) Resume(ctx context.Context, clinicID, id uuid.UUID) error {
	return d.setStatus(ctx, clinicID, id, StatusActive)
}

func (d *Dispatcher) setStatus(ctx context.Context, clinicID, id uuid.UUID, status string) error {
	ep, err := d.Endpoint(ctx, clinicID, id)
	if err != nil {
		return err
	}
	ep.Status = status
	return d.store.UpdateEndpoint(ctx, ep)
}

// Ping sends a synthetic "webhook.ping" event to verify connectivity.
// It delivers once, without retries, regardless of endpoint status.
func (d *Dispatcher) Ping(ctx context.Context, clinicID, id uuid.UUID) (*Delivery, error) {
	ep, err := d.Endpoint(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	ev := Event{
		ID:         uuid.NewString(),
		Name:       "webhook.ping",
		ClinicID:   ep.ClinicID,
		Resource:   "webhooks",
		ResourceID: ep.ID.String(),
		Action:     "ping",
		Timestamp:  time.Now(),
	}
	return d.deliver(ctx, ep, ev, 1), nil
}

// Redeliver re-sends the event from a previous delivery, continuing its
// attempt count.
func (d *Dispatcher) Redeliver(ctx context.Context, clinicID, deliveryID uuid.UUID) (*Delivery, error) {
	orig, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := d.Endpoint(ctx, clinicID, orig.EndpointID)
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(orig.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode original payload: %w", err)
	}
	return d.deliver(ctx, ep, ev, orig.Attempt+1), nil
}

// Deliveries lists the delivery log for a clinic's endpoint.
func (d *Dispatcher) Deliveries(ctx context.Context, clinicID, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	if _, err := d.Endpoint(ctx, clinicID, endpointID); err != nil {
		return nil, 0, err
	}
	return d.store.ListDeliveries(ctx, endpointID, limit, offset)
}
