// Package realtime pushes change notifications to connected clients over
// WebSockets. It implements a hub-and-spoke pattern where clients subscribe
// to per-table topics and receive events broadcast to those topics.
//
// Events are hints, not data: an event names the table, the action, and the
// record id, and subscribers re-fetch whatever they care about. Re-fetching
// is idempotent, so delivering an event twice or dropping one under
// backpressure never corrupts client state.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/whiskr/whiskr/internal/platform/auth"
)

// Actions carried by events.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Event is a change notification for one record. Data is never included:
// clients re-fetch through the API, which applies the usual access checks.
type Event struct {
	Table     string    `json:"table"`
	Action    string    `json:"action"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound subscribe/unsubscribe request. Topics are
// table names, optionally narrowed to one record with "<table>:<id>".
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is the side of the hub that services see. Events published for
// a clinic reach only that clinic's subscribers.
type Publisher interface {
	Publish(ctx context.Context, clinicID uuid.UUID, event Event) error
}

// Fanout returns a Publisher that forwards every event to each of pubs in
// order, so one publish can feed the hub and outbound delivery together.
func Fanout(pubs ...Publisher) Publisher {
	return fanout(pubs)
}

type fanout []Publisher

func (f fanout) Publish(ctx context.Context, clinicID uuid.UUID, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, clinicID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single WebSocket connection scoped to one clinic.
type Client struct {
	ID       string
	ClinicID uuid.UUID
	Topics   []string // fully qualified "<clinic>/<table>[:<id>]"
	Send     chan []byte
	hub      *Hub
	conn     Conn
}

// Hub tracks clients and their topic subscriptions. All operations are
// thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates a Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// topicFor builds the clinic-scoped topic for a table, optionally narrowed
// to one record.
func topicFor(clinicID uuid.UUID, table, id string) string {
	topic := clinicID.String() + "/" + table
	if id != "" {
		topic += ":" + id
	}
	return topic
}

// validTopic rejects topic fragments that could escape the clinic prefix.
// Clients send bare "<table>" or "<table>:<id>" fragments; the slash is
// reserved for the server-side clinic prefix.
func validTopic(t string) bool {
	if t == "" || len(t) > 128 {
		return false
	}
	return !strings.Contains(t, "/")
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}

	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from the hub, all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topic fragments to an already-registered client. Fragments
// are qualified with the client's clinic before registration, so a client
// can never observe another clinic's events.
func (h *Hub) Subscribe(client *Client, fragments []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, f := range fragments {
		if !validTopic(f) {
			continue
		}
		topic := client.ClinicID.String() + "/" + f
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topic fragments from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, fragments []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(fragments))
	for _, f := range fragments {
		removeSet[client.ClinicID.String()+"/"+f] = struct{}{}
	}

	for topic := range removeSet {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage, dispatching to Subscribe
// or Unsubscribe as appropriate.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// broadcast sends marshaled event data to all subscribers of a topic.
// Clients with full buffers are skipped, never blocked on.
func (h *Hub) broadcast(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}

	for client := range subscribers {
		select {
		case client.Send <- data:
		default:
			// Buffer full; the client re-fetches on its next event anyway.
		}
	}
}

// Publish implements Publisher. The event reaches subscribers of the table
// topic and, when the event names a record, subscribers of that record's
// topic.
func (h *Hub) Publish(_ context.Context, clinicID uuid.UUID, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("table", event.Table).Msg("failed to marshal event")
		return err
	}

	h.broadcast(topicFor(clinicID, event.Table, ""), data)
	if event.ID != "" {
		h.broadcast(topicFor(clinicID, event.Table, event.ID), data)
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a clinic's topic.
func (h *Hub) TopicCount(clinicID uuid.UUID, fragment string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[clinicID.String()+"/"+fragment])
}

// ---------------------------------------------------------------------------
// WebSocket handler
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections to WebSocket and routes messages.
// Browsers cannot set headers on WebSocket requests, so the access token
// arrives as a query parameter instead of an Authorization header.
type Handler struct {
	hub    *Hub
	issuer *auth.Issuer
}

// NewHandler creates a Handler bound to the given Hub.
func NewHandler(hub *Hub, issuer *auth.Issuer) *Handler {
	return &Handler{hub: hub, issuer: issuer}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo instance.
func (wsh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

// HandleConnect authenticates the token, then upgrades the connection and
// hands the client to the hub with read/write pumps running.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	claims, err := wsh.issuer.Parse(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	clinicID, err := wsh.resolveClinic(c, claims)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.NewString(),
		ClinicID: clinicID,
		Topics:   []string{},
		Send:     make(chan []byte, 256),
		hub:      wsh.hub,
		conn:     &gorillaConnAdapter{ws},
	}

	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

// resolveClinic picks the clinic the connection is scoped to: the active
// clinic from the token, or for super_admin tokens without one, an explicit
// clinic_id query parameter.
func (wsh *Handler) resolveClinic(c echo.Context, claims *auth.Claims) (uuid.UUID, error) {
	raw := claims.ClinicID
	if override := c.QueryParam("clinic_id"); override != "" && override != raw {
		if claims.AccountRole != auth.RoleSuperAdmin {
			return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "clinic override requires super_admin")
		}
		raw = override
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "no clinic context")
	}
	clinicID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
	}
	return clinicID, nil
}

// readPump reads messages from the WebSocket connection and processes them.
func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wsh.hub.ProcessMessage(client, msg)
	}
}

// writePump writes messages from the Send channel to the WebSocket connection.
func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
