package ws

import (
	"encoding/json"
	"sync"

	"caredial/internal/call"
	"caredial/internal/domain"
	"caredial/internal/observability"

	"github.com/rs/zerolog"
)

// Registry maps user identity to live connections and back. It is the
// source of presence: a user is online iff they have at least one
// registered connection. First/last transitions broadcast presenceChange
// to everyone currently connected.
//
// Implements call.Gateway.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Client           // connID -> client (reverse index)
	byUser map[uint]map[string]*Client  // userID -> connID -> client

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewRegistry(log zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]*Client),
		byUser:  make(map[uint]map[string]*Client),
		log:     log.With().Str("component", "registry").Logger(),
		metrics: metrics,
	}
}

// Register adds a connection for its user. Idempotent for a connection id
// already present. Returns true when this is the user's first connection
// (they just came online).
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	if _, ok := r.conns[c.ConnID]; ok {
		r.mu.Unlock()
		return false
	}
	r.conns[c.ConnID] = c
	set := r.byUser[c.UserID]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]*Client)
		r.byUser[c.UserID] = set
	}
	set[c.ConnID] = c
	r.syncGaugesLocked()
	r.mu.Unlock()

	r.log.Info().
		Str("conn_id", c.ConnID).
		Uint("user_id", c.UserID).
		Bool("first", first).
		Msg("connection registered")
	if first {
		r.Broadcast(call.EventPresenceChange, call.PresencePayload{
			UserID: c.UserID,
			Status: domain.PresenceOnline,
		})
	}
	return first
}

// Unregister removes a connection by id. Unknown ids are a no-op (already
// cleaned up), reported as (0, false). When the user's last connection
// goes, presenceChange offline is broadcast and wentOffline is true so the
// caller can cascade call cleanup.
func (r *Registry) Unregister(connID string) (userID uint, wentOffline bool) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	delete(r.conns, connID)
	if set := r.byUser[c.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
			wentOffline = true
		}
	}
	r.syncGaugesLocked()
	r.mu.Unlock()

	c.Close()
	r.log.Info().
		Str("conn_id", connID).
		Uint("user_id", c.UserID).
		Bool("offline", wentOffline).
		Msg("connection unregistered")
	if wentOffline {
		r.Broadcast(call.EventPresenceChange, call.PresencePayload{
			UserID: c.UserID,
			Status: domain.PresenceOffline,
		})
	}
	return c.UserID, wentOffline
}

// Resolve returns the user's live connections; empty means not reachable.
func (r *Registry) Resolve(userID uint) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SendToUser delivers one event to all of the user's connections. Returns
// false when the user has no connections.
func (r *Registry) SendToUser(userID uint, event string, payload any) bool {
	data, err := Marshal(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("marshal outbound event")
		return false
	}
	clients := r.Resolve(userID)
	if len(clients) == 0 {
		return false
	}
	for _, c := range clients {
		if !c.Enqueue(data) {
			r.log.Warn().Str("conn_id", c.ConnID).Str("event", event).Msg("send queue full, dropping frame")
		}
	}
	r.countMessage(event)
	return true
}

// Broadcast delivers one event to every registered connection.
func (r *Registry) Broadcast(event string, payload any) {
	data, err := Marshal(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("marshal broadcast event")
		return
	}
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}
	r.mu.RUnlock()
	for _, c := range clients {
		c.Enqueue(data)
	}
	r.countMessage(event)
}

// OnlineUsers returns the number of users with at least one connection.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Marshal builds the wire envelope for one outbound event.
func Marshal(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(call.Envelope{Type: event, Payload: raw})
}

func (r *Registry) syncGaugesLocked() {
	if r.metrics != nil {
		r.metrics.Connections.Set(float64(len(r.conns)))
		r.metrics.OnlineUsers.Set(float64(len(r.byUser)))
	}
}

func (r *Registry) countMessage(event string) {
	if r.metrics != nil {
		r.metrics.WSMessages.WithLabelValues("out", event).Inc()
	}
}
