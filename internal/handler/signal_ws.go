package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"caredial/config"
	"caredial/internal/auth"
	"caredial/internal/call"
	"caredial/internal/observability"
	"caredial/internal/service"
	"caredial/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SignalHandler owns the signaling websocket endpoint: it authenticates the
// connection, registers it for presence, pumps frames both ways and
// dispatches inbound events to the coordinator and relay.
type SignalHandler struct {
	jwtCfg   *config.JWTConfig
	registry *ws.Registry
	coord    *call.Coordinator
	relay    *call.Relay
	mirror   *service.PresenceMirror
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewSignalHandler(
	jwtCfg *config.JWTConfig,
	registry *ws.Registry,
	coord *call.Coordinator,
	relay *call.Relay,
	mirror *service.PresenceMirror,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *SignalHandler {
	return &SignalHandler{
		jwtCfg:   jwtCfg,
		registry: registry,
		coord:    coord,
		relay:    relay,
		mirror:   mirror,
		metrics:  metrics,
		log:      log.With().Str("handler", "signal_ws").Logger(),
	}
}

// Serve upgrades GET /ws/signal. Browsers cannot set headers on websocket
// requests, so the token rides a query parameter.
func (h *SignalHandler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	claims, err := auth.ParseAccessToken(h.jwtCfg, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(uuid.NewString(), claims.UserID, claims.Role, sendBuffer)
	l := h.log.With().Str("conn_id", client.ConnID).Uint("user_id", client.UserID).Logger()

	first := h.registry.Register(client)
	if first {
		go h.mirror.SetOnline(context.Background(), client.UserID)
	}
	defer func() {
		userID, wentOffline := h.registry.Unregister(client.ConnID)
		conn.Close()
		if wentOffline {
			h.coord.CascadeOnDisconnect(userID)
			go h.mirror.SetOffline(context.Background(), userID)
		}
	}()

	go h.writePump(conn, client, l)
	h.readPump(conn, client, l)
}

// readPump consumes frames until the connection dies. Runs on the handler
// goroutine so the deferred unregister fires when it returns.
func (h *SignalHandler) readPump(conn *websocket.Conn, client *ws.Client, l zerolog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		var env call.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendRaw(client, "BadEnvelope", "malformed message envelope")
			continue
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("in", env.Type).Inc()
		}
		h.dispatch(client, env, l)
	}
}

// writePump drains the client's send queue onto the socket and keeps the
// connection alive with pings. The ping tick doubles as a presence TTL
// refresh for the mirror.
func (h *SignalHandler) writePump(conn *websocket.Conn, client *ws.Client, l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			go h.mirror.Refresh(context.Background(), client.UserID)
		}
	}
}

func (h *SignalHandler) dispatch(client *ws.Client, env call.Envelope, l zerolog.Logger) {
	switch env.Type {
	case call.EventCallRequest:
		var p call.CallRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed callRequest payload")
			return
		}
		if _, err := h.coord.Initiate(context.Background(), client.UserID, p.CalleeID, p.AppointmentID, p.Offer); err != nil {
			h.sendError(client, err)
		}

	case call.EventCallAccept:
		var p call.CallAcceptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed callAccept payload")
			return
		}
		if err := h.coord.Accept(p.RequestID, client.UserID, p.Answer); err != nil {
			h.sendError(client, err)
		}

	case call.EventCallReject:
		var p call.CallRejectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed callReject payload")
			return
		}
		h.coord.Reject(p.RequestID, client.UserID, p.Reason)

	case call.EventCandidate:
		var p call.CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed candidate payload")
			return
		}
		peer, err := h.coord.Peer(p.CallID, client.UserID)
		if err != nil {
			h.sendError(client, err)
			return
		}
		p.From = client.UserID
		if err := h.relay.Send(call.EventCandidate, client.UserID, peer, p); err != nil {
			h.sendError(client, err)
		}

	case call.EventEndCall:
		var p call.EndCallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed endCall payload")
			return
		}
		h.coord.End(p.CallID, client.UserID)

	case call.EventReconnect:
		var p call.ReconnectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendRaw(client, "BadPayload", "malformed reconnect payload")
			return
		}
		ack, err := h.coord.Reconnect(p.CallID, client.UserID)
		if err != nil {
			h.send(client, call.EventReconnectError, call.ReconnectErrorPayload{
				CallID: p.CallID,
				Reason: "no active call with this id",
			})
			return
		}
		h.send(client, call.EventReconnectAck, ack)

	case call.EventTyping:
		var p call.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.To == 0 {
			h.sendRaw(client, "BadPayload", "malformed typing payload")
			return
		}
		p.From = client.UserID
		// Typing is best effort; an offline recipient is not an error.
		_ = h.relay.Send(call.EventTyping, client.UserID, p.To, p)

	default:
		l.Debug().Str("type", env.Type).Msg("unknown inbound event")
		h.sendRaw(client, "UnknownEvent", "unknown event type: "+env.Type)
	}
}

func (h *SignalHandler) send(client *ws.Client, event string, payload any) {
	data, err := ws.Marshal(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("marshal direct reply")
		return
	}
	client.Enqueue(data)
}

func (h *SignalHandler) sendError(client *ws.Client, err error) {
	h.sendRaw(client, call.ErrorCode(err), err.Error())
}

func (h *SignalHandler) sendRaw(client *ws.Client, code, reason string) {
	h.send(client, call.EventError, call.ErrorPayload{Code: code, Reason: reason})
}
