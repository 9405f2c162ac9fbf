package call

import "encoding/json"

// Event kinds exchanged with connections over the signaling websocket.
// Inbound and outbound share the same envelope shape.
const (
	EventPresenceChange   = "presenceChange"
	EventCallRequest      = "callRequest"
	EventCallRinging      = "callRinging"
	EventIncomingCall     = "incomingCall"
	EventCallAccept       = "callAccept"
	EventCallAccepted     = "callAccepted"
	EventCallReject       = "callReject"
	EventCallRejected     = "callRejected"
	EventCallNotAnswered  = "callNotAnswered"
	EventMissedCall       = "missedCall"
	EventCandidate        = "negotiationCandidate"
	EventEndCall          = "endCall"
	EventCallEnded        = "callEnded"
	EventReconnect        = "reconnect"
	EventReconnectAck     = "reconnectAck"
	EventReconnectError   = "reconnectError"
	EventPeerReconnecting = "peerReconnecting"
	EventTyping           = "typing"
	EventError            = "error"
)

// Envelope wraps every message on the wire. Payload stays raw until the
// kind is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PresencePayload struct {
	UserID uint   `json:"user_id"`
	Status string `json:"status"`
}

// CallRequestPayload initiates a call. Offer is an opaque negotiation blob,
// relayed to the callee without inspection.
type CallRequestPayload struct {
	CalleeID      uint            `json:"callee_id"`
	AppointmentID uint            `json:"appointment_id"`
	Offer         json.RawMessage `json:"offer"`
}

type CallRingingPayload struct {
	RequestID string `json:"request_id"`
	CalleeID  uint   `json:"callee_id"`
}

type IncomingCallPayload struct {
	RequestID     string          `json:"request_id"`
	CallerID      uint            `json:"caller_id"`
	AppointmentID uint            `json:"appointment_id"`
	Offer         json.RawMessage `json:"offer"`
}

type CallAcceptPayload struct {
	RequestID string          `json:"request_id"`
	Answer    json.RawMessage `json:"answer"`
}

type CallAcceptedPayload struct {
	RequestID string          `json:"request_id"`
	Answer    json.RawMessage `json:"answer"`
}

type CallRejectPayload struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

type CallRejectedPayload struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

type CallNotAnsweredPayload struct {
	RequestID string `json:"request_id"`
}

type MissedCallPayload struct {
	CallerID      uint   `json:"caller_id"`
	AppointmentID uint   `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

// CandidatePayload relays one ICE-style candidate. The candidate blob is
// never parsed here; ordering relative to the session description is the
// receiving endpoint's concern (see pkg/rtc).
type CandidatePayload struct {
	CallID    string          `json:"call_id"`
	From      uint            `json:"from,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type EndCallPayload struct {
	CallID string `json:"call_id"`
}

type CallEndedPayload struct {
	CallID  string `json:"call_id"`
	EndedBy string `json:"ended_by"`
	Reason  string `json:"reason"`
}

type ReconnectPayload struct {
	CallID string `json:"call_id"`
}

type ReconnectAckPayload struct {
	CallID       string `json:"call_id"`
	OtherPartyID uint   `json:"other_party_id"`
	Role         string `json:"role"` // caller | callee
}

type ReconnectErrorPayload struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type PeerReconnectingPayload struct {
	CallID string `json:"call_id"`
	UserID uint   `json:"user_id"`
}

type TypingPayload struct {
	From   uint `json:"from,omitempty"`
	To     uint `json:"to,omitempty"`
	Typing bool `json:"typing"`
}

type ErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
