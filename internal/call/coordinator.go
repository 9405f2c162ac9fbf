package call

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"caredial/internal/domain"
	"caredial/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateway delivers named events to users' live connections. SendToUser
// reports false when the user has no connection; nothing is buffered.
type Gateway interface {
	SendToUser(userID uint, event string, payload any) bool
	Broadcast(event string, payload any)
	IsOnline(userID uint) bool
}

// Decision is the authorization collaborator's answer for one user against
// one appointment.
type Decision struct {
	OK              bool
	Reason          string // human-readable denial reason when !OK
	Role            string // account role of the examined user (PROVIDER | CLIENT)
	OtherPartyID    uint   // the appointment's other participant
	DurationMinutes int    // duration budget from appointment metadata; 0 = unknown
}

// Authorizer decides whether a user may start a call under an appointment.
// May involve latency; the coordinator never holds its lock across it.
type Authorizer interface {
	Authorize(ctx context.Context, appointmentID, userID uint) (Decision, error)
}

// Recorder is the external recording orchestration hook. Failures are
// logged and never surfaced to participants.
type Recorder interface {
	Start(ctx context.Context, appointmentID uint, callID string) error
	Stop(ctx context.Context, appointmentID uint) error
}

// EndedCall describes a terminated call for the journal.
type EndedCall struct {
	CallID        string
	AppointmentID uint
	CallerID      uint
	CalleeID      uint
	StartedAt     time.Time
	EndedAt       time.Time
	Status        string
	Reason        string
}

// Journal records call outcomes. Invocations are fire-and-forget;
// implementations must be safe for concurrent use.
type Journal interface {
	RecordMissed(appointmentID, callerID, calleeID uint)
	RecordEnded(e EndedCall)
}

type requestState int

const (
	// stateAuthorizing reserves both parties while the authorization
	// collaborator is consulted; the callee has not been signaled yet.
	stateAuthorizing requestState = iota
	stateRinging
)

type callRequest struct {
	id            string
	callerID      uint
	calleeID      uint
	appointmentID uint
	callerRole    string
	durationMin   int
	state         requestState
	createdAt     time.Time
}

type activeCall struct {
	id            string
	callerID      uint
	calleeID      uint
	appointmentID uint
	startedAt     time.Time
}

type Options struct {
	RingTimeout     time.Duration
	DefaultDuration time.Duration
	GracePeriod     time.Duration
	Metrics         *observability.Metrics
}

// Coordinator owns the three process-wide maps (pending requests, active
// calls, per-user ownership index) and every transition between them.
// External collaborators only ever receive identifiers, never references
// into these maps.
type Coordinator struct {
	mu       sync.Mutex
	requests map[string]*callRequest
	calls    map[string]*activeCall
	byUser   map[uint]string // user -> owning request/call id (exclusivity)

	timers  *timerArena
	gw      Gateway
	auth    Authorizer
	rec     Recorder
	journal Journal
	opts    Options
	log     zerolog.Logger
}

func NewCoordinator(gw Gateway, auth Authorizer, rec Recorder, journal Journal, opts Options, log zerolog.Logger) *Coordinator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 30 * time.Second
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 60 * time.Minute
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Minute
	}
	return &Coordinator{
		requests: make(map[string]*callRequest),
		calls:    make(map[string]*activeCall),
		byUser:   make(map[uint]string),
		timers:   newTimerArena(),
		gw:       gw,
		auth:     auth,
		rec:      rec,
		journal:  journal,
		opts:     opts,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// Initiate starts a call attempt from callerID to calleeID under an
// appointment. On success the callee's connections receive incomingCall,
// the caller's receive callRinging, and the returned request id rings for
// Options.RingTimeout before expiring.
func (c *Coordinator) Initiate(ctx context.Context, callerID, calleeID, appointmentID uint, offer json.RawMessage) (string, error) {
	if callerID == calleeID {
		return "", fmt.Errorf("%w: cannot call yourself", ErrUnauthorized)
	}
	reqID := uuid.NewString()

	c.mu.Lock()
	if _, busy := c.byUser[callerID]; busy {
		c.mu.Unlock()
		return "", ErrAlreadyInCall
	}
	if _, busy := c.byUser[calleeID]; busy {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: callee is busy", ErrAlreadyInCall)
	}
	// Reserve both parties before the (possibly slow) authorization call so
	// concurrent initiations cannot double-book either side.
	c.requests[reqID] = &callRequest{
		id:            reqID,
		callerID:      callerID,
		calleeID:      calleeID,
		appointmentID: appointmentID,
		state:         stateAuthorizing,
		createdAt:     time.Now(),
	}
	c.byUser[callerID] = reqID
	c.byUser[calleeID] = reqID
	c.syncGaugesLocked()
	c.mu.Unlock()

	dec, err := c.auth.Authorize(ctx, appointmentID, callerID)
	if err != nil {
		c.rollback(reqID)
		c.log.Error().Err(err).Uint("appointment_id", appointmentID).Msg("authorization check failed")
		return "", fmt.Errorf("%w: authorization unavailable", ErrUnauthorized)
	}
	if !dec.OK {
		c.rollback(reqID)
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, dec.Reason)
	}
	if dec.OtherPartyID != calleeID {
		c.rollback(reqID)
		return "", fmt.Errorf("%w: callee is not part of this appointment", ErrUnauthorized)
	}
	if !c.gw.IsOnline(calleeID) {
		c.rollback(reqID)
		return "", ErrCalleeUnreachable
	}

	c.mu.Lock()
	req, ok := c.requests[reqID]
	if !ok {
		// Caller disconnected while authorizing; the cascade already
		// cleaned up the reservation.
		c.mu.Unlock()
		return "", ErrUnknownRequest
	}
	req.state = stateRinging
	req.callerRole = dec.Role
	req.durationMin = dec.DurationMinutes
	c.timers.Schedule(reqID, c.opts.RingTimeout, func() { c.expireRequest(reqID) })
	c.mu.Unlock()

	delivered := c.gw.SendToUser(calleeID, EventIncomingCall, IncomingCallPayload{
		RequestID:     reqID,
		CallerID:      callerID,
		AppointmentID: appointmentID,
		Offer:         offer,
	})
	if !delivered {
		// Callee dropped between the presence check and delivery.
		c.mu.Lock()
		if _, ok := c.requests[reqID]; ok {
			c.timers.Cancel(reqID)
			c.removeRequestLocked(reqID)
		}
		c.mu.Unlock()
		return "", ErrCalleeUnreachable
	}
	c.gw.SendToUser(callerID, EventCallRinging, CallRingingPayload{RequestID: reqID, CalleeID: calleeID})
	c.countOutcome("initiated")
	c.log.Info().
		Str("request_id", reqID).
		Uint("caller_id", callerID).
		Uint("callee_id", calleeID).
		Uint("appointment_id", appointmentID).
		Msg("call ringing")
	return reqID, nil
}

// Accept promotes a ringing request to an active call: cancels the ring
// timer, arms the duration timer, starts recording (best effort) and relays
// the answer to the caller. Only the callee may accept.
func (c *Coordinator) Accept(requestID string, userID uint, answer json.RawMessage) error {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok || req.state != stateRinging || req.calleeID != userID {
		c.mu.Unlock()
		return ErrUnknownRequest
	}
	c.timers.Cancel(requestID)
	delete(c.requests, requestID)
	// byUser entries already point at this id; the call inherits it.
	active := &activeCall{
		id:            requestID,
		callerID:      req.callerID,
		calleeID:      req.calleeID,
		appointmentID: req.appointmentID,
		startedAt:     time.Now(),
	}
	c.calls[requestID] = active
	budget := c.durationBudget(req.durationMin)
	c.timers.Schedule(requestID, budget, func() { c.expireCall(requestID) })
	c.syncGaugesLocked()
	c.mu.Unlock()

	go c.startRecording(active.appointmentID, active.id)
	c.gw.SendToUser(active.callerID, EventCallAccepted, CallAcceptedPayload{RequestID: requestID, Answer: answer})
	c.countOutcome("accepted")
	c.log.Info().
		Str("call_id", requestID).
		Dur("budget", budget).
		Msg("call accepted")
	return nil
}

// Reject declines a ringing request and notifies the caller. Unknown or
// stale request ids are a silent no-op. Only the callee may reject.
func (c *Coordinator) Reject(requestID string, userID uint, reason string) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok || req.state != stateRinging || req.calleeID != userID {
		c.mu.Unlock()
		return
	}
	c.timers.Cancel(requestID)
	c.removeRequestLocked(requestID)
	c.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonDeclined
	}
	c.gw.SendToUser(req.callerID, EventCallRejected, CallRejectedPayload{RequestID: requestID, Reason: reason})
	c.countOutcome("rejected")
}

// End terminates an active call on behalf of one of its parties. Unknown
// call ids are a no-op.
func (c *Coordinator) End(callID string, endedByUserID uint) {
	endedBy := strconv.FormatUint(uint64(endedByUserID), 10)
	if c.finishCall(callID, endedBy, domain.EndReasonHangup, domain.CallStatusCompleted) {
		c.countOutcome("completed")
	}
}

// Reconnect re-associates a party with its ongoing call after a transport
// drop that did not take the user fully offline (or beat the cascade). It
// does not alter call state; the other party is told a reconnect is in
// progress.
func (c *Coordinator) Reconnect(callID string, userID uint) (ReconnectAckPayload, error) {
	c.mu.Lock()
	active, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return ReconnectAckPayload{}, ErrNotInCall
	}
	var role string
	var other uint
	switch userID {
	case active.callerID:
		role, other = domain.CallRoleCaller, active.calleeID
	case active.calleeID:
		role, other = domain.CallRoleCallee, active.callerID
	default:
		c.mu.Unlock()
		return ReconnectAckPayload{}, ErrNotInCall
	}
	c.mu.Unlock()

	c.gw.SendToUser(other, EventPeerReconnecting, PeerReconnectingPayload{CallID: callID, UserID: userID})
	return ReconnectAckPayload{CallID: callID, OtherPartyID: other, Role: role}, nil
}

// CascadeOnDisconnect tears down whatever request or call references a user
// who just went offline, notifying the surviving party. Idempotent:
// repeated calls for an already-cleaned-up user do nothing.
func (c *Coordinator) CascadeOnDisconnect(userID uint) {
	c.mu.Lock()
	id, ok := c.byUser[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if req, isReq := c.requests[id]; isReq {
		wasRinging := req.state == stateRinging
		c.timers.Cancel(id)
		c.removeRequestLocked(id)
		c.mu.Unlock()
		if !wasRinging {
			// Still authorizing; the callee never saw the invite.
			return
		}
		if userID == req.callerID {
			c.gw.SendToUser(req.calleeID, EventMissedCall, MissedCallPayload{
				CallerID:      req.callerID,
				AppointmentID: req.appointmentID,
				Reason:        domain.EndReasonDisconnect,
			})
		} else {
			c.gw.SendToUser(req.callerID, EventCallRejected, CallRejectedPayload{
				RequestID: id,
				Reason:    domain.EndReasonDisconnect,
			})
		}
		c.countOutcome("cancelled")
		return
	}
	c.mu.Unlock()

	if c.finishCall(id, domain.EndReasonDisconnect, domain.EndReasonDisconnect, domain.CallStatusDropped) {
		c.countOutcome("dropped")
	}
}

// Peer returns the other party of a ringing request or active call that
// userID belongs to. Used to route negotiation candidates.
func (c *Coordinator) Peer(callID string, userID uint) (uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active, ok := c.calls[callID]; ok {
		switch userID {
		case active.callerID:
			return active.calleeID, nil
		case active.calleeID:
			return active.callerID, nil
		}
		return 0, ErrNotInCall
	}
	if req, ok := c.requests[callID]; ok && req.state == stateRinging {
		switch userID {
		case req.callerID:
			return req.calleeID, nil
		case req.calleeID:
			return req.callerID, nil
		}
	}
	return 0, ErrNotInCall
}

// Busy reports whether a user currently owns a request or call.
func (c *Coordinator) Busy(userID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byUser[userID]
	return ok
}

// expireRequest fires when a ring timer elapses. Losing the race against a
// concurrent accept/reject/cascade leaves nothing to do.
func (c *Coordinator) expireRequest(requestID string) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok || req.state != stateRinging {
		c.mu.Unlock()
		return
	}
	c.removeRequestLocked(requestID)
	c.mu.Unlock()

	c.gw.SendToUser(req.callerID, EventCallNotAnswered, CallNotAnsweredPayload{RequestID: requestID})
	c.gw.SendToUser(req.calleeID, EventMissedCall, MissedCallPayload{
		CallerID:      req.callerID,
		AppointmentID: req.appointmentID,
	})
	// Missed-call outcomes are only journaled for provider-initiated calls:
	// a client who doesn't answer their provider is the billable event.
	if req.callerRole == domain.RoleProvider && c.journal != nil {
		go c.journal.RecordMissed(req.appointmentID, req.callerID, req.calleeID)
	}
	c.countOutcome("not_answered")
	c.log.Info().Str("request_id", requestID).Msg("call not answered")
}

// expireCall fires when a duration timer elapses.
func (c *Coordinator) expireCall(callID string) {
	if c.finishCall(callID, domain.EndedBySystem, domain.EndReasonTimeBudget, domain.CallStatusTimeout) {
		c.countOutcome("expired")
	}
}

// finishCall removes an active call, cancels its timer, stops recording and
// notifies both parties. Notifications go out strictly after all state
// mutation so a receiver of callEnded can assume the id is gone. Returns
// false when the call id was already gone.
func (c *Coordinator) finishCall(callID, endedBy, reason, status string) bool {
	c.mu.Lock()
	active, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.timers.Cancel(callID)
	delete(c.calls, callID)
	c.releaseUserLocked(active.callerID, callID)
	c.releaseUserLocked(active.calleeID, callID)
	c.syncGaugesLocked()
	c.mu.Unlock()

	endedAt := time.Now()
	go c.stopRecording(active.appointmentID)
	if c.journal != nil {
		go c.journal.RecordEnded(EndedCall{
			CallID:        callID,
			AppointmentID: active.appointmentID,
			CallerID:      active.callerID,
			CalleeID:      active.calleeID,
			StartedAt:     active.startedAt,
			EndedAt:       endedAt,
			Status:        status,
			Reason:        reason,
		})
	}

	payload := CallEndedPayload{CallID: callID, EndedBy: endedBy, Reason: reason}
	c.gw.SendToUser(active.callerID, EventCallEnded, payload)
	c.gw.SendToUser(active.calleeID, EventCallEnded, payload)
	c.log.Info().
		Str("call_id", callID).
		Str("ended_by", endedBy).
		Str("reason", reason).
		Msg("call ended")
	return true
}

func (c *Coordinator) startRecording(appointmentID uint, callID string) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Start(context.Background(), appointmentID, callID); err != nil {
		c.log.Error().Err(err).
			Uint("appointment_id", appointmentID).
			Str("call_id", callID).
			Msg("recording start failed")
	}
}

func (c *Coordinator) stopRecording(appointmentID uint) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Stop(context.Background(), appointmentID); err != nil {
		c.log.Error().Err(err).
			Uint("appointment_id", appointmentID).
			Msg("recording stop failed")
	}
}

func (c *Coordinator) durationBudget(minutes int) time.Duration {
	d := c.opts.DefaultDuration
	if minutes > 0 {
		d = time.Duration(minutes) * time.Minute
	}
	return d + c.opts.GracePeriod
}

// rollback discards a reservation that never reached the ringing state.
func (c *Coordinator) rollback(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.requests[requestID]; ok {
		c.timers.Cancel(requestID)
		c.removeRequestLocked(requestID)
	}
}

func (c *Coordinator) removeRequestLocked(requestID string) {
	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	delete(c.requests, requestID)
	c.releaseUserLocked(req.callerID, requestID)
	c.releaseUserLocked(req.calleeID, requestID)
	c.syncGaugesLocked()
}

func (c *Coordinator) releaseUserLocked(userID uint, id string) {
	if c.byUser[userID] == id {
		delete(c.byUser, userID)
	}
}

func (c *Coordinator) syncGaugesLocked() {
	if m := c.opts.Metrics; m != nil {
		m.PendingRequests.Set(float64(len(c.requests)))
		m.ActiveCalls.Set(float64(len(c.calls)))
	}
}

func (c *Coordinator) countOutcome(outcome string) {
	if m := c.opts.Metrics; m != nil {
		m.CallOutcomes.WithLabelValues(outcome).Inc()
	}
}
