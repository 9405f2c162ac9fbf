package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"caredial/internal/domain"

	"github.com/rs/zerolog"
)

type sentEvent struct {
	to      uint
	event   string
	payload any
}

type fakeGateway struct {
	mu     sync.Mutex
	online map[uint]bool
	sent   []sentEvent
}

func newFakeGateway(online ...uint) *fakeGateway {
	g := &fakeGateway{online: make(map[uint]bool)}
	for _, u := range online {
		g.online[u] = true
	}
	return g
}

func (g *fakeGateway) SendToUser(userID uint, event string, payload any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.online[userID] {
		return false
	}
	g.sent = append(g.sent, sentEvent{to: userID, event: event, payload: payload})
	return true
}

func (g *fakeGateway) Broadcast(event string, payload any) {}

func (g *fakeGateway) IsOnline(userID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online[userID]
}

func (g *fakeGateway) setOnline(userID uint, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.online[userID] = on
}

func (g *fakeGateway) eventsTo(userID uint, event string) []sentEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentEvent
	for _, e := range g.sent {
		if e.to == userID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAuthorizer struct {
	dec Decision
	err error
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, appointmentID, userID uint) (Decision, error) {
	return a.dec, a.err
}

type fakeRecorder struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *fakeRecorder) Start(ctx context.Context, appointmentID uint, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context, appointmentID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type missedEntry struct {
	appointmentID, callerID, calleeID uint
}

type fakeJournal struct {
	mu     sync.Mutex
	missed []missedEntry
	ended  []EndedCall
}

func (j *fakeJournal) RecordMissed(appointmentID, callerID, calleeID uint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.missed = append(j.missed, missedEntry{appointmentID, callerID, calleeID})
}

func (j *fakeJournal) RecordEnded(e EndedCall) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ended = append(j.ended, e)
}

func (j *fakeJournal) counts() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.missed), len(j.ended)
}

// waitFor polls cond until it holds or the deadline passes. Journal and
// recorder calls are fire-and-forget goroutines, so tests must wait.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

const (
	caller = uint(1)
	callee = uint(2)
	appt   = uint(10)
)

func providerDecision() Decision {
	return Decision{OK: true, Role: domain.RoleProvider, OtherPartyID: callee, DurationMinutes: 30}
}

func newTestCoordinator(gw *fakeGateway, dec Decision) (*Coordinator, *fakeRecorder, *fakeJournal) {
	rec := &fakeRecorder{}
	journal := &fakeJournal{}
	c := NewCoordinator(gw, &fakeAuthorizer{dec: dec}, rec, journal, Options{
		RingTimeout:     time.Hour, // tests drive expiry by hand
		DefaultDuration: time.Hour,
		GracePeriod:     time.Minute,
	}, zerolog.Nop())
	return c, rec, journal
}

func mustInitiate(t *testing.T, c *Coordinator) string {
	t.Helper()
	reqID, err := c.Initiate(context.Background(), caller, callee, appt, json.RawMessage(`{"sdp":"offer"}`))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return reqID
}

func TestInitiateRingsBothSides(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())

	reqID := mustInitiate(t, c)

	incoming := gw.eventsTo(callee, EventIncomingCall)
	if len(incoming) != 1 {
		t.Fatalf("callee got %d incomingCall events, want 1", len(incoming))
	}
	p := incoming[0].payload.(IncomingCallPayload)
	if p.RequestID != reqID || p.CallerID != caller || p.AppointmentID != appt {
		t.Fatalf("incomingCall payload = %+v", p)
	}
	if got := gw.eventsTo(caller, EventCallRinging); len(got) != 1 {
		t.Fatalf("caller got %d callRinging events, want 1", len(got))
	}
	if !c.Busy(caller) || !c.Busy(callee) {
		t.Fatal("both parties should be busy while ringing")
	}
}

func TestInitiateEnforcesExclusivity(t *testing.T) {
	gw := newFakeGateway(caller, callee, 3)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	mustInitiate(t, c)

	if _, err := c.Initiate(context.Background(), caller, 3, appt, nil); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("busy caller: err = %v, want ErrAlreadyInCall", err)
	}
	if _, err := c.Initiate(context.Background(), 3, callee, appt, nil); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("busy callee: err = %v, want ErrAlreadyInCall", err)
	}
}

func TestInitiateSelfCall(t *testing.T) {
	gw := newFakeGateway(caller)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	if _, err := c.Initiate(context.Background(), caller, caller, appt, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestInitiateDenied(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, Decision{OK: false, Reason: "appointment is not confirmed"})

	_, err := c.Initiate(context.Background(), caller, callee, appt, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// Denial must roll back the reservation completely.
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after denied initiate")
	}
	if got := gw.eventsTo(callee, EventIncomingCall); len(got) != 0 {
		t.Fatalf("callee got %d incomingCall events after denial, want 0", len(got))
	}
}

func TestInitiateCalleeNotInAppointment(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	dec := providerDecision()
	dec.OtherPartyID = 99
	c, _, _ := newTestCoordinator(gw, dec)

	if _, err := c.Initiate(context.Background(), caller, callee, appt, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if c.Busy(caller) {
		t.Fatal("caller should be free after mismatch rollback")
	}
}

func TestInitiateOfflineCallee(t *testing.T) {
	gw := newFakeGateway(caller)
	c, _, _ := newTestCoordinator(gw, providerDecision())

	if _, err := c.Initiate(context.Background(), caller, callee, appt, nil); !errors.Is(err, ErrCalleeUnreachable) {
		t.Fatalf("err = %v, want ErrCalleeUnreachable", err)
	}
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after unreachable rollback")
	}
}

func TestAcceptPromotesToActiveCall(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, rec, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	answer := json.RawMessage(`{"sdp":"answer"}`)
	if err := c.Accept(reqID, callee, answer); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	accepted := gw.eventsTo(caller, EventCallAccepted)
	if len(accepted) != 1 {
		t.Fatalf("caller got %d callAccepted events, want 1", len(accepted))
	}
	p := accepted[0].payload.(CallAcceptedPayload)
	if p.RequestID != reqID || string(p.Answer) != string(answer) {
		t.Fatalf("callAccepted payload = %+v", p)
	}
	// The active call inherits the request id.
	if peer, err := c.Peer(reqID, caller); err != nil || peer != callee {
		t.Fatalf("Peer = %d, %v", peer, err)
	}
	waitFor(t, func() bool { starts, _ := rec.counts(); return starts == 1 })
}

func TestAcceptOnlyByCallee(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	if err := c.Accept(reqID, caller, nil); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("caller accept: err = %v, want ErrUnknownRequest", err)
	}
	if err := c.Accept("no-such-request", callee, nil); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("unknown id: err = %v, want ErrUnknownRequest", err)
	}
}

func TestAcceptAndTimeoutAreExclusive(t *testing.T) {
	// Expiry first: accept must fail and no call exists.
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	c.expireRequest(reqID)
	if err := c.Accept(reqID, callee, nil); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("accept after expiry: err = %v, want ErrUnknownRequest", err)
	}
	if len(gw.eventsTo(caller, EventCallAccepted)) != 0 {
		t.Fatal("caller saw callAccepted after the request expired")
	}
	if len(gw.eventsTo(caller, EventCallNotAnswered)) != 1 {
		t.Fatal("caller should see exactly one callNotAnswered")
	}

	// Accept first: a late expiry must be a no-op.
	gw2 := newFakeGateway(caller, callee)
	c2, _, _ := newTestCoordinator(gw2, providerDecision())
	reqID2 := mustInitiate(t, c2)
	if err := c2.Accept(reqID2, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	c2.expireRequest(reqID2)
	if len(gw2.eventsTo(caller, EventCallNotAnswered)) != 0 {
		t.Fatal("caller saw callNotAnswered after the call was accepted")
	}
	if peer, err := c2.Peer(reqID2, caller); err != nil || peer != callee {
		t.Fatalf("call should survive a lost expiry race: %d, %v", peer, err)
	}
}

func TestRingTimeoutFiresForReal(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	rec := &fakeRecorder{}
	journal := &fakeJournal{}
	c := NewCoordinator(gw, &fakeAuthorizer{dec: providerDecision()}, rec, journal, Options{
		RingTimeout:     20 * time.Millisecond,
		DefaultDuration: time.Hour,
		GracePeriod:     time.Minute,
	}, zerolog.Nop())
	mustInitiate(t, c)

	waitFor(t, func() bool { return len(gw.eventsTo(caller, EventCallNotAnswered)) == 1 })
	waitFor(t, func() bool { return len(gw.eventsTo(callee, EventMissedCall)) == 1 })
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after ring timeout")
	}
}

func TestMissedRecordOnlyForProviderCaller(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, journal := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)
	c.expireRequest(reqID)
	waitFor(t, func() bool { missed, _ := journal.counts(); return missed == 1 })

	journal.mu.Lock()
	m := journal.missed[0]
	journal.mu.Unlock()
	if m.appointmentID != appt || m.callerID != caller || m.calleeID != callee {
		t.Fatalf("missed entry = %+v", m)
	}

	// Client-initiated: the provider not answering is not a missed-call record.
	gw2 := newFakeGateway(caller, callee)
	dec := providerDecision()
	dec.Role = domain.RoleClient
	c2, _, journal2 := newTestCoordinator(gw2, dec)
	reqID2 := mustInitiate(t, c2)
	c2.expireRequest(reqID2)
	waitFor(t, func() bool { return len(gw2.eventsTo(caller, EventCallNotAnswered)) == 1 })
	time.Sleep(20 * time.Millisecond)
	if missed, _ := journal2.counts(); missed != 0 {
		t.Fatalf("client-initiated timeout journaled %d missed calls, want 0", missed)
	}
}

func TestReject(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	c.Reject(reqID, callee, "busy right now")

	rejected := gw.eventsTo(caller, EventCallRejected)
	if len(rejected) != 1 {
		t.Fatalf("caller got %d callRejected events, want 1", len(rejected))
	}
	p := rejected[0].payload.(CallRejectedPayload)
	if p.Reason != "busy right now" {
		t.Fatalf("reason = %q", p.Reason)
	}
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after reject")
	}

	// Stale reject is silent.
	c.Reject(reqID, callee, "")
	if got := gw.eventsTo(caller, EventCallRejected); len(got) != 1 {
		t.Fatalf("stale reject produced %d extra events", len(got)-1)
	}
}

func TestRejectOnlyByCallee(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	c.Reject(reqID, caller, "nope")
	if len(gw.eventsTo(caller, EventCallRejected)) != 0 {
		t.Fatal("caller-side reject should be ignored")
	}
	if !c.Busy(callee) {
		t.Fatal("request should still be ringing")
	}
}

func TestEndCompletesCall(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, rec, journal := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)
	if err := c.Accept(reqID, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	c.End(reqID, caller)

	for _, u := range []uint{caller, callee} {
		ended := gw.eventsTo(u, EventCallEnded)
		if len(ended) != 1 {
			t.Fatalf("user %d got %d callEnded events, want 1", u, len(ended))
		}
		p := ended[0].payload.(CallEndedPayload)
		if p.CallID != reqID || p.EndedBy != "1" || p.Reason != domain.EndReasonHangup {
			t.Fatalf("callEnded payload = %+v", p)
		}
	}
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after end")
	}
	waitFor(t, func() bool { _, stops := rec.counts(); return stops == 1 })
	waitFor(t, func() bool { _, ended := journal.counts(); return ended == 1 })

	journal.mu.Lock()
	e := journal.ended[0]
	journal.mu.Unlock()
	if e.Status != domain.CallStatusCompleted || e.CallID != reqID || e.AppointmentID != appt {
		t.Fatalf("journal entry = %+v", e)
	}

	// Ending twice is a no-op.
	c.End(reqID, callee)
	if got := gw.eventsTo(caller, EventCallEnded); len(got) != 1 {
		t.Fatalf("double end produced %d events to caller", len(got))
	}
}

func TestDurationBudgetExpiry(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, journal := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)
	if err := c.Accept(reqID, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	c.expireCall(reqID)

	ended := gw.eventsTo(callee, EventCallEnded)
	if len(ended) != 1 {
		t.Fatalf("callee got %d callEnded events, want 1", len(ended))
	}
	p := ended[0].payload.(CallEndedPayload)
	if p.EndedBy != domain.EndedBySystem || p.Reason != domain.EndReasonTimeBudget {
		t.Fatalf("callEnded payload = %+v", p)
	}
	waitFor(t, func() bool { _, n := journal.counts(); return n == 1 })
	journal.mu.Lock()
	status := journal.ended[0].Status
	journal.mu.Unlock()
	if status != domain.CallStatusTimeout {
		t.Fatalf("journal status = %q, want %q", status, domain.CallStatusTimeout)
	}
}

func TestCascadeDuringActiveCall(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, journal := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)
	if err := c.Accept(reqID, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	gw.setOnline(caller, false)
	c.CascadeOnDisconnect(caller)

	ended := gw.eventsTo(callee, EventCallEnded)
	if len(ended) != 1 {
		t.Fatalf("callee got %d callEnded events, want 1", len(ended))
	}
	p := ended[0].payload.(CallEndedPayload)
	if p.Reason != domain.EndReasonDisconnect {
		t.Fatalf("reason = %q", p.Reason)
	}
	if c.Busy(caller) || c.Busy(callee) {
		t.Fatal("parties should be free after cascade")
	}
	waitFor(t, func() bool { _, n := journal.counts(); return n == 1 })
	journal.mu.Lock()
	status := journal.ended[0].Status
	journal.mu.Unlock()
	if status != domain.CallStatusDropped {
		t.Fatalf("journal status = %q, want %q", status, domain.CallStatusDropped)
	}

	// Idempotent: a second cascade for either party does nothing.
	c.CascadeOnDisconnect(caller)
	c.CascadeOnDisconnect(callee)
	if got := gw.eventsTo(callee, EventCallEnded); len(got) != 1 {
		t.Fatalf("repeat cascade produced %d events", len(got))
	}
}

func TestCascadeWhileRingingCallerGone(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	mustInitiate(t, c)

	gw.setOnline(caller, false)
	c.CascadeOnDisconnect(caller)

	missed := gw.eventsTo(callee, EventMissedCall)
	if len(missed) != 1 {
		t.Fatalf("callee got %d missedCall events, want 1", len(missed))
	}
	p := missed[0].payload.(MissedCallPayload)
	if p.Reason != domain.EndReasonDisconnect || p.CallerID != caller {
		t.Fatalf("missedCall payload = %+v", p)
	}
	if c.Busy(callee) {
		t.Fatal("callee should be free after cascade")
	}
}

func TestCascadeWhileRingingCalleeGone(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	mustInitiate(t, c)

	gw.setOnline(callee, false)
	c.CascadeOnDisconnect(callee)

	rejected := gw.eventsTo(caller, EventCallRejected)
	if len(rejected) != 1 {
		t.Fatalf("caller got %d callRejected events, want 1", len(rejected))
	}
	if p := rejected[0].payload.(CallRejectedPayload); p.Reason != domain.EndReasonDisconnect {
		t.Fatalf("reason = %q", p.Reason)
	}
	if c.Busy(caller) {
		t.Fatal("caller should be free after cascade")
	}
}

func TestCascadeForIdleUser(t *testing.T) {
	gw := newFakeGateway()
	c, _, journal := newTestCoordinator(gw, providerDecision())
	c.CascadeOnDisconnect(42)
	if missed, ended := journal.counts(); missed != 0 || ended != 0 {
		t.Fatal("cascade for an idle user should do nothing")
	}
}

func TestReconnect(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)
	if err := c.Accept(reqID, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	ack, err := c.Reconnect(reqID, callee)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if ack.CallID != reqID || ack.OtherPartyID != caller || ack.Role != domain.CallRoleCallee {
		t.Fatalf("ack = %+v", ack)
	}
	peering := gw.eventsTo(caller, EventPeerReconnecting)
	if len(peering) != 1 {
		t.Fatalf("caller got %d peerReconnecting events, want 1", len(peering))
	}

	if _, err := c.Reconnect(reqID, 99); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("stranger reconnect: err = %v, want ErrNotInCall", err)
	}
	if _, err := c.Reconnect("no-such-call", callee); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("unknown call: err = %v, want ErrNotInCall", err)
	}
}

func TestPeerResolvesRingingAndActive(t *testing.T) {
	gw := newFakeGateway(caller, callee)
	c, _, _ := newTestCoordinator(gw, providerDecision())
	reqID := mustInitiate(t, c)

	// While ringing, both parties can exchange candidates.
	if peer, err := c.Peer(reqID, callee); err != nil || peer != caller {
		t.Fatalf("ringing Peer = %d, %v", peer, err)
	}
	if _, err := c.Peer(reqID, 99); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("stranger Peer err = %v, want ErrNotInCall", err)
	}

	if err := c.Accept(reqID, callee, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if peer, err := c.Peer(reqID, caller); err != nil || peer != callee {
		t.Fatalf("active Peer = %d, %v", peer, err)
	}

	c.End(reqID, caller)
	if _, err := c.Peer(reqID, caller); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("ended Peer err = %v, want ErrNotInCall", err)
	}
}
