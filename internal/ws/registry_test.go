package ws

import (
	"encoding/json"
	"testing"

	"caredial/internal/call"
	"caredial/internal/domain"

	"github.com/rs/zerolog"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop(), nil)
}

func drain(c *Client) []call.Envelope {
	var out []call.Envelope
	for {
		select {
		case data := <-c.Send:
			var env call.Envelope
			if err := json.Unmarshal(data, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestRegisterFirstConnection(t *testing.T) {
	r := newTestRegistry()
	c1 := NewClient("conn-1", 1, domain.RoleProvider, 8)
	if !r.Register(c1) {
		t.Fatal("first connection should report the user came online")
	}
	if !r.IsOnline(1) {
		t.Fatal("user should be online")
	}

	// Second device: still online, not a transition.
	c2 := NewClient("conn-2", 1, domain.RoleProvider, 8)
	if r.Register(c2) {
		t.Fatal("second connection must not report a fresh online transition")
	}
	if got := len(r.Resolve(1)); got != 2 {
		t.Fatalf("Resolve returned %d connections, want 2", got)
	}

	// Re-registering an existing conn id is a no-op.
	if r.Register(c1) {
		t.Fatal("duplicate register should be a no-op")
	}
}

func TestUnregisterLastConnectionGoesOffline(t *testing.T) {
	r := newTestRegistry()
	c1 := NewClient("conn-1", 1, domain.RoleProvider, 8)
	c2 := NewClient("conn-2", 1, domain.RoleProvider, 8)
	r.Register(c1)
	r.Register(c2)

	if _, off := r.Unregister("conn-1"); off {
		t.Fatal("user still has a connection; must not be offline")
	}
	userID, off := r.Unregister("conn-2")
	if !off || userID != 1 {
		t.Fatalf("Unregister = (%d, %v), want (1, true)", userID, off)
	}
	if r.IsOnline(1) {
		t.Fatal("user should be offline")
	}

	// Unknown conn id: already cleaned up, no-op.
	if userID, off := r.Unregister("conn-2"); off || userID != 0 {
		t.Fatalf("repeat Unregister = (%d, %v), want (0, false)", userID, off)
	}
}

func TestPresenceBroadcastOnTransitions(t *testing.T) {
	r := newTestRegistry()
	watcher := NewClient("watcher", 9, domain.RoleClient, 8)
	r.Register(watcher)
	drain(watcher)

	c := NewClient("conn-1", 1, domain.RoleProvider, 8)
	r.Register(c)

	envs := drain(watcher)
	if len(envs) != 1 || envs[0].Type != call.EventPresenceChange {
		t.Fatalf("watcher got %+v, want one presenceChange", envs)
	}
	var p call.PresencePayload
	if err := json.Unmarshal(envs[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.UserID != 1 || p.Status != domain.PresenceOnline {
		t.Fatalf("payload = %+v", p)
	}

	r.Unregister("conn-1")
	envs = drain(watcher)
	if len(envs) != 1 {
		t.Fatalf("watcher got %d events on offline, want 1", len(envs))
	}
	if err := json.Unmarshal(envs[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Status != domain.PresenceOffline {
		t.Fatalf("status = %q, want offline", p.Status)
	}
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	r := newTestRegistry()
	c1 := NewClient("conn-1", 1, domain.RoleProvider, 8)
	c2 := NewClient("conn-2", 1, domain.RoleProvider, 8)
	r.Register(c1)
	r.Register(c2)
	drain(c1)
	drain(c2)

	if !r.SendToUser(1, call.EventTyping, call.TypingPayload{From: 2, To: 1, Typing: true}) {
		t.Fatal("SendToUser should succeed for an online user")
	}
	for _, c := range []*Client{c1, c2} {
		envs := drain(c)
		if len(envs) != 1 || envs[0].Type != call.EventTyping {
			t.Fatalf("conn %s got %+v", c.ConnID, envs)
		}
	}

	if r.SendToUser(42, call.EventTyping, call.TypingPayload{}) {
		t.Fatal("SendToUser should report false for an offline user")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	c := NewClient("conn-1", 1, domain.RoleClient, 1)
	c.Close()
	c.Close() // idempotent
	if c.Enqueue([]byte("x")) {
		t.Fatal("Enqueue on a closed client should report false")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c := NewClient("conn-1", 1, domain.RoleClient, 1)
	if !c.Enqueue([]byte("a")) {
		t.Fatal("first frame should fit")
	}
	if c.Enqueue([]byte("b")) {
		t.Fatal("second frame should be dropped, not block")
	}
}
