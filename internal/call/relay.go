package call

import "github.com/rs/zerolog"

// Relay forwards opaque payloads between users by identity. It never parses
// payload contents and never buffers: an unreachable recipient is reported
// to the caller, who decides what to tell the sender.
type Relay struct {
	gw  Gateway
	log zerolog.Logger
}

func NewRelay(gw Gateway, log zerolog.Logger) *Relay {
	return &Relay{gw: gw, log: log.With().Str("component", "relay").Logger()}
}

func (r *Relay) Send(kind string, from, to uint, payload any) error {
	if !r.gw.SendToUser(to, kind, payload) {
		r.log.Debug().Str("kind", kind).Uint("from", from).Uint("to", to).Msg("recipient unreachable")
		return ErrUnreachable
	}
	return nil
}
