package call

import "errors"

var (
	// ErrAlreadyInCall means the caller or callee already owns a pending
	// request or an active call.
	ErrAlreadyInCall = errors.New("already in a call")
	// ErrUnauthorized means the appointment authorizer denied the call.
	ErrUnauthorized = errors.New("not authorized")
	// ErrCalleeUnreachable means the callee has no live connection.
	ErrCalleeUnreachable = errors.New("callee is not reachable")
	// ErrUnknownRequest means the request id no longer resolves: already
	// answered, rejected, timed out or cancelled. Benign from the client's
	// point of view.
	ErrUnknownRequest = errors.New("unknown call request")
	// ErrNotInCall means the call id is unknown or the user is not a party.
	ErrNotInCall = errors.New("not in this call")
	// ErrUnreachable means the relay found no live connection for the
	// recipient. The sender is told; nothing is buffered or retried.
	ErrUnreachable = errors.New("recipient is not reachable")
)

// ErrorCode maps coordinator errors to stable wire codes for the outbound
// error event. Unknown errors collapse to "Internal" so internals never
// leak to participants.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInCall):
		return "AlreadyInCall"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrCalleeUnreachable):
		return "CalleeUnreachable"
	case errors.Is(err, ErrUnknownRequest):
		return "UnknownRequest"
	case errors.Is(err, ErrNotInCall):
		return "NotInCall"
	case errors.Is(err, ErrUnreachable):
		return "Unreachable"
	}
	return "Internal"
}
