package domain

const (
	RoleProvider = "PROVIDER"
	RoleClient   = "CLIENT"
)

const (
	AppointmentStatusPending   = "PENDING"
	AppointmentStatusConfirmed = "CONFIRMED"
	AppointmentStatusCancelled = "CANCELLED"
	AppointmentStatusCompleted = "COMPLETED"
)

const (
	CallStatusCompleted = "COMPLETED"
	CallStatusMissed    = "MISSED"
	CallStatusTimeout   = "TIMEOUT"
	CallStatusDropped   = "DROPPED"
)

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Party roles within a single call, as opposed to account roles above.
const (
	CallRoleCaller = "caller"
	CallRoleCallee = "callee"
)

// EndedBySystem marks terminations not initiated by either party.
const EndedBySystem = "system"

// Reasons carried on callEnded / callRejected notices.
const (
	EndReasonHangup     = "hangup"
	EndReasonTimeBudget = "time_budget_exceeded"
	EndReasonDisconnect = "disconnect"
	EndReasonDeclined   = "declined"
)
