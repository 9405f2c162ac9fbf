package models

import (
	"time"

	"gorm.io/gorm"
)

// CallRecord is the ephemeral outcome trail of a call attempt: missed,
// completed, timed out or dropped. Written fire-and-forget at call
// termination boundaries; never read back by the coordinator itself.
type CallRecord struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CallID          string         `gorm:"size:64;index" json:"call_id"`
	AppointmentID   uint           `gorm:"not null;index" json:"appointment_id"`
	CallerID        uint           `gorm:"not null;index" json:"caller_id"`
	CalleeID        uint           `gorm:"not null;index" json:"callee_id"`
	Status          string         `gorm:"size:20;not null;index" json:"status"` // COMPLETED, MISSED, TIMEOUT, DROPPED
	Reason          string         `gorm:"size:64" json:"reason"`
	StartedAt       *time.Time     `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at"`
	DurationSeconds int            `json:"duration_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Appointment Appointment `gorm:"foreignKey:AppointmentID" json:"-"`
}

func (CallRecord) TableName() string {
	return "call_records"
}
