package models

import (
	"time"

	"caredial/internal/domain"

	"gorm.io/gorm"
)

// Appointment is the session context a call belongs to. Authorization and
// the call duration budget are derived from it.
type Appointment struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ProviderID      uint           `gorm:"not null;index" json:"provider_id"`
	ClientID        uint           `gorm:"not null;index" json:"client_id"`
	Status          string         `gorm:"size:20;not null;index" json:"status"` // PENDING, CONFIRMED, CANCELLED, COMPLETED
	ScheduledAt     time.Time      `gorm:"not null;index" json:"scheduled_at"`
	DurationMinutes int            `json:"duration_minutes"`
	Notes           string         `gorm:"type:text" json:"notes"`
	ConfirmedAt     *time.Time     `json:"confirmed_at"`
	CancelledAt     *time.Time     `json:"cancelled_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Provider User `gorm:"foreignKey:ProviderID" json:"-"`
	Client   User `gorm:"foreignKey:ClientID" json:"-"`
}

func (Appointment) TableName() string {
	return "appointments"
}

func (a *Appointment) IsConfirmed() bool { return a.Status == domain.AppointmentStatusConfirmed }

// HasParticipant reports whether userID is one of the two parties.
func (a *Appointment) HasParticipant(userID uint) bool {
	return userID == a.ProviderID || userID == a.ClientID
}

// OtherParty returns the counterpart of userID, or 0 when userID is not a party.
func (a *Appointment) OtherParty(userID uint) uint {
	switch userID {
	case a.ProviderID:
		return a.ClientID
	case a.ClientID:
		return a.ProviderID
	}
	return 0
}
