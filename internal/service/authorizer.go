package service

import (
	"context"
	"errors"
	"time"

	"caredial/internal/call"
	"caredial/internal/domain"
	"caredial/internal/models"

	"gorm.io/gorm"
)

// Join window around the scheduled slot. Eligibility policy proper lives
// outside this service; these margins only stop calls against appointments
// that are clearly not happening now.
const (
	joinEarlyMargin = 15 * time.Minute
	joinLateMargin  = 30 * time.Minute
)

// AppointmentGetter is the slice of the appointment repository the
// authorizer needs.
type AppointmentGetter interface {
	GetByID(id uint) (*models.Appointment, error)
}

// AppointmentAuthorizer implements call.Authorizer against stored
// appointments: the user must be a party of a confirmed appointment whose
// time window covers now. The decision carries the appointment's duration
// budget and the user's role.
type AppointmentAuthorizer struct {
	appts AppointmentGetter
}

func NewAppointmentAuthorizer(appts AppointmentGetter) *AppointmentAuthorizer {
	return &AppointmentAuthorizer{appts: appts}
}

func (a *AppointmentAuthorizer) Authorize(ctx context.Context, appointmentID, userID uint) (call.Decision, error) {
	appt, err := a.appts.GetByID(appointmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call.Decision{Reason: "appointment not found"}, nil
		}
		return call.Decision{}, err
	}
	if !appt.HasParticipant(userID) {
		return call.Decision{Reason: "you are not a participant of this appointment"}, nil
	}
	if !appt.IsConfirmed() {
		return call.Decision{Reason: "appointment is not confirmed"}, nil
	}

	now := time.Now()
	start := appt.ScheduledAt.Add(-joinEarlyMargin)
	end := appt.ScheduledAt.Add(time.Duration(appt.DurationMinutes)*time.Minute + joinLateMargin)
	if now.Before(start) {
		return call.Decision{Reason: "appointment has not started yet"}, nil
	}
	if now.After(end) {
		return call.Decision{Reason: "appointment window has passed"}, nil
	}

	role := domain.RoleClient
	if userID == appt.ProviderID {
		role = domain.RoleProvider
	}
	return call.Decision{
		OK:              true,
		Role:            role,
		OtherPartyID:    appt.OtherParty(userID),
		DurationMinutes: appt.DurationMinutes,
	}, nil
}
