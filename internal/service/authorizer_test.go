package service

import (
	"context"
	"testing"
	"time"

	"caredial/internal/domain"
	"caredial/internal/models"

	"gorm.io/gorm"
)

type fakeAppointments struct {
	appts map[uint]*models.Appointment
}

func (f *fakeAppointments) GetByID(id uint) (*models.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func confirmedAppointment(scheduledAt time.Time) *models.Appointment {
	return &models.Appointment{
		ID:              1,
		ProviderID:      10,
		ClientID:        20,
		Status:          domain.AppointmentStatusConfirmed,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 45,
	}
}

func TestAuthorizeAllowsParticipantInWindow(t *testing.T) {
	appt := confirmedAppointment(time.Now())
	a := NewAppointmentAuthorizer(&fakeAppointments{appts: map[uint]*models.Appointment{1: appt}})

	dec, err := a.Authorize(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !dec.OK {
		t.Fatalf("provider denied: %q", dec.Reason)
	}
	if dec.Role != domain.RoleProvider || dec.OtherPartyID != 20 || dec.DurationMinutes != 45 {
		t.Fatalf("decision = %+v", dec)
	}

	dec, err = a.Authorize(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !dec.OK || dec.Role != domain.RoleClient || dec.OtherPartyID != 10 {
		t.Fatalf("client decision = %+v", dec)
	}
}

func TestAuthorizeDenials(t *testing.T) {
	now := time.Now()
	pending := confirmedAppointment(now)
	pending.Status = domain.AppointmentStatusPending
	future := confirmedAppointment(now.Add(2 * time.Hour))
	past := confirmedAppointment(now.Add(-3 * time.Hour))

	a := NewAppointmentAuthorizer(&fakeAppointments{appts: map[uint]*models.Appointment{
		1: confirmedAppointment(now),
		2: pending,
		3: future,
		4: past,
	}})

	cases := []struct {
		name          string
		appointmentID uint
		userID        uint
	}{
		{"not found", 99, 10},
		{"not a participant", 1, 33},
		{"not confirmed", 2, 10},
		{"too early", 3, 10},
		{"window passed", 4, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec, err := a.Authorize(context.Background(), tc.appointmentID, tc.userID)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if dec.OK {
				t.Fatal("expected denial")
			}
			if dec.Reason == "" {
				t.Fatal("denial must carry a reason")
			}
		})
	}
}

func TestAuthorizeEarlyJoinMargin(t *testing.T) {
	// Scheduled 10 minutes out: inside the early-join margin, allowed.
	appt := confirmedAppointment(time.Now().Add(10 * time.Minute))
	a := NewAppointmentAuthorizer(&fakeAppointments{appts: map[uint]*models.Appointment{1: appt}})
	dec, err := a.Authorize(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !dec.OK {
		t.Fatalf("early join inside margin denied: %q", dec.Reason)
	}
}
