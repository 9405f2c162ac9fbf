package service

import (
	"caredial/internal/call"
	"caredial/internal/domain"
	"caredial/internal/models"
	"caredial/internal/repository"

	"github.com/rs/zerolog"
)

// CallJournal implements call.Journal by persisting CallRecord rows.
// Invoked fire-and-forget by the coordinator; write failures are logged
// and swallowed.
type CallJournal struct {
	records *repository.CallRecordRepository
	log     zerolog.Logger
}

func NewCallJournal(records *repository.CallRecordRepository, log zerolog.Logger) *CallJournal {
	return &CallJournal{
		records: records,
		log:     log.With().Str("component", "call_journal").Logger(),
	}
}

func (j *CallJournal) RecordMissed(appointmentID, callerID, calleeID uint) {
	rec := &models.CallRecord{
		AppointmentID: appointmentID,
		CallerID:      callerID,
		CalleeID:      calleeID,
		Status:        domain.CallStatusMissed,
	}
	if err := j.records.Create(rec); err != nil {
		j.log.Error().Err(err).Uint("appointment_id", appointmentID).Msg("record missed call")
	}
}

func (j *CallJournal) RecordEnded(e call.EndedCall) {
	started := e.StartedAt
	ended := e.EndedAt
	rec := &models.CallRecord{
		CallID:          e.CallID,
		AppointmentID:   e.AppointmentID,
		CallerID:        e.CallerID,
		CalleeID:        e.CalleeID,
		Status:          e.Status,
		Reason:          e.Reason,
		StartedAt:       &started,
		EndedAt:         &ended,
		DurationSeconds: int(e.EndedAt.Sub(e.StartedAt).Seconds()),
	}
	if err := j.records.Create(rec); err != nil {
		j.log.Error().Err(err).Str("call_id", e.CallID).Msg("record ended call")
	}
}
