package repository

import (
	"time"

	"caredial/internal/domain"
	"caredial/internal/models"

	"gorm.io/gorm"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) Create(a *models.Appointment) error {
	return r.db.Create(a).Error
}

func (r *AppointmentRepository) GetByID(id uint) (*models.Appointment, error) {
	var a models.Appointment
	err := r.db.First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByUser returns appointments where the user is either party, newest first.
func (r *AppointmentRepository) ListByUser(userID uint, limit, offset int) ([]models.Appointment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Appointment
	err := r.db.
		Where("provider_id = ? OR client_id = ?", userID, userID).
		Order("scheduled_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

// Confirm moves a PENDING appointment to CONFIRMED. Only the client party may confirm.
func (r *AppointmentRepository) Confirm(id, clientID uint) (*models.Appointment, error) {
	var a models.Appointment
	if err := r.db.First(&a, id).Error; err != nil {
		return nil, err
	}
	if a.ClientID != clientID {
		return nil, gorm.ErrRecordNotFound
	}
	now := time.Now()
	a.Status = domain.AppointmentStatusConfirmed
	a.ConfirmedAt = &now
	if err := r.db.Save(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
