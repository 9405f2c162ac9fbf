package repository

import (
	"caredial/internal/models"

	"gorm.io/gorm"
)

type CallRecordRepository struct {
	db *gorm.DB
}

func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

func (r *CallRecordRepository) Create(rec *models.CallRecord) error {
	return r.db.Create(rec).Error
}

// ListByUser returns call records where the user is either party, newest first.
func (r *CallRecordRepository) ListByUser(userID uint, limit, offset int) ([]models.CallRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.CallRecord
	err := r.db.
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}
