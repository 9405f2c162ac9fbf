package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"caredial/internal/domain"
	"caredial/internal/middleware"
	"caredial/internal/models"
	"caredial/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type AppointmentHandler struct {
	repo  *repository.AppointmentRepository
	users *repository.UserRepository
	log   zerolog.Logger
}

func NewAppointmentHandler(repo *repository.AppointmentRepository, users *repository.UserRepository, log zerolog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		repo:  repo,
		users: users,
		log:   log.With().Str("handler", "appointment").Logger(),
	}
}

type CreateAppointmentRequest struct {
	ClientID        uint      `json:"client_id" binding:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"omitempty,min=5,max=240"`
	Notes           string    `json:"notes" binding:"max=2000"`
}

// Create books a new appointment. Provider-only; the client confirms later.
func (h *AppointmentHandler) Create(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	providerID := middleware.GetUserID(c)
	if req.ClientID == providerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot book an appointment with yourself"})
		return
	}
	client, err := h.users.GetByID(req.ClientID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	if client.Role != domain.RoleClient {
		c.JSON(http.StatusBadRequest, gin.H{"error": "appointments can only be booked with clients"})
		return
	}
	a := &models.Appointment{
		ProviderID:      providerID,
		ClientID:        req.ClientID,
		Status:          domain.AppointmentStatusPending,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}
	if err := h.repo.Create(a); err != nil {
		h.log.Error().Err(err).Uint("provider_id", providerID).Msg("create appointment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create appointment"})
		return
	}
	c.JSON(http.StatusCreated, a)
}

// ListMine returns the caller's appointments, either side of the table.
func (h *AppointmentHandler) ListMine(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	out, err := h.repo.ListByUser(userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Uint("user_id", userID).Msg("list appointments failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list appointments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": out})
}

// Confirm moves a pending appointment to confirmed. Client-only, and only
// for the appointment's own client.
func (h *AppointmentHandler) Confirm(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment id"})
		return
	}
	a, err := h.repo.Confirm(uint(id), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
			return
		}
		h.log.Error().Err(err).Uint64("appointment_id", id).Msg("confirm appointment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not confirm appointment"})
		return
	}
	c.JSON(http.StatusOK, a)
}
