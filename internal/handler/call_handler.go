package handler

import (
	"net/http"
	"strconv"

	"caredial/internal/middleware"
	"caredial/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type CallHandler struct {
	records *repository.CallRecordRepository
	log     zerolog.Logger
}

func NewCallHandler(records *repository.CallRecordRepository, log zerolog.Logger) *CallHandler {
	return &CallHandler{
		records: records,
		log:     log.With().Str("handler", "call").Logger(),
	}
}

// History returns the caller's call journal, newest first. Missed calls show
// up here too, which is how a client sees what they slept through.
func (h *CallHandler) History(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	out, err := h.records.ListByUser(userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Uint("user_id", userID).Msg("list call records failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list calls"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}
