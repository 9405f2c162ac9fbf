package handler

import (
	"net/http"
	"strconv"

	"caredial/internal/call"
	"caredial/internal/domain"
	"caredial/internal/ws"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	registry *ws.Registry
	coord    *call.Coordinator
}

func NewPresenceHandler(registry *ws.Registry, coord *call.Coordinator) *PresenceHandler {
	return &PresenceHandler{registry: registry, coord: coord}
}

// Status reports one user's presence plus whether they are currently tied up
// in a call. REST snapshot of what presenceChange events stream live.
func (h *PresenceHandler) Status(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := uint(id)
	status := domain.PresenceOffline
	if h.registry.IsOnline(userID) {
		status = domain.PresenceOnline
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"status":  status,
		"busy":    h.coord.Busy(userID),
	})
}
