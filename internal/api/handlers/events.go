package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/pkg/dto"
)

type EventHandler struct {
	events EventLister
}

func NewEventHandler(events EventLister) *EventHandler {
	return &EventHandler{events: events}
}

// List returns recent audit events, optionally filtered by identity_id.
func (h *EventHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.events.ListAuthEvents(c.Request.Context(), c.Query("identity_id"), limit)
	if err != nil {
		slog.Error("list auth events", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := dto.AuthEventListResponse{Events: make([]dto.AuthEventResponse, 0, len(events))}
	for i := range events {
		resp.Events = append(resp.Events, dto.NewAuthEventResponse(&events[i]))
	}
	resp.Total = len(resp.Events)
	c.JSON(http.StatusOK, resp)
}
