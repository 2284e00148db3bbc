// Package handlers implements the HTTP endpoints over the session
// manager.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/application"
	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/errors"
)

// SessionHandler serves the session API.
type SessionHandler struct {
	manager *application.Manager
	logger  *zap.Logger
}

func NewSessionHandler(manager *application.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

type enqueueRequest struct {
	Lane string `json:"lane" binding:"required"`
	Text string `json:"text" binding:"required"`
}

type enqueueResponse struct {
	ItemID string `json:"itemId"`
	Lane   string `json:"lane"`
}

// Enqueue handles POST /api/v1/sessions/:id/messages.
func (h *SessionHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.manager.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	payload := []entity.ContentBlock{entity.TextBlock(req.Text)}
	itemID, err := agent.Enqueue(c.Request.Context(), payload, entity.QueueLane(req.Lane))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, enqueueResponse{ItemID: itemID, Lane: req.Lane})
}

// Cancel handles DELETE /api/v1/sessions/:id/queue/:lane/:itemID.
func (h *SessionHandler) Cancel(c *gin.Context) {
	agent, err := h.manager.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := agent.Cancel(c.Request.Context(), c.Param("itemID"), entity.QueueLane(c.Param("lane"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Continue handles POST /api/v1/sessions/:id/continue.
func (h *SessionHandler) Continue(c *gin.Context) {
	agent, err := h.manager.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := agent.Continue(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.Sessions()})
}

// State handles GET /api/v1/sessions/:id — a plain snapshot without the
// event tail.
func (h *SessionHandler) State(c *gin.Context) {
	agent, err := h.manager.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	state, sub := agent.Observe()
	sub.Close()
	c.JSON(http.StatusOK, state)
}

// Events handles GET /api/v1/sessions/:id/events: an SSE stream opening
// with a snapshot frame and tailing live events. The snapshot and the
// subscription are taken atomically, so committed events are never
// missed between them.
func (h *SessionHandler) Events(c *gin.Context) {
	agent, err := h.manager.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	state, sub := agent.Observe()
	defer sub.Close()

	if err := writeSSE(c.Writer, "snapshot", state); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(c.Writer, string(ev.Type), ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	_, err = w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
	return err
}

// respondError maps runtime errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsUnsupported(err):
		status = http.StatusBadRequest
	case strings.Contains(err.Error(), "not found"):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
