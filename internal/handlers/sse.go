package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// GET /sse/stream?paper_id=PMC123
// Without a paper_id the client gets the firehose: every job event on the
// instance.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	channel := strings.TrimSpace(c.Query("paper_id"))
	if channel == "" {
		channel = sse.FirehoseChannel
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, channel)
	h.log.Info("SSE stream open", "clientID", client.ID, "channel", channel)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "clientID", client.ID)
}
