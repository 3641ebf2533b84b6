package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/notify"
	"github.com/gin-gonic/gin"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "avatar-mirror"
)

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp_s"`
}

// handleAvatarStream relays install notifications as server-sent events.
func (h *httpHandler) handleAvatarStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(notify.EventImageDownloaded, event)
			return true
		case now := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{
				Source:    realtimeSourceBackend,
				Timestamp: now.UTC().Unix(),
			})
			return true
		}
	})
}
