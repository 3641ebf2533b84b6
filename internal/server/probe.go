package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/preview"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const probeCacheControl = "public, max-age=3600"

// handleProbe answers 204 when the provider has an image and 404 otherwise.
func (h *httpHandler) handleProbe(c *gin.Context) {
	exists, err := h.prober.Probe(c.Request.Context(), c.Query("url"))
	if err != nil {
		if errors.Is(err, preview.ErrInvalidURL) || errors.Is(err, preview.ErrHostNotAllowed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
			return
		}
		h.logger.Warn("avatar probe failed", zap.Error(err))
	}
	c.Header("Cache-Control", probeCacheControl)
	if exists {
		c.Status(http.StatusNoContent)
		return
	}
	c.Status(http.StatusNotFound)
}
