package server

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed assets/mystery.svg
var mysteryPlaceholder []byte

func handleMysteryPlaceholder(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/svg+xml", mysteryPlaceholder)
}
