package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/avatars"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/comments"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type submissionRequestPayload struct {
	CommentID   string `json:"comment_id"`
	AuthorEmail string `json:"author_email"`
	AuthorURL   string `json:"author_url"`
}

type submissionResponsePayload struct {
	Resolved           bool   `json:"resolved"`
	Source             string `json:"source,omitempty"`
	AvatarURL          string `json:"avatar_url,omitempty"`
	SuggestedAuthorURL string `json:"suggested_author_url,omitempty"`
}

func (h *httpHandler) handleCommentSubmission(c *gin.Context) {
	var request submissionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.submissions.HandleSubmission(c.Request.Context(), comments.Submission{
		CommentID:   request.CommentID,
		AuthorEmail: request.AuthorEmail,
		AuthorURL:   request.AuthorURL,
	})
	if err != nil {
		if errors.Is(err, profiles.ErrInvalidCommentID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
			return
		}
		// Submission processing never fails the host's comment.
		h.logger.Error("comment submission failed", zap.Error(err))
		c.JSON(http.StatusOK, submissionResponsePayload{})
		return
	}

	c.JSON(http.StatusOK, submissionResponsePayload{
		Resolved:           outcome.Resolved,
		Source:             string(outcome.Source),
		AvatarURL:          outcome.AvatarURL,
		SuggestedAuthorURL: outcome.SuggestedAuthorURL,
	})
}

func (h *httpHandler) handleAvatarRender(c *gin.Context) {
	commentID, err := profiles.NewCommentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}
	width, err := parseDimension(c.Query("width"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_width"})
		return
	}
	height, err := parseDimension(c.Query("height"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_height"})
		return
	}

	descriptor := h.avatars.Render(c.Request.Context(), commentID, avatars.Size{Width: width, Height: height}, c.Query("alt"))
	c.JSON(http.StatusOK, descriptor)
}

func parseDimension(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 || value > 4096 {
		return 0, errors.New("dimension out of range")
	}
	return value, nil
}
