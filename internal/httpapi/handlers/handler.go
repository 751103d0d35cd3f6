package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/playmate/internal/common"
	"github.com/suPer8Hu/playmate/internal/conversation"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
)

// Inbounder handles one inbound channel message.
type Inbounder interface {
	HandleInbound(ctx context.Context, in conversation.Inbound) (conversation.Outcome, error)
}

// Transcripts pages through a session's interaction log.
type Transcripts interface {
	List(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]models.Interaction, error)
}

type Handler struct {
	Conv        Inbounder
	Transcripts Transcripts
	Log         *logger.Logger
}

func NewHandler(conv Inbounder, transcripts Transcripts, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Conv: conv, Transcripts: transcripts, Log: log.With("service", "HTTP")}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) NoRoute(c *gin.Context) {
	common.Fail(c, http.StatusNotFound, 40400, "route not found")
}

func (h *Handler) NoMethod(c *gin.Context) {
	common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
}
