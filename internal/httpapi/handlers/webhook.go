package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/playmate/internal/common"
	"github.com/suPer8Hu/playmate/internal/conversation"
	"github.com/suPer8Hu/playmate/internal/httpapi/middleware"
)

type inboundReq struct {
	From      string `json:"from" binding:"required"`
	Text      string `json:"text" binding:"required"`
	MessageID string `json:"message_id"`
}

// Inbound receives one message from the channel and answers with the
// replies that were dispatched for it.
func (h *Handler) Inbound(c *gin.Context) {
	var req inboundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid json")
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.Text) == "" {
		common.Fail(c, http.StatusBadRequest, 40002, "from and text required")
		return
	}

	out, err := h.Conv.HandleInbound(c.Request.Context(), conversation.Inbound{
		Address:   strings.TrimSpace(req.From),
		Text:      req.Text,
		MessageID: req.MessageID,
	})
	if err != nil {
		h.Log.Error("handle inbound failed",
			"channel", c.GetString(middleware.ChannelKey),
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to handle message")
		return
	}

	common.OK(c, gin.H{
		"session_id": out.SessionID,
		"phase":      out.Phase,
		"replies":    out.Replies,
		"duplicate":  out.Duplicate,
	})
}

// ListMessages pages a session transcript newest first; pass the returned
// next_before_id to continue.
func (h *Handler) ListMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 40003, "invalid before_id")
			return
		}
		beforeID = n
	}

	msgs, err := h.Transcripts.List(c.Request.Context(), sessionID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}
