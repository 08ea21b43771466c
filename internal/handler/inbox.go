package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/service"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

type InboxHandler struct {
	sessions *service.SessionManager
	log      logger.Logger
}

func NewInboxHandler(sessions *service.SessionManager, log logger.Logger) *InboxHandler {
	return &InboxHandler{
		sessions: sessions,
		log:      log,
	}
}

func (h *InboxHandler) Get(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	inbox, err := h.sessions.Inbox(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inbox.Snapshot())
}

type SelectConversationRequest struct {
	CounterpartID string `json:"counterpart_id" binding:"required"`
	JobID         string `json:"job_id"`
}

func (h *InboxHandler) Select(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req SelectConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	other, err := uuid.Parse(req.CounterpartID)
	if err != nil {
		_ = c.Error(fmt.Errorf("invalid counterpart id: %w", apperrors.ErrBadRequest))
		return
	}
	scope, err := parseScope(req.JobID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	inbox, err := h.sessions.Inbox(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	chat, err := inbox.SelectConversation(c.Request.Context(), domain.ConversationKey{Scope: scope, OtherPartyID: other})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, chat.Snapshot())
}

func (h *InboxHandler) Refresh(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	inbox, err := h.sessions.Inbox(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if inbox.Degraded() {
		err = inbox.Resubscribe(c.Request.Context())
	} else {
		err = inbox.Refresh(c.Request.Context())
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inbox.Snapshot())
}

func (h *InboxHandler) Unread(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	counter, err := h.sessions.Unread(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": counter.Count()})
}
