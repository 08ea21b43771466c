package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"gig_marketplace/internal/service"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

type ChatHandler struct {
	sessions *service.SessionManager
	maxBytes int64
	log      logger.Logger
}

func NewChatHandler(sessions *service.SessionManager, maxAttachmentBytes int64, log logger.Logger) *ChatHandler {
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = 5 << 20
	}
	return &ChatHandler{
		sessions: sessions,
		maxBytes: maxAttachmentBytes,
		log:      log,
	}
}

func (h *ChatHandler) Open(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	chat, err := h.sessions.ChatFor(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, chat.Snapshot())
}

func (h *ChatHandler) Close(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	if !h.sessions.CloseChat(userID, key) {
		_ = c.Error(apperrors.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.sessions.ChatFor(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}

	message, err := chat.Send(c.Request.Context(), req.Content)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindTransientSend {
			h.log.Warn("Send failed", "error", err, "user_id", userID, "thread", key.String())
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

type UpdateDraftRequest struct {
	Draft string `json:"draft"`
}

func (h *ChatHandler) UpdateDraft(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	var req UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.sessions.ChatFor(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	chat.SetDraft(req.Draft)
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) StageAttachment(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer f.Close()

	// one byte past the limit is enough for staging to reject it
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		_ = c.Error(err)
		return
	}

	chat, err := h.sessions.ChatFor(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		// generic multipart type; let staging sniff the bytes
		contentType = ""
	}
	preview, err := chat.StageAttachment(service.AttachmentFile{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, preview)
}

func (h *ChatHandler) CancelAttachment(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	chat, err := h.sessions.ChatFor(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	chat.CancelAttachment()
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) Refresh(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}

	chat, err := h.sessions.RefreshChat(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, chat.Snapshot())
}
