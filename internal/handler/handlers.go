package handler

import (
	"gig_marketplace/internal/config"
	"gig_marketplace/internal/repository"
	"gig_marketplace/internal/service"
	"gig_marketplace/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Inbox     *InboxHandler
	Chat      *ChatHandler
	Media     *MediaHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(sessions *service.SessionManager, repos *repository.Repositories, previews *service.MemoryPreviews, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(repos.Feed),
		Inbox:     NewInboxHandler(sessions, log),
		Chat:      NewChatHandler(sessions, cfg.Messaging.MaxAttachmentBytes, log),
		Media:     NewMediaHandler(repos.Blobs, previews, log),
		WebSocket: NewWebSocketHandler(sessions, log),
	}
}
