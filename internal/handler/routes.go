package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gig_marketplace/internal/middleware"
	"gig_marketplace/pkg/logger"
)

type RouterOptions struct {
	Production bool
	// Limiter and Metrics are optional.
	Limiter *middleware.RateLimitMiddleware
	Metrics http.Handler
}

func NewRouter(h *Handlers, auth *middleware.AuthMiddleware, opts RouterOptions, log logger.Logger) *gin.Engine {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", h.Health.Check)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// attachment URLs are embedded in messages and fetched without credentials
	router.GET("/storage/:bucket/*path", h.Media.Storage)
	router.GET("/previews/:id", h.Media.Preview)

	protected := []gin.HandlerFunc{auth.RequireAuth()}
	if opts.Limiter != nil {
		protected = append(protected, opts.Limiter.Limit())
	}

	v1 := router.Group("/api/v1")
	v1.Use(protected...)
	{
		v1.GET("/inbox", h.Inbox.Get)
		v1.POST("/inbox/select", h.Inbox.Select)
		v1.POST("/inbox/refresh", h.Inbox.Refresh)
		v1.GET("/unread", h.Inbox.Unread)

		chats := v1.Group("/chats/:counterpartId")
		{
			chats.GET("", h.Chat.Open)
			chats.DELETE("", h.Chat.Close)
			chats.POST("/messages", h.Chat.SendMessage)
			chats.PUT("/draft", h.Chat.UpdateDraft)
			chats.POST("/attachment", h.Chat.StageAttachment)
			chats.DELETE("/attachment", h.Chat.CancelAttachment)
			chats.POST("/refresh", h.Chat.Refresh)
		}
	}

	ws := router.Group("/ws")
	ws.Use(auth.RequireAuth())
	{
		ws.GET("/chat/:counterpartId", h.WebSocket.HandleChat)
		ws.GET("/inbox", h.WebSocket.HandleInbox)
	}

	return router
}
