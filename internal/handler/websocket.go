package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/service"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 64 << 10

	// per-socket allowance for client frames, independent of the send policy
	frameRate  = 10
	frameBurst = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// tokens travel in the query string, so origin is not what authenticates the socket
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what a connected client may ask of its session.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type serverFrame struct {
	Type  string                `json:"type"`
	Chat  *domain.ChatSnapshot  `json:"chat,omitempty"`
	Inbox *domain.InboxSnapshot `json:"inbox,omitempty"`
	Error *apperrors.APIError   `json:"error,omitempty"`
}

type WebSocketHandler struct {
	sessions *service.SessionManager
	log      logger.Logger
}

func NewWebSocketHandler(sessions *service.SessionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		log:      log,
	}
}

// HandleChat streams snapshots of one chat and accepts send and draft frames.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	userID, key, ok := requestContext(c)
	if !ok {
		return
	}
	chat, release, err := h.sessions.HoldChat(c.Request.Context(), userID, key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()
	changes, stopWatch := chat.Watch()
	defer stopWatch()

	snapshot := func() serverFrame {
		snap := chat.Snapshot()
		return serverFrame{Type: "chat", Chat: &snap}
	}
	handle := func(ctx context.Context, f clientFrame) error {
		switch f.Type {
		case "send":
			_, err := chat.Send(ctx, f.Content)
			return err
		case "draft":
			chat.SetDraft(f.Content)
			return nil
		case "cancel_attachment":
			chat.CancelAttachment()
			return nil
		default:
			return apperrors.ErrBadRequest
		}
	}
	h.stream(c.Request.Context(), conn, changes, snapshot, handle)
}

// HandleInbox streams inbox snapshots and accepts select and send frames for the active chat.
func (h *WebSocketHandler) HandleInbox(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	inbox, release, err := h.sessions.HoldInbox(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()
	changes, stopWatch := inbox.Watch()
	defer stopWatch()

	snapshot := func() serverFrame {
		snap := inbox.Snapshot()
		return serverFrame{Type: "inbox", Inbox: &snap}
	}
	handle := func(ctx context.Context, f clientFrame) error {
		chat := inbox.ActiveChat()
		switch {
		case f.Type == "refresh":
			return inbox.Refresh(ctx)
		case chat == nil:
			return apperrors.Validation("inbox", apperrors.ErrNoCounterpart)
		case f.Type == "send":
			_, err := chat.Send(ctx, f.Content)
			return err
		case f.Type == "draft":
			chat.SetDraft(f.Content)
			return nil
		default:
			return apperrors.ErrBadRequest
		}
	}
	h.stream(c.Request.Context(), conn, changes, snapshot, handle)
}

// stream owns conn: it writes a snapshot on connect and after every change, and runs
// client frames concurrently so a slow send never stalls reads.
func (h *WebSocketHandler) stream(parent context.Context, conn *websocket.Conn, changes <-chan struct{}, snapshot func() serverFrame, handle func(context.Context, clientFrame) error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	errs := make(chan error, 8)
	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	limiter := rate.NewLimiter(rate.Limit(frameRate), frameBurst)
	go func() {
		defer cancel()
		conn.SetReadLimit(maxClientFrame)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var f clientFrame
			if err := conn.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Warn("WebSocket closed unexpectedly", "error", err)
				}
				return
			}
			if !limiter.Allow() {
				report(apperrors.Validation("socket", apperrors.ErrRateLimited))
				continue
			}
			go func(f clientFrame) {
				if err := handle(ctx, f); err != nil {
					report(err)
				}
			}(f)
		}
	}()

	write := func(frame serverFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			h.log.Debug("Failed to write frame", "error", err)
			return false
		}
		return true
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if !write(snapshot()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !write(snapshot()) {
				return
			}
		case err := <-errs:
			if !write(serverFrame{Type: "error", Error: apperrors.FromError(err)}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
