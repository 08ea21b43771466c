package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/metrics"
	apperrors "gig_marketplace/pkg/errors"
)

const (
	stageUpload = "upload"
	stageInsert = "insert"
)

// Send posts text plus the staged attachment, if any.
//
// The placeholder is visible and the composer cleared before any network call. On success
// the placeholder is reconciled with the durable row; on failure it is removed, the typed
// text and the attachment are restored and a TransientSendFailure is returned.
func (s *ChatSession) Send(ctx context.Context, text string) (domain.Message, error) {
	body := strings.TrimSpace(text)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.Message{}, apperrors.ErrSessionClosed
	}
	if body == "" && s.staging.Pending() == nil {
		return domain.Message{}, apperrors.Validation("send", apperrors.ErrEmptyComposer)
	}
	if s.view.Key.OtherPartyID == uuid.Nil || s.view.Key.OtherPartyID == s.view.UserID {
		return domain.Message{}, apperrors.Validation("send", apperrors.ErrNoCounterpart)
	}

	now := s.deps.Clock()
	if !s.limiter.TryAcquire(now) {
		metrics.RateLimited.Inc()
		s.startCountdown()
		return domain.Message{}, apperrors.Validation("send", apperrors.ErrRateLimited)
	}

	content := body
	att := s.staging.Take()
	if content == "" && att != nil {
		content = s.opts.FallbackCaption
	}

	receiver := s.view.Key.OtherPartyID
	placeholder := domain.Message{
		ID:         domain.NewPlaceholderID(),
		JobID:      s.view.Key.Scope.JobID(),
		SenderID:   s.view.UserID,
		ReceiverID: &receiver,
		Content:    content,
		CreatedAt:  now,
	}
	if att != nil {
		preview, kind := att.PreviewURL, domain.AttachmentTypeImage
		placeholder.AttachmentURL = &preview
		placeholder.AttachmentType = &kind
	}

	s.mu.Lock()
	next := make([]domain.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	s.messages = append(next, placeholder)
	s.draft = ""
	s.inflight++
	s.state = domain.SendStateSending
	s.notice = ""
	s.mu.Unlock()
	s.notify()

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	durable, stage, err := s.persist(sendCtx, content, att)
	if err != nil {
		pushed, delivered := s.rollback(placeholder.ID, body, att, stage, err)
		if !delivered {
			return domain.Message{}, apperrors.TransientSend(stage, err)
		}
		durable = pushed
	}

	s.staging.Release(att)
	outcome := s.mergeDurable(durable, placeholder.ID)
	metrics.MergeOutcomes.WithLabelValues("send", outcome.String()).Inc()
	metrics.MessagesSent.Inc()

	s.mu.Lock()
	delete(s.settled, placeholder.ID)
	s.inflight--
	if s.inflight == 0 && s.state == domain.SendStateSending {
		s.state = domain.SendStateIdle
	}
	s.mu.Unlock()
	s.notify()

	return durable, nil
}

func (s *ChatSession) persist(ctx context.Context, content string, att *PendingAttachment) (domain.Message, string, error) {
	record := domain.NewMessage{
		JobID:      s.view.Key.Scope.JobID(),
		SenderID:   s.view.UserID,
		ReceiverID: s.view.Key.OtherPartyID,
		Content:    content,
	}

	if att != nil {
		objectPath := fmt.Sprintf("%s/%d-%s", s.view.UserID, s.deps.Clock().UnixMilli(), safeFileName(att.File.Name))
		url, err := s.deps.Files.Upload(ctx, s.opts.Bucket, objectPath, att.File.Data, att.File.ContentType)
		if err != nil {
			return domain.Message{}, stageUpload, err
		}
		kind := domain.AttachmentTypeImage
		record.AttachmentURL = &url
		record.AttachmentType = &kind
	}

	durable, err := s.deps.Messages.Insert(ctx, record)
	if err != nil {
		return domain.Message{}, stageInsert, err
	}
	return durable, "", nil
}

// rollback undoes a failed send. When a push or refresh already replaced the placeholder
// with its durable row the insert did commit, so nothing is undone and that row is returned.
func (s *ChatSession) rollback(placeholderID, body string, att *PendingAttachment, stage string, cause error) (domain.Message, bool) {
	s.mu.Lock()
	if durable, ok := s.settled[placeholderID]; ok {
		s.mu.Unlock()
		s.log.Warn("Send reported failure after its row was delivered", "stage", stage, "error", cause, "message_id", durable.ID)
		return durable, true
	}
	s.messages = Remove(s.messages, placeholderID)
	if s.draft == "" {
		s.draft = body
	}
	s.inflight--
	s.state = domain.SendStateFailed
	s.notice = "Message could not be sent. Please try again."
	s.mu.Unlock()

	metrics.SendFailures.WithLabelValues(stage).Inc()
	s.log.Warn("Send failed, rolling back", "stage", stage, "error", cause, "placeholder_id", placeholderID)
	s.staging.Restore(att)
	s.notify()
	return domain.Message{}, false
}

// startCountdown notifies once per second while the composer is cooling down.
func (s *ChatSession) startCountdown() {
	s.mu.Lock()
	if s.countdown || s.closed {
		s.mu.Unlock()
		return
	}
	s.countdown = true
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		defer func() {
			s.mu.Lock()
			s.countdown = false
			s.mu.Unlock()
		}()
		for range t.C {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			active := s.limiter.Tick(s.deps.Clock())
			s.notify()
			if !active {
				return
			}
		}
	}()
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return uuid.NewString()
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
