package service

import (
	"net/http"
	"strings"
	"sync"

	"gig_marketplace/internal/domain"
	apperrors "gig_marketplace/pkg/errors"
)

const defaultMaxAttachmentBytes = 5 << 20

// AttachmentFile is the raw file kept for upload and for restoring after a failed send.
type AttachmentFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type PendingAttachment struct {
	File       AttachmentFile
	PreviewURL string
}

func (p *PendingAttachment) Preview() *domain.StagedPreview {
	if p == nil {
		return nil
	}
	return &domain.StagedPreview{
		Name:        p.File.Name,
		ContentType: p.File.ContentType,
		Size:        len(p.File.Data),
		PreviewURL:  p.PreviewURL,
	}
}

// AttachmentStaging holds at most one pending image per composer.
type AttachmentStaging struct {
	mu       sync.Mutex
	previews PreviewRegistry
	maxBytes int64
	pending  *PendingAttachment
}

func NewAttachmentStaging(previews PreviewRegistry, maxBytes int64) *AttachmentStaging {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAttachmentBytes
	}
	return &AttachmentStaging{previews: previews, maxBytes: maxBytes}
}

// Stage validates file and replaces any previously staged one.
// On error the staging is left untouched.
func (s *AttachmentStaging) Stage(file AttachmentFile) (*PendingAttachment, error) {
	if int64(len(file.Data)) > s.maxBytes {
		return nil, apperrors.Validation("stage attachment", apperrors.ErrAttachmentTooLarge)
	}
	if file.ContentType == "" {
		file.ContentType = http.DetectContentType(file.Data)
	}
	if !strings.HasPrefix(file.ContentType, "image/") {
		return nil, apperrors.Validation("stage attachment", apperrors.ErrUnsupportedAttachment)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.pending = &PendingAttachment{
		File:       file,
		PreviewURL: s.previews.Create(file.Data, file.ContentType),
	}
	return s.pending, nil
}

func (s *AttachmentStaging) Pending() *PendingAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Clear releases the preview unconditionally.
func (s *AttachmentStaging) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

// Take detaches the pending attachment from the composer. The caller owns its
// preview from then on and must Release or Restore it.
func (s *AttachmentStaging) Take() *PendingAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// Release revokes the preview of a taken attachment.
func (s *AttachmentStaging) Release(p *PendingAttachment) {
	if p == nil || p.PreviewURL == "" {
		return
	}
	s.previews.Revoke(p.PreviewURL)
	p.PreviewURL = ""
}

// Restore puts a taken attachment back with a fresh preview, unless the user staged
// another file in the meantime.
func (s *AttachmentStaging) Restore(p *PendingAttachment) {
	if p == nil {
		return
	}
	s.Release(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return
	}
	s.pending = &PendingAttachment{
		File:       p.File,
		PreviewURL: s.previews.Create(p.File.Data, p.File.ContentType),
	}
}

func (s *AttachmentStaging) release() {
	if s.pending == nil {
		return
	}
	s.previews.Revoke(s.pending.PreviewURL)
	s.pending = nil
}
