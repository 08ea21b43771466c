package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gig_marketplace/internal/repository"
	"gig_marketplace/internal/service"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// MediaHandler serves stored attachments and the short-lived previews of staged ones.
type MediaHandler struct {
	blobs    *repository.BlobStore
	previews *service.MemoryPreviews
	log      logger.Logger
}

func NewMediaHandler(blobs *repository.BlobStore, previews *service.MemoryPreviews, log logger.Logger) *MediaHandler {
	return &MediaHandler{
		blobs:    blobs,
		previews: previews,
		log:      log,
	}
}

func (h *MediaHandler) Storage(c *gin.Context) {
	bucket := c.Param("bucket")
	path := strings.TrimPrefix(c.Param("path"), "/")

	blob, err := h.blobs.Get(bucket, path)
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		h.log.Error("Failed to read attachment", "error", err, "bucket", bucket, "path", path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

func (h *MediaHandler) Preview(c *gin.Context) {
	data, contentType, ok := h.previews.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview revoked"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, data)
}
