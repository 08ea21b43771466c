package service

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const previewPathPrefix = "/previews/"

type previewBlob struct {
	data        []byte
	contentType string
}

// MemoryPreviews is the in-process PreviewRegistry served at /previews/:id.
type MemoryPreviews struct {
	mu    sync.RWMutex
	blobs map[string]previewBlob
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{blobs: make(map[string]previewBlob)}
}

func (p *MemoryPreviews) Create(data []byte, contentType string) string {
	id := uuid.NewString()
	p.mu.Lock()
	p.blobs[id] = previewBlob{data: data, contentType: contentType}
	p.mu.Unlock()
	return previewPathPrefix + id
}

func (p *MemoryPreviews) Revoke(url string) {
	id := strings.TrimPrefix(url, previewPathPrefix)
	p.mu.Lock()
	delete(p.blobs, id)
	p.mu.Unlock()
}

func (p *MemoryPreviews) Get(id string) ([]byte, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blobs[id]
	return b.data, b.contentType, ok
}

// Len is the number of live previews.
func (p *MemoryPreviews) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.blobs)
}
