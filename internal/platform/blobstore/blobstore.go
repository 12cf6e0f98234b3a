// Package blobstore stores uploaded X-ray images and hands back a stable
// retrievable URL. The URL is treated as an opaque, immutable reference once
// it lands on a case record. The in-memory implementation backs development
// and tests; production deployments swap in an object-storage implementation
// behind the same interface.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrImageTooLarge      = errors.New("image exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyImage         = errors.New("image payload is empty")
)

// MaxImageSize caps uploaded X-ray images at 100 MB.
const MaxImageSize = 100 * 1024 * 1024

// AllowedContentTypes lists the accepted radiology image MIME types.
var AllowedContentTypes = map[string]bool{
	"image/png":         true,
	"image/jpeg":        true,
	"image/gif":         true,
	"image/dicom":       true,
	"application/dicom": true,
}

// ImageMeta describes a stored X-ray image.
type ImageMeta struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for X-ray image storage backends.
type Store interface {
	// Put stores the image bytes and returns metadata including the
	// stable URL.
	Put(ctx context.Context, fileName, contentType string, uploadedBy uuid.UUID, content io.Reader) (*ImageMeta, error)
	// Open returns the image content and metadata by blob ID.
	Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, *ImageMeta, error)
}

type storedImage struct {
	meta    ImageMeta
	content []byte
}

// MemoryStore is an in-memory Store keyed by blob ID.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[uuid.UUID]*storedImage
}

// NewMemoryStore creates a MemoryStore whose URLs are rooted at baseURL
// (e.g. "http://localhost:8000").
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		blobs:   make(map[uuid.UUID]*storedImage),
	}
}

func (s *MemoryStore) Put(_ context.Context, fileName, contentType string, uploadedBy uuid.UUID, content io.Reader) (*ImageMeta, error) {
	if !AllowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if int64(len(data)) > MaxImageSize {
		return nil, ErrImageTooLarge
	}

	id := uuid.New()
	meta := ImageMeta{
		ID:          id,
		URL:         fmt.Sprintf("%s/blobs/%s", s.baseURL, id),
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", sha256.Sum256(data)),
		UploadedBy:  uploadedBy,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.blobs[id] = &storedImage{meta: meta, content: data}
	s.mu.Unlock()

	return &meta, nil
}

func (s *MemoryStore) Open(_ context.Context, id uuid.UUID) (io.ReadCloser, *ImageMeta, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.meta
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Handler serves stored images over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/blobs/:id", h.Download)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid blob id")
	}
	rc, meta, err := h.store.Open(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "blob not found")
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
