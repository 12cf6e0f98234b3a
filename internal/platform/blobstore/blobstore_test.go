package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStorePutAndOpen(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000")
	uploader := uuid.New()

	meta, err := store.Put(context.Background(), "chest.png", "image/png", uploader, bytes.NewReader([]byte("fake-png-bytes")))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if meta.URL == "" || !strings.HasPrefix(meta.URL, "http://localhost:8000/blobs/") {
		t.Errorf("unexpected URL: %q", meta.URL)
	}
	if meta.Size != int64(len("fake-png-bytes")) {
		t.Errorf("size = %d, want %d", meta.Size, len("fake-png-bytes"))
	}
	if meta.Hash == "" {
		t.Error("expected content hash")
	}

	rc, got, err := store.Open(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "fake-png-bytes" {
		t.Errorf("content = %q", data)
	}
	if got.ContentType != "image/png" {
		t.Errorf("content type = %q", got.ContentType)
	}
}

func TestMemoryStoreRejectsBadContentType(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000")
	_, err := store.Put(context.Background(), "notes.txt", "text/plain", uuid.New(), strings.NewReader("hello"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("err = %v, want ErrInvalidContentType", err)
	}
}

func TestMemoryStoreRejectsEmptyImage(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000")
	_, err := store.Put(context.Background(), "empty.png", "image/png", uuid.New(), bytes.NewReader(nil))
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

func TestMemoryStoreOpenMissing(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000")
	_, _, err := store.Open(context.Background(), uuid.New())
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("err = %v, want ErrBlobNotFound", err)
	}
}
