// Package storage writes uploaded recordings to durable blob storage.
//
// Writes are session based: Begin opens an upload, WritePart appends one chunk,
// Complete publishes the object and returns its reference. Parts must be
// written sequentially; an Upload is not safe for concurrent use.
package storage

import (
	"context"
	"errors"

	"github.com/zhouzirui/scribe/backend/internal/model/audio"
)

// ErrUploadClosed is returned when an Upload is used after Complete or Abort.
var ErrUploadClosed = errors.New("storage: upload already closed")

// BlobStore opens upload sessions.
type BlobStore interface {
	Begin(ctx context.Context, key, contentType string) (Upload, error)
}

// Upload is one in-flight object write.
type Upload interface {
	// WritePart appends p. The store must not retain p after returning.
	WritePart(ctx context.Context, p []byte) error
	// Complete finalizes the object and returns where it can be fetched.
	Complete(ctx context.Context) (audio.BlobReference, error)
	// Abort releases any partial state. It is safe to call after a failed
	// WritePart and is a no-op once the upload is closed.
	Abort(ctx context.Context) error
}
