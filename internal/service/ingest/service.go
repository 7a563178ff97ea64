package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/audio"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

// DefaultChunkSize matches the smallest part size S3 accepts.
const DefaultChunkSize = storage.MinPartSize

const keyPrefix = "audio"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Service streams inbound recordings into a blob store.
type Service struct {
	store     storage.BlobStore
	chunkSize int
	newID     func() string
}

// NewService creates an ingestion service. A non-positive chunkSize selects DefaultChunkSize.
func NewService(store storage.BlobStore, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{store: store, chunkSize: chunkSize, newID: uuid.NewString}
}

// Ingest writes upload.Body to the store chunk by chunk and returns the stored
// object's reference. Every call writes to a fresh key.
func (s *Service) Ingest(ctx context.Context, upload audio.AudioUpload) (audio.BlobReference, error) {
	const op = "ingest"
	log := logging.Component(ctx, "ingest")

	if upload.Body == nil {
		return audio.BlobReference{}, apperr.E(apperr.KindIngestion, op, errors.New("empty audio body"))
	}

	key := KeyFor(s.newID(), upload.Filename, upload.ContentType)
	up, err := s.store.Begin(ctx, key, upload.ContentType)
	if err != nil {
		return audio.BlobReference{}, apperr.E(apperr.KindIngestion, op, fmt.Errorf("begin upload %s: %w", key, err))
	}

	chunks := NewChunkReader(upload.Body, s.chunkSize)
	parts := 0
	for {
		chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			err = up.WritePart(ctx, chunk)
		} else {
			err = fmt.Errorf("read audio: %w", err)
		}
		if err != nil {
			if abortErr := up.Abort(context.WithoutCancel(ctx)); abortErr != nil {
				log.Warnf("abort upload %s failed: %v", key, abortErr)
			}
			return audio.BlobReference{}, apperr.E(apperr.KindIngestion, op, fmt.Errorf("%s after %d bytes: %w", key, chunks.BytesRead(), err))
		}
		parts++
	}

	ref, err := up.Complete(ctx)
	if err != nil {
		if abortErr := up.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			log.Warnf("abort upload %s failed: %v", key, abortErr)
		}
		return audio.BlobReference{}, apperr.E(apperr.KindIngestion, op, err)
	}

	log.WithFields(map[string]any{"key": ref.Key, "bytes": chunks.BytesRead(), "parts": parts}).Infof("stored audio")
	return ref, nil
}

// KeyFor builds the object key for one upload: audio/<id>/<name>. The client
// filename is only a hint; unsafe characters are replaced and an empty name
// falls back to "recording" with an extension derived from contentType.
func KeyFor(id, filename, contentType string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	name = strings.Trim(unsafeKeyChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		name = "recording" + extensionFor(contentType)
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return keyPrefix + "/" + id + "/" + name
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a", "audio/m4a":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	default:
		return ""
	}
}
