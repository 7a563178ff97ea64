package audio

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/audio"
	"github.com/zhouzirui/scribe/backend/pkg/utils"
)

const (
	// DefaultMaxUploadBytes 单次上传的音频大小上限
	DefaultMaxUploadBytes int64 = 200 << 20

	audioField   = "audio"
	processError = "An error occurred while processing the audio"
)

var errMissingAudio = errors.New("multipart form has no audio field")

// Ingester 把上传的音频写入存储
type Ingester interface {
	Ingest(ctx context.Context, upload audio.AudioUpload) (audio.BlobReference, error)
}

// Transcriber 对已存储的音频做转写
type Transcriber interface {
	Transcribe(ctx context.Context, ref audio.BlobReference) (audio.TranscriptionResult, error)
}

// Handler 音频上传与转写的HTTP处理器
type Handler struct {
	ingester       Ingester
	transcriber    Transcriber
	maxUploadBytes int64
}

// New 创建音频处理器
func New(ingester Ingester, transcriber Transcriber) *Handler {
	return &Handler{
		ingester:       ingester,
		transcriber:    transcriber,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
}

// WithMaxUploadBytes 调整上传大小上限，非正数保持默认值
func (h *Handler) WithMaxUploadBytes(n int64) *Handler {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// RegisterRoutes 注册音频相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/process-audio", h.handleProcessAudio)
}

// handleProcessAudio streams the "audio" multipart field into storage without
// buffering the whole file, then transcribes the stored object. Every failure,
// including a malformed form, answers 500 with the same message.
func (h *Handler) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		fail(ctx, w, apperr.E(apperr.KindIngestion, "read form", err), processError)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			fail(ctx, w, apperr.E(apperr.KindIngestion, "read form", errMissingAudio), processError)
			return
		}
		if err != nil {
			fail(ctx, w, apperr.E(apperr.KindIngestion, "read form", err), processError)
			return
		}
		if part.FormName() != audioField {
			part.Close()
			continue
		}

		transcript, err := h.process(ctx, audio.AudioUpload{
			Body:        part,
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
		})
		part.Close()
		if err != nil {
			fail(ctx, w, err, processError)
			return
		}

		utils.RespondResult(w, "transcript", transcript)
		return
	}
}

func (h *Handler) process(ctx context.Context, upload audio.AudioUpload) (string, error) {
	ref, err := h.ingester.Ingest(ctx, upload)
	if err != nil {
		return "", err
	}

	result, err := h.transcriber.Transcribe(ctx, ref)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func fail(ctx context.Context, w http.ResponseWriter, err error, message string) {
	logging.Component(ctx, "audio").WithFields(map[string]any{
		"kind": apperr.KindOf(err).String(),
	}).Errorf("process audio failed: %v", err)
	utils.RespondError(w, http.StatusInternalServerError, message)
}
