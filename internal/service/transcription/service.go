package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/audio"
	"github.com/zhouzirui/scribe/backend/internal/service/inference"
)

// DefaultTimeout bounds a single transcription prediction.
const DefaultTimeout = 120 * time.Second

// Config 转写服务配置
type Config struct {
	Model   string
	Timeout time.Duration
	Params  audio.TranscriptionParams
}

// Service 调用推理服务把已上传的音频转成文字
type Service struct {
	runner inference.Runner
	cfg    Config
}

// NewService 创建转写服务；未设置的 Timeout 与 Params 使用默认值
func NewService(runner inference.Runner, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Params == (audio.TranscriptionParams{}) {
		cfg.Params = audio.DefaultTranscriptionParams()
	}
	return &Service{runner: runner, cfg: cfg}
}

// Transcribe runs the transcription model against ref.URI and waits for the result.
func (s *Service) Transcribe(ctx context.Context, ref audio.BlobReference) (audio.TranscriptionResult, error) {
	const op = "transcribe"
	log := logging.Component(ctx, "transcription")

	if strings.TrimSpace(ref.URI) == "" {
		return audio.TranscriptionResult{}, apperr.E(apperr.KindTranscription, op, errors.New("blob reference has no uri"))
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	req := audio.NewTranscriptionRequest(ref.URI, s.cfg.Params)
	output, err := s.runner.Run(runCtx, s.cfg.Model, req.Input())
	if err != nil {
		return audio.TranscriptionResult{}, apperr.E(apperr.KindService, op, err)
	}

	result, err := ParseOutput(output)
	if err != nil {
		return audio.TranscriptionResult{}, apperr.E(apperr.KindTranscription, op, err)
	}

	log.WithFields(map[string]any{
		"key":      ref.Key,
		"chars":    len(result.Text),
		"segments": len(result.Chunks),
		"elapsed":  time.Since(started).String(),
	}).Infof("transcription finished")
	return result, nil
}

// ParseOutput extracts the transcript from a prediction output. The output
// must be an object with a string "text" field, either already decoded or as
// JSON text. Timestamped "chunks" are kept when present and well formed.
func ParseOutput(output any) (audio.TranscriptionResult, error) {
	obj, err := asObject(output)
	if err != nil {
		return audio.TranscriptionResult{}, err
	}

	raw, ok := obj["text"]
	if !ok {
		return audio.TranscriptionResult{}, errors.New("output has no text field")
	}
	text, ok := raw.(string)
	if !ok {
		return audio.TranscriptionResult{}, fmt.Errorf("output text is %T, not a string", raw)
	}

	return audio.TranscriptionResult{Text: text, Chunks: parseChunks(obj["chunks"])}, nil
}

func asObject(output any) (map[string]any, error) {
	switch v := output.(type) {
	case map[string]any:
		return v, nil
	case string:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	case nil:
		return nil, errors.New("empty output")
	default:
		return nil, fmt.Errorf("unexpected output type %T", output)
	}
}

func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if obj == nil {
		return nil, errors.New("output is not an object")
	}
	return obj, nil
}

// parseChunks reads [{"text": "...", "timestamp": [start, end]}]; malformed
// entries are skipped.
func parseChunks(raw any) []audio.TranscriptChunk {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil
	}

	chunks := make([]audio.TranscriptChunk, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := entry["text"].(string)
		ts, _ := entry["timestamp"].([]any)
		if len(ts) == 0 {
			continue
		}
		start, ok := ts[0].(float64)
		if !ok {
			continue
		}
		chunk := audio.TranscriptChunk{Text: text, Start: start}
		if len(ts) > 1 {
			if end, ok := ts[1].(float64); ok {
				chunk.End = &end
			}
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}
