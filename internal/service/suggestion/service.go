package suggestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	model "github.com/zhouzirui/scribe/backend/internal/model/suggestion"
	"github.com/zhouzirui/scribe/backend/internal/service/inference"
)

const (
	// DefaultTimeout bounds one streaming suggestion from open to end-of-stream.
	DefaultTimeout = 120 * time.Second
	// DefaultMaxBytes caps the aggregated suggestion.
	DefaultMaxBytes = 64 << 10
)

// ErrSuggestionTooLarge is returned when the aggregated text exceeds Config.MaxBytes.
var ErrSuggestionTooLarge = errors.New("suggestion exceeds size limit")

// Config 建议服务配置
type Config struct {
	Model    string
	Timeout  time.Duration
	MaxBytes int
	Params   model.SamplingParams
}

// Service 以流式方式调用生成模型并聚合结果
type Service struct {
	streamer inference.Streamer
	composer *Composer
	cfg      Config
}

// NewService 创建建议服务；未设置的字段使用默认值
func NewService(streamer inference.Streamer, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Params == (model.SamplingParams{}) {
		cfg.Params = model.DefaultSamplingParams()
	}
	return &Service{streamer: streamer, composer: NewComposer(), cfg: cfg}
}

// Suggest streams a suggestion for req and returns the chunks concatenated in
// arrival order. onDelta, when non-nil, sees every chunk as it arrives. If the
// stream fails after it was opened, the text received so far is dropped and a
// stream error is returned.
func (s *Service) Suggest(ctx context.Context, req model.Request, onDelta func(string)) (model.Result, error) {
	const op = "suggest"
	log := logging.Component(ctx, "suggestion")

	instruction, err := s.composer.Compose(ctx, req)
	if err != nil {
		return model.Result{}, apperr.E(apperr.KindService, op, err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	stream, err := s.streamer.Stream(streamCtx, s.cfg.Model, s.cfg.Params.Input(instruction))
	if err != nil {
		return model.Result{}, apperr.E(apperr.KindService, op, err)
	}
	defer stream.Close()

	var (
		builder strings.Builder
		chunks  int
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warnf("suggestion stream failed after %d chunks (%d bytes discarded): %v", chunks, builder.Len(), err)
			return model.Result{}, apperr.E(apperr.KindStream, op, err)
		}
		if builder.Len()+len(chunk) > s.cfg.MaxBytes {
			return model.Result{}, apperr.E(apperr.KindStream, op, fmt.Errorf("%w: more than %d bytes", ErrSuggestionTooLarge, s.cfg.MaxBytes))
		}

		builder.WriteString(chunk)
		chunks++
		if onDelta != nil {
			onDelta(chunk)
		}
	}

	log.WithFields(map[string]any{
		"chunks":  chunks,
		"bytes":   builder.Len(),
		"elapsed": time.Since(started).String(),
	}).Infof("suggestion finished")
	return model.Result{Text: builder.String(), Chunks: chunks}, nil
}
