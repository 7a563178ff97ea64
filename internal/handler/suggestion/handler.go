package suggestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/suggestion"
	"github.com/zhouzirui/scribe/backend/pkg/utils"
)

const (
	maxRequestBytes = 1 << 20
	suggestError    = "An error occurred while generating suggestion"
)

// Suggester 抽象建议生成，便于测试与替换实现
type Suggester interface {
	Suggest(ctx context.Context, req suggestion.Request, onDelta func(string)) (suggestion.Result, error)
}

// Handler 建议生成的HTTP处理器
type Handler struct {
	svc Suggester
	ws  *WebSocketHandler
}

// New 创建建议处理器
func New(svc Suggester) *Handler {
	return &Handler{svc: svc, ws: NewWebSocketHandler(svc)}
}

// RegisterRoutes 注册建议相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/get-suggestion", h.handleSuggest)
	r.Post("/get-suggestion/stream", h.handleSuggestStream)
	h.ws.RegisterWebSocketRoutes(r)
}

// handleSuggest 聚合完整建议后一次性返回
func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Suggest(r.Context(), req, nil)
	if err != nil {
		logFailure(r.Context(), err)
		utils.RespondError(w, http.StatusInternalServerError, suggestError)
		return
	}

	utils.RespondResult(w, "suggestion", result.Text)
}

// handleSuggestStream 以SSE推送增量文本，最后发送 done 或 error 事件
func (h *Handler) handleSuggestStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	log := logging.Component(ctx, "suggestion")

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	result, err := h.svc.Suggest(ctx, req, func(delta string) {
		if err := utils.SendSSEEvent(w, flusher, "delta", map[string]string{"text": delta}); err != nil {
			log.Debugf("send delta failed: %v", err)
		}
	})
	if err != nil {
		logFailure(ctx, err)
		if sendErr := utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": suggestError}); sendErr != nil {
			log.Debugf("send error event failed: %v", sendErr)
		}
		return
	}

	if err := utils.SendSSEEvent(w, flusher, "done", map[string]string{"suggestion": result.Text}); err != nil {
		log.Debugf("send done event failed: %v", err)
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (suggestion.Request, bool) {
	var req suggestion.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		logFailure(r.Context(), fmt.Errorf("decode request: %w", err))
		utils.RespondError(w, http.StatusInternalServerError, suggestError)
		return req, false
	}
	return req, true
}

func logFailure(ctx context.Context, err error) {
	logging.Component(ctx, "suggestion").WithFields(map[string]any{
		"kind": apperr.KindOf(err).String(),
	}).Errorf("generate suggestion failed: %v", err)
}
