package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/scribe/backend/internal/handler/audio"
	"github.com/zhouzirui/scribe/backend/internal/handler/suggestion"
	middlewarePkg "github.com/zhouzirui/scribe/backend/internal/middleware"
	"github.com/zhouzirui/scribe/backend/pkg/utils"
	"github.com/zhouzirui/scribe/backend/web"
)

// Services 路由依赖的业务服务
type Services struct {
	Ingester    audio.Ingester
	Transcriber audio.Transcriber
	Suggester   suggestion.Suggester
	// BlobDir 非空时在 /blobs/ 下公开本地存储目录，供推理服务拉取音频
	BlobDir string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	audio.New(svcs.Ingester, svcs.Transcriber).RegisterRoutes(r)
	suggestion.New(svcs.Suggester).RegisterRoutes(r)

	if svcs.BlobDir != "" {
		r.Handle("/blobs/*", http.StripPrefix("/blobs/", http.FileServer(http.Dir(svcs.BlobDir))))
	}

	return r
}

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(web.IndexHTML)
}
