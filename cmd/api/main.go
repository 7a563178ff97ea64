package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/config"
	"github.com/zhouzirui/scribe/backend/internal/handler"
	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/audio"
	suggestionModel "github.com/zhouzirui/scribe/backend/internal/model/suggestion"
	"github.com/zhouzirui/scribe/backend/internal/service/inference"
	"github.com/zhouzirui/scribe/backend/internal/service/ingest"
	"github.com/zhouzirui/scribe/backend/internal/service/suggestion"
	"github.com/zhouzirui/scribe/backend/internal/service/transcription"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New(ctx).Fatalf("failed to load configuration: %v", err)
	}

	logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	log := logging.Component(ctx, "main")
	if envErr != nil {
		log.Warnf("failed to load .env file, continuing with system environment variables only: %v", envErr)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	store, blobDir, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}

	replicateClient, err := inference.NewReplicateClient(inference.ReplicateOptions{
		Token:   cfg.Inference.ReplicateToken,
		BaseURL: cfg.Inference.ReplicateBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to initialize replicate client: %v", err)
	}
	provider := inference.NewReplicate(replicateClient)

	streamer, err := buildStreamer(ctx, cfg, provider)
	if err != nil {
		log.Fatalf("failed to initialize suggestion backend: %v", err)
	}

	router := handler.NewRouter(handler.Services{
		Ingester: ingest.NewService(store, cfg.Storage.ChunkSize),
		Transcriber: transcription.NewService(provider, transcription.Config{
			Model:   cfg.Inference.TranscriptionModel,
			Timeout: cfg.Inference.TranscribeTimeout,
			Params:  audio.DefaultTranscriptionParams(),
		}),
		Suggester: suggestion.NewService(streamer, suggestion.Config{
			Model:    cfg.Inference.SuggestionModel,
			Timeout:  cfg.Inference.SuggestTimeout,
			MaxBytes: cfg.Inference.SuggestMaxBytes,
			Params:   suggestionModel.DefaultSamplingParams(),
		}),
		BlobDir: blobDir,
	})

	log.WithFields(map[string]any{
		"storage":    cfg.Storage.Backend,
		"suggestion": cfg.Inference.SuggestionBackend,
	}).Infof("services initialized")

	startServer(ctx, cfg.Server, router)
}

// buildStore 根据配置创建存储后端；本地存储还会返回需要对外公开的目录
func buildStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, string, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.StorageLocal:
		baseURL := sc.LocalPublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost" + listenPort(cfg.Server.Addr) + "/blobs"
		}
		local, err := storage.NewLocal(sc.LocalDir, baseURL)
		if err != nil {
			return nil, "", apperr.Wrap(err, "local storage "+sc.LocalDir)
		}
		return local, local.Root(), nil

	case config.StorageS3:
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:       sc.Region,
			AccessKey:    sc.AccessKey,
			SecretKey:    sc.SecretKey,
			SessionToken: sc.SessionToken,
			Endpoint:     sc.Endpoint,
			UsePathStyle: sc.UsePathStyle,
		})
		if err != nil {
			return nil, "", apperr.Wrap(err, "s3 bucket "+sc.Bucket)
		}

		var opts []storage.S3StoreOption
		if sc.Endpoint != "" {
			opts = append(opts, storage.WithEndpoint(sc.Endpoint, sc.UsePathStyle))
		}
		if sc.PresignTTL > 0 {
			opts = append(opts, storage.WithPresign(s3.NewPresignClient(client), sc.PresignTTL))
		}
		return storage.NewS3(client, sc.Bucket, opts...), "", nil

	default:
		return nil, "", fmt.Errorf("unsupported storage backend %q", sc.Backend)
	}
}

// buildStreamer 选择建议生成后端
func buildStreamer(ctx context.Context, cfg *config.Config, replicate inference.Streamer) (inference.Streamer, error) {
	if cfg.Inference.SuggestionBackend != config.SuggestionArk {
		return replicate, nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return inference.NewArkStreamer(chatModel), nil
}

func listenPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ""
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	log := logging.Component(ctx, "main")

	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infof("scribe backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
