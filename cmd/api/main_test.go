package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/scribe/backend/internal/config"
	"github.com/zhouzirui/scribe/backend/internal/service/inference"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

func TestBuildStoreLocal(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Server:  config.ServerConfig{Addr: ":8000"},
		Storage: config.StorageConfig{Backend: config.StorageLocal, LocalDir: dir},
	}

	store, blobDir, err := buildStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.Local{}, store)
	assert.Equal(t, store.(*storage.Local).Root(), blobDir)

	up, err := store.Begin(context.Background(), "audio/x/a.wav", "audio/wav")
	require.NoError(t, err)
	ref, err := up.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/blobs/audio/x/a.wav", ref.URI)
}

func TestBuildStoreS3(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{
		Backend:    config.StorageS3,
		Bucket:     "recordings",
		Region:     "us-east-1",
		AccessKey:  "AKIA",
		SecretKey:  "secret",
		PresignTTL: time.Hour,
	}}

	store, blobDir, err := buildStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, blobDir)
	require.IsType(t, &storage.S3Store{}, store)
	assert.Equal(t, "recordings", store.(*storage.S3Store).Bucket())
}

func TestBuildStoreUnknown(t *testing.T) {
	_, _, err := buildStore(context.Background(), &config.Config{Storage: config.StorageConfig{Backend: "gcs"}})
	assert.Error(t, err)
}

func TestBuildStreamerDefaultsToReplicate(t *testing.T) {
	provider := &inference.Replicate{}
	cfg := &config.Config{Inference: config.InferenceConfig{SuggestionBackend: config.SuggestionReplicate}}

	streamer, err := buildStreamer(context.Background(), cfg, provider)
	require.NoError(t, err)
	assert.Same(t, provider, streamer)
}

func TestBuildStreamerArkNeedsCredentials(t *testing.T) {
	cfg := &config.Config{Inference: config.InferenceConfig{SuggestionBackend: config.SuggestionArk}}
	_, err := buildStreamer(context.Background(), cfg, &inference.Replicate{})
	assert.Error(t, err)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, ":8000", listenPort(":8000"))
	assert.Equal(t, ":9000", listenPort("127.0.0.1:9000"))
	assert.Equal(t, "", listenPort("localhost"))
}
