package ingest

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/model/audio"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

type memoryStore struct {
	objects  map[string][]byte
	partLens []int
	failAt   int
	aborted  bool
	beginErr error
	lastKey  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Begin(_ context.Context, key, _ string) (storage.Upload, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.lastKey = key
	return &memoryUpload{store: m, key: key}, nil
}

type memoryUpload struct {
	store *memoryStore
	key   string
	buf   bytes.Buffer
	parts int
}

func (u *memoryUpload) WritePart(_ context.Context, p []byte) error {
	u.parts++
	if u.store.failAt != 0 && u.parts == u.store.failAt {
		return errors.New("storage unavailable")
	}
	u.store.partLens = append(u.store.partLens, len(p))
	u.buf.Write(p)
	return nil
}

func (u *memoryUpload) Complete(_ context.Context) (audio.BlobReference, error) {
	u.store.objects[u.key] = append([]byte{}, u.buf.Bytes()...)
	return audio.BlobReference{Bucket: "mem", Key: u.key, URI: "mem://" + u.key}, nil
}

func (u *memoryUpload) Abort(_ context.Context) error {
	u.store.aborted = true
	return nil
}

func TestIngestRoundTripAcrossChunkSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 100, 8191, 8192, 8193, 50000} {
		for _, size := range []int{1, 512, 8192, 1 << 16} {
			input := make([]byte, n)
			rng.Read(input)

			store := newMemoryStore()
			svc := NewService(store, size)
			ref, err := svc.Ingest(context.Background(), audio.AudioUpload{
				Body:     iotest.HalfReader(bytes.NewReader(input)),
				Filename: "clip.webm",
			})
			require.NoError(t, err)

			assert.True(t, bytes.Equal(input, store.objects[ref.Key]), "n=%d size=%d", n, size)
			for _, l := range store.partLens {
				assert.LessOrEqual(t, l, size)
			}
		}
	}
}

func TestIngestUsesUniqueKeys(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, 4)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		ref, err := svc.Ingest(context.Background(), audio.AudioUpload{
			Body:     strings.NewReader("same bytes"),
			Filename: "recording.webm",
		})
		require.NoError(t, err)
		assert.False(t, seen[ref.Key], "key %s reused", ref.Key)
		assert.True(t, strings.HasPrefix(ref.Key, "audio/"))
		assert.True(t, strings.HasSuffix(ref.Key, "/recording.webm"))
		seen[ref.Key] = true
	}
	assert.Len(t, store.objects, 5)
}

func TestIngestWriteFailureAborts(t *testing.T) {
	store := newMemoryStore()
	store.failAt = 3
	svc := NewService(store, 4)

	_, err := svc.Ingest(context.Background(), audio.AudioUpload{
		Body: strings.NewReader(strings.Repeat("x", 40)),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIngestion))
	assert.True(t, store.aborted)
	assert.Empty(t, store.objects)
	assert.Equal(t, []int{4, 4}, store.partLens)
}

func TestIngestSourceFailureAborts(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, 4)

	_, err := svc.Ingest(context.Background(), audio.AudioUpload{
		Body: iotest.ErrReader(errors.New("unexpected EOF in multipart")),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIngestion))
	assert.True(t, store.aborted)
}

func TestIngestBeginFailure(t *testing.T) {
	store := newMemoryStore()
	store.beginErr = errors.New("bucket missing")
	svc := NewService(store, 4)

	_, err := svc.Ingest(context.Background(), audio.AudioUpload{Body: strings.NewReader("x")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIngestion))
	assert.Contains(t, err.Error(), "bucket missing")
}

func TestIngestNilBody(t *testing.T) {
	svc := NewService(newMemoryStore(), 0)
	_, err := svc.Ingest(context.Background(), audio.AudioUpload{})
	assert.True(t, apperr.Is(err, apperr.KindIngestion))
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		want        string
	}{
		{name: "plain", filename: "clip.webm", want: "audio/id/clip.webm"},
		{name: "spaces", filename: "my clip (1).wav", want: "audio/id/my_clip_1_.wav"},
		{name: "traversal", filename: "../../etc/passwd", want: "audio/id/passwd"},
		{name: "windows path", filename: `C:\Users\me\note.mp3`, want: "audio/id/note.mp3"},
		{name: "empty with type", filename: "", contentType: "audio/webm;codecs=opus", want: "audio/id/recording.webm"},
		{name: "empty unknown type", filename: "  ", contentType: "application/octet-stream", want: "audio/id/recording"},
		{name: "dot only", filename: ".", contentType: "audio/wav", want: "audio/id/recording.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFor("id", tt.filename, tt.contentType))
		})
	}
}
