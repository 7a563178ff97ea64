package suggestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	model "github.com/zhouzirui/scribe/backend/internal/model/suggestion"
)

type fakeStreamer struct {
	chunks  []string
	midErr  error
	openErr error
	block   bool

	model string
	input map[string]any
}

func (f *fakeStreamer) Stream(ctx context.Context, modelName string, input map[string]any) (*schema.StreamReader[string], error) {
	f.model = modelName
	f.input = input
	if f.openErr != nil {
		return nil, f.openErr
	}

	reader, writer := schema.Pipe[string](len(f.chunks) + 1)
	if f.block {
		go func() {
			defer writer.Close()
			<-ctx.Done()
			writer.Send("", ctx.Err())
		}()
		return reader, nil
	}

	for _, c := range f.chunks {
		writer.Send(c, nil)
	}
	if f.midErr != nil {
		writer.Send("", f.midErr)
	}
	writer.Close()
	return reader, nil
}

func TestSuggestConcatenatesInOrder(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Hello", ", ", "world"}}
	svc := NewService(streamer, Config{Model: "mistral"})

	var deltas []string
	result, err := svc.Suggest(context.Background(), model.Request{Transcript: "t", Prompt: "p"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", result.Text)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, []string{"Hello", ", ", "world"}, deltas)
}

func TestSuggestSendsComposedPromptAndSampling(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"ok"}}
	svc := NewService(streamer, Config{Model: "mistralai/mistral-7b-instruct-v0.2"})

	_, err := svc.Suggest(context.Background(), model.Request{Transcript: "we met at noon", Prompt: "summarize"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "mistralai/mistral-7b-instruct-v0.2", streamer.model)
	assert.Equal(t, "\nwe met at noon\n------\nsummarize\n", streamer.input["prompt"])
	assert.Equal(t, 50, streamer.input["top_k"])
	assert.Equal(t, 0.9, streamer.input["top_p"])
	assert.Equal(t, 0.6, streamer.input["temperature"])
	assert.Equal(t, 512, streamer.input["max_new_tokens"])
	assert.Equal(t, -1, streamer.input["min_new_tokens"])
	assert.Equal(t, 1.15, streamer.input["repetition_penalty"])
	assert.Equal(t, "<s>[INST] {prompt} [/INST] ", streamer.input["prompt_template"])
	assert.Equal(t, false, streamer.input["debug"])
}

func TestSuggestEmptyInputs(t *testing.T) {
	streamer := &fakeStreamer{}
	svc := NewService(streamer, Config{Model: "mistral"})

	result, err := svc.Suggest(context.Background(), model.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.Text)
	assert.Zero(t, result.Chunks)
	assert.Equal(t, "\n\n------\n\n", streamer.input["prompt"])
}

func TestSuggestMidStreamErrorDiscardsPartial(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Hello", ", "}, midErr: errors.New("prediction failed")}
	svc := NewService(streamer, Config{Model: "mistral"})

	result, err := svc.Suggest(context.Background(), model.Request{Transcript: "t", Prompt: "p"}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStream))
	assert.Contains(t, err.Error(), "prediction failed")
	assert.Empty(t, result.Text)
}

func TestSuggestOpenError(t *testing.T) {
	svc := NewService(&fakeStreamer{openErr: errors.New("unauthorized")}, Config{Model: "mistral"})

	_, err := svc.Suggest(context.Background(), model.Request{}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindService))
}

func TestSuggestSizeCap(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"aaaa", "bbbb", "cccc"}}
	svc := NewService(streamer, Config{Model: "mistral", MaxBytes: 10})

	_, err := svc.Suggest(context.Background(), model.Request{}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStream))
	assert.ErrorIs(t, err, ErrSuggestionTooLarge)

	svc = NewService(&fakeStreamer{chunks: []string{"aaaa", "bbbbbb"}}, Config{Model: "mistral", MaxBytes: 10})
	result, err := svc.Suggest(context.Background(), model.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbbbb", result.Text)
}

func TestSuggestTimeout(t *testing.T) {
	svc := NewService(&fakeStreamer{block: true}, Config{Model: "mistral", Timeout: 10 * time.Millisecond})

	_, err := svc.Suggest(context.Background(), model.Request{}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStream))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSuggestCallerCancel(t *testing.T) {
	svc := NewService(&fakeStreamer{block: true}, Config{Model: "mistral"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Suggest(ctx, model.Request{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComposerKeepsBracesInValues(t *testing.T) {
	out, err := NewComposer().Compose(context.Background(), model.Request{
		Transcript: "use {braces} here",
		Prompt:     strings.Repeat("x", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, "\nuse {braces} here\n------\nxxx\n", out)
}
