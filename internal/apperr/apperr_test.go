package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("handler: %w", E(KindService, "transcribe", base))

	assert.Equal(t, KindService, KindOf(err))
	assert.True(t, Is(err, KindService))
	assert.False(t, Is(err, KindStream))
	assert.ErrorIs(t, err, base)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestErrorMessage(t *testing.T) {
	err := E(KindIngestion, "ingest", errors.New("disk full"))
	assert.Equal(t, "ingest: ingestion error: disk full", err.Error())

	bare := E(KindTranscription, "", nil)
	assert.Equal(t, "transcription error", bare.Error())
}

func TestEf(t *testing.T) {
	err := Ef(KindStream, "suggest", "stopped after %d chunks", 3)
	assert.Equal(t, "suggest: stream error: stopped after 3 chunks", err.Error())
}

func TestWrapAddsCallerName(t *testing.T) {
	assert.NoError(t, Wrap(nil))

	base := errors.New("boom")
	err := Wrap(base, "extra")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "TestWrapAddsCallerName")
	assert.Contains(t, err.Error(), "extra")
}
