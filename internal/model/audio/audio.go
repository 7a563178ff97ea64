package audio

import "io"

// AudioUpload is an inbound recording. It only lives for one ingestion call.
type AudioUpload struct {
	Body        io.Reader
	Filename    string
	ContentType string
}

// BlobReference identifies an uploaded recording in the blob store.
type BlobReference struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
}

// TranscriptionParams are the fixed knobs sent with every transcription request.
type TranscriptionParams struct {
	Task         string
	Language     string
	Timestamp    string
	BatchSize    int
	DiariseAudio bool
}

// DefaultTranscriptionParams mirrors the settings the transcription model is tuned for.
func DefaultTranscriptionParams() TranscriptionParams {
	return TranscriptionParams{
		Task:         "transcribe",
		Language:     "english",
		Timestamp:    "chunk",
		BatchSize:    64,
		DiariseAudio: false,
	}
}

// TranscriptionRequest is the provider input for one recording.
type TranscriptionRequest struct {
	AudioURI string
	TranscriptionParams
}

// NewTranscriptionRequest wraps uri with params.
func NewTranscriptionRequest(uri string, params TranscriptionParams) TranscriptionRequest {
	return TranscriptionRequest{AudioURI: uri, TranscriptionParams: params}
}

// Input renders the request in the provider's input schema.
func (r TranscriptionRequest) Input() map[string]any {
	return map[string]any{
		"audio":         r.AudioURI,
		"task":          r.Task,
		"language":      r.Language,
		"timestamp":     r.Timestamp,
		"batch_size":    r.BatchSize,
		"diarise_audio": r.DiariseAudio,
	}
}

// TranscriptChunk is one timestamped segment. Start and End are seconds; End
// may be nil for the trailing segment.
type TranscriptChunk struct {
	Text  string   `json:"text"`
	Start float64  `json:"start"`
	End   *float64 `json:"end,omitempty"`
}

// TranscriptionResult is the parsed provider output.
type TranscriptionResult struct {
	Text   string            `json:"text"`
	Chunks []TranscriptChunk `json:"chunks,omitempty"`
}
