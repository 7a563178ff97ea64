package apperr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies failures so the HTTP layer can decide what to log and return.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig means required startup configuration is missing or invalid.
	KindConfig
	// KindIngestion means the audio could not be written to the blob store.
	KindIngestion
	// KindTranscription means the provider answered with something unusable.
	KindTranscription
	// KindStream means a streaming call ended before end-of-stream.
	KindStream
	// KindService means the upstream provider call itself failed.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIngestion:
		return "ingestion"
	case KindTranscription:
		return "transcription"
	case KindStream:
		return "stream"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. A nil err still yields an error so that callers can
// signal a kind without an underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap prefixes err with the calling function name and optional context.
// It returns nil when err is nil.
func Wrap(err error, context ...string) error {
	if err == nil {
		return nil
	}

	callerName := "unknown"
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			callerName = fn.Name()
		}
	}

	parts := make([]string, 0, 1+len(context))
	parts = append(parts, callerName)
	parts = append(parts, context...)

	return fmt.Errorf("%s: %w", strings.Join(parts, " - "), err)
}
