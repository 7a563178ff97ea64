// Package inference adapts hosted model providers to the two call shapes the
// service needs: a blocking prediction and an ordered text stream.
package inference

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Runner performs a synchronous prediction and returns the decoded output.
type Runner interface {
	Run(ctx context.Context, model string, input map[string]any) (any, error)
}

// Streamer starts a streaming prediction. Chunks arrive in provider order; the
// reader yields io.EOF after the final chunk. Callers must Close the reader.
type Streamer interface {
	Stream(ctx context.Context, model string, input map[string]any) (*schema.StreamReader[string], error)
}
