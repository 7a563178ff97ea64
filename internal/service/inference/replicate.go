package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/replicate/replicate-go"
)

// Replicate server-sent event types.
const (
	eventOutput = "output"
	eventLogs   = "logs"
	eventError  = "error"
	eventDone   = "done"
)

// ErrEmptyModel is returned when no model identifier is supplied.
var ErrEmptyModel = errors.New("inference: model identifier is required")

type (
	runFunc    func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error)
	streamFunc func(ctx context.Context, model string, input replicate.PredictionInput) (<-chan replicate.SSEEvent, <-chan error)
)

// Replicate implements Runner and Streamer on the Replicate prediction API.
type Replicate struct {
	run    runFunc
	stream streamFunc
	buffer int
}

// ReplicateOptions configures NewReplicateClient.
type ReplicateOptions struct {
	Token   string
	BaseURL string
}

// NewReplicateClient builds an authenticated replicate-go client.
func NewReplicateClient(opts ReplicateOptions) (*replicate.Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("inference: replicate api token is required")
	}

	clientOpts := []replicate.ClientOption{replicate.WithToken(token)}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		clientOpts = append(clientOpts, replicate.WithBaseURL(baseURL))
	}

	client, err := replicate.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("inference: create replicate client: %w", err)
	}
	return client, nil
}

// NewReplicate wraps client.
func NewReplicate(client *replicate.Client) *Replicate {
	return &Replicate{
		run: func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error) {
			return client.Run(ctx, model, input, nil)
		},
		stream: func(ctx context.Context, model string, input replicate.PredictionInput) (<-chan replicate.SSEEvent, <-chan error) {
			return client.Stream(ctx, model, input, nil)
		},
		buffer: 16,
	}
}

// Run creates a prediction and blocks until it finishes.
func (r *Replicate) Run(ctx context.Context, model string, input map[string]any) (any, error) {
	if strings.TrimSpace(model) == "" {
		return nil, ErrEmptyModel
	}
	out, err := r.run(ctx, model, replicate.PredictionInput(input))
	if err != nil {
		return nil, fmt.Errorf("replicate run %s: %w", model, err)
	}
	return out, nil
}

// Stream creates a streaming prediction and relays its output events through
// an eino stream. Log events are dropped; an error event or a transport error
// ends the stream with that error, and so does a stream that closes without a
// done event. Failures before the first event, such as a rejected prediction,
// are returned by Stream itself.
func (r *Replicate) Stream(ctx context.Context, model string, input map[string]any) (*schema.StreamReader[string], error) {
	if strings.TrimSpace(model) == "" {
		return nil, ErrEmptyModel
	}

	streamCtx, cancel := context.WithCancel(ctx)
	events, errs := r.stream(streamCtx, model, replicate.PredictionInput(input))
	if events == nil {
		cancel()
		return nil, fmt.Errorf("replicate stream %s: no event channel", model)
	}

	first, err := firstEvent(streamCtx, events, errs)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("replicate stream %s: %w", model, err)
	}

	reader, writer := schema.Pipe[string](r.buffer)
	go func() {
		defer cancel()
		defer writer.Close()
		relay := &eventRelay{model: model, writer: writer}
		if relay.handle(first) {
			return
		}
		relay.run(streamCtx, events, errs)
	}()
	return reader, nil
}

// firstEvent waits for the first server event of a prediction.
func firstEvent(ctx context.Context, events <-chan replicate.SSEEvent, errs <-chan error) (replicate.SSEEvent, error) {
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return replicate.SSEEvent{}, ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return replicate.SSEEvent{}, err
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			return ev, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return replicate.SSEEvent{}, err
	}
	return replicate.SSEEvent{}, errors.New("stream closed before any event")
}

type eventRelay struct {
	model  string
	writer *schema.StreamWriter[string]
	done   bool
}

func (r *eventRelay) fail(err error) {
	r.writer.Send("", fmt.Errorf("replicate stream %s: %w", r.model, err))
}

// handle forwards one event and reports whether the stream is finished.
func (r *eventRelay) handle(ev replicate.SSEEvent) bool {
	switch ev.Type {
	case eventOutput:
		return r.writer.Send(ev.Data, nil)
	case eventError:
		r.fail(fmt.Errorf("prediction failed: %s", strings.TrimSpace(ev.Data)))
		return true
	case eventDone:
		if reason := doneReason(ev.Data); reason != "" {
			r.fail(fmt.Errorf("prediction ended early: %s", reason))
		} else {
			r.done = true
		}
		return true
	}
	return false
}

func (r *eventRelay) run(ctx context.Context, events <-chan replicate.SSEEvent, errs <-chan error) {
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			r.fail(ctx.Err())
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				r.fail(err)
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if r.handle(ev) {
				return
			}
		}
	}

	// The client closes both channels on cancellation without a done event.
	if !r.done {
		if err := ctx.Err(); err != nil {
			r.fail(err)
			return
		}
		r.fail(errors.New("stream ended before done event"))
	}
}

// doneReason extracts the reason of a done event. Successful predictions send
// an empty object.
func doneReason(data string) string {
	data = strings.TrimSpace(data)
	if data == "" {
		return ""
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return ""
	}
	return payload.Reason
}

var (
	_ Runner   = (*Replicate)(nil)
	_ Streamer = (*Replicate)(nil)
)
