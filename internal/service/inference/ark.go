package inference

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ArkStreamer streams suggestions from an eino chat model (Volcengine Ark).
// The model identifier is fixed when the chat model is built, so the model
// argument of Stream is only used for error messages. Sampling inputs the chat
// API understands (temperature, top_p, max_new_tokens) are forwarded; the rest
// are ignored.
type ArkStreamer struct {
	chatModel model.BaseChatModel
}

// NewArkStreamer wraps chatModel.
func NewArkStreamer(chatModel model.BaseChatModel) *ArkStreamer {
	return &ArkStreamer{chatModel: chatModel}
}

// Stream sends input["prompt"] as a single user message.
func (a *ArkStreamer) Stream(ctx context.Context, modelName string, input map[string]any) (*schema.StreamReader[string], error) {
	prompt, _ := input["prompt"].(string)
	messages := []*schema.Message{schema.UserMessage(prompt)}

	stream, err := a.chatModel.Stream(ctx, messages, chatOptions(input)...)
	if err != nil {
		return nil, fmt.Errorf("ark stream %s: %w", modelName, err)
	}

	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil {
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	}), nil
}

func chatOptions(input map[string]any) []model.Option {
	var opts []model.Option
	if v, ok := input["temperature"].(float64); ok {
		opts = append(opts, model.WithTemperature(float32(v)))
	}
	if v, ok := input["top_p"].(float64); ok {
		opts = append(opts, model.WithTopP(float32(v)))
	}
	if v, ok := input["max_new_tokens"].(int); ok && v > 0 {
		opts = append(opts, model.WithMaxTokens(v))
	}
	return opts
}

var _ Streamer = (*ArkStreamer)(nil)
