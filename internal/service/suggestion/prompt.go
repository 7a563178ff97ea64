package suggestion

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	model "github.com/zhouzirui/scribe/backend/internal/model/suggestion"
)

// Separator sits between the transcript and the user's instruction.
const Separator = "------"

const instructionTemplate = "\n{transcript}\n" + Separator + "\n{prompt}\n"

// Composer 把转写文本与用户指令拼成一条生成指令
type Composer struct {
	template prompt.ChatTemplate
}

// NewComposer 创建指令模板
func NewComposer() *Composer {
	return &Composer{
		template: prompt.FromMessages(schema.FString, schema.UserMessage(instructionTemplate)),
	}
}

// Compose renders the instruction. Empty fields are substituted as empty strings.
func (c *Composer) Compose(ctx context.Context, req model.Request) (string, error) {
	messages, err := c.template.Format(ctx, map[string]any{
		"transcript": req.Transcript,
		"prompt":     req.Prompt,
	})
	if err != nil {
		return "", fmt.Errorf("format instruction: %w", err)
	}
	if len(messages) != 1 {
		return "", fmt.Errorf("format instruction: expected 1 message, got %d", len(messages))
	}
	return messages[0].Content, nil
}
