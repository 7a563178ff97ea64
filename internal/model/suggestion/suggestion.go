package suggestion

// Request 建议请求
type Request struct {
	Transcript string `json:"transcript"`
	Prompt     string `json:"prompt"`
}

// SamplingParams 生成模型的固定采样参数
type SamplingParams struct {
	TopK              int
	TopP              float64
	Temperature       float64
	MaxNewTokens      int
	MinNewTokens      int
	RepetitionPenalty float64
	PromptTemplate    string
	Debug             bool
}

// DefaultSamplingParams 默认采样参数
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		TopK:              50,
		TopP:              0.9,
		Temperature:       0.6,
		MaxNewTokens:      512,
		MinNewTokens:      -1,
		RepetitionPenalty: 1.15,
		PromptTemplate:    "<s>[INST] {prompt} [/INST] ",
		Debug:             false,
	}
}

// Input 组装模型输入
func (p SamplingParams) Input(prompt string) map[string]any {
	return map[string]any{
		"debug":              p.Debug,
		"top_k":              p.TopK,
		"top_p":              p.TopP,
		"prompt":             prompt,
		"temperature":        p.Temperature,
		"max_new_tokens":     p.MaxNewTokens,
		"min_new_tokens":     p.MinNewTokens,
		"prompt_template":    p.PromptTemplate,
		"repetition_penalty": p.RepetitionPenalty,
	}
}

// Result 聚合后的建议文本
type Result struct {
	Text   string `json:"suggestion"`
	Chunks int    `json:"-"`
}
