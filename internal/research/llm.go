package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// LLMClient 封装 Chat Completions 调用
type LLMClient struct {
	client openai.Client
	model  string
}

func NewLLMClient(apiKey, baseURL, model string) *LLMClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &LLMClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Completion 单轮对话，返回模型回复文本
func (c *LLMClient) Completion(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompletionJSON 单轮对话并把回复解析为 JSON
func (c *LLMClient) CompletionJSON(ctx context.Context, system, user string, out interface{}) error {
	content, err := c.Completion(ctx, system, user)
	if err != nil {
		return err
	}

	cleaned := StripJSONFences(content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("failed to parse model output as JSON: %w", err)
	}
	return nil
}

// StripJSONFences 去掉模型输出中包裹 JSON 的 markdown 代码块标记
func StripJSONFences(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
