// file: internal/synthesizer/claude.go
package synthesizer

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"DataAegis/internal/core/domain"
)

// ClaudeClient 是兜底合成后端，在 Ollama 不可用或失败时接手。
type ClaudeClient struct {
	client  anthropic.Client
	model   anthropic.Model
	enabled bool
}

// NewClaudeClient 创建客户端。未配置 API key 时返回禁用实例，
// 链路在健康检查处会直接跳过它。
func NewClaudeClient(apiKey, model string) *ClaudeClient {
	if apiKey == "" {
		return &ClaudeClient{}
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &ClaudeClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model(model),
		enabled: true,
	}
}

// ID 实现 generator。
func (c *ClaudeClient) ID() string { return "claude" }

// Healthy 只看是否配置过凭据，不发探测请求。
func (c *ClaudeClient) Healthy(ctx context.Context) bool { return c.enabled }

// Generate 发一次单轮消息请求，拼接所有文本块作为产出。
func (c *ClaudeClient) Generate(ctx context.Context, dialect domain.Dialect, prompt string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("claude 兜底未配置 API key")
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   1024,
		Temperature: anthropic.Float(0.1),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(dialect)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude 请求失败: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
