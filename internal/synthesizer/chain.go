// file: internal/synthesizer/chain.go
package synthesizer

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// 编译期断言
var _ port.Synthesizer = (*Chain)(nil)

// generator 是链路里的一个合成后端。
type generator interface {
	ID() string
	Healthy(ctx context.Context) bool
	Generate(ctx context.Context, dialect domain.Dialect, prompt string) (string, error)
}

// Chain 按"主力优先、兜底接手"的次序调用合成后端。
// 哪个后端真正产出了查询，记在 GeneratedQuery.SynthesizerID 上。
type Chain struct {
	backends []generator
}

// NewChain 组装合成链。次序即优先级。
func NewChain(backends ...generator) *Chain {
	return &Chain{backends: backends}
}

// ID 实现 port.Synthesizer。
func (c *Chain) ID() string {
	ids := make([]string, len(c.backends))
	for i, b := range c.backends {
		ids[i] = b.ID()
	}
	return strings.Join(ids, "+")
}

// Health 逐个探测后端可用性，键为后端 ID。
func (c *Chain) Health(ctx context.Context) map[string]bool {
	status := make(map[string]bool, len(c.backends))
	for _, b := range c.backends {
		status[b.ID()] = b.Healthy(ctx)
	}
	return status
}

// Synthesize 实现 port.Synthesizer。
// 所有后端都失败时返回 *port.SynthesisError，原因汇总各自的失败。
func (c *Chain) Synthesize(ctx context.Context, req port.SynthesisRequest) (*domain.GeneratedQuery, error) {
	if req.Snapshot == nil {
		return nil, &port.SynthesisError{Reason: "缺少结构快照"}
	}
	prompt := buildPrompt(req)
	dialect := req.Snapshot.Dialect

	var failures []string
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !b.Healthy(ctx) {
			failures = append(failures, b.ID()+": 不可用")
			continue
		}
		raw, err := b.Generate(ctx, dialect, prompt)
		if err != nil {
			slog.Warn("合成后端失败，尝试下一个", "backend", b.ID(), "error", err)
			failures = append(failures, b.ID()+": "+err.Error())
			continue
		}
		text := cleanGenerated(raw)
		if text == "" {
			failures = append(failures, b.ID()+": 产出为空")
			continue
		}
		return &domain.GeneratedQuery{
			Text:          text,
			Dialect:       dialect,
			SynthesizerID: b.ID(),
		}, nil
	}
	return nil, &port.SynthesisError{Reason: strings.Join(failures, "; ")}
}

var (
	fenceOpenRe  = regexp.MustCompile("^```[\\w]*\\n?")
	fenceCloseRe = regexp.MustCompile("\\n?```$")
)

// 模型常见的废话前缀。
var noisePrefixes = []string{"sql:", "query:", "mongodb query:", "pipeline:", "sql query:"}

// cleanGenerated 剥掉 markdown 围栏与前缀废话。只剥外壳，不碰查询本体。
func cleanGenerated(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	for _, p := range noisePrefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	return s
}
