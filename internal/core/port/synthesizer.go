// Package port file: internal/core/port/synthesizer.go
package port

import (
	"DataAegis/internal/core/domain"
	"context"
)

// SynthesisRequest 是交给合成器的输入。
// RejectedHint 仅在守卫拒绝后的唯一一次重合成时携带拒绝原因。
type SynthesisRequest struct {
	Question     string
	Snapshot     *domain.SchemaSnapshot
	RejectedHint string
}

// Synthesizer 是外部的自然语言到查询的合成能力。
// 其内部提示词与模型选择不属于本引擎的范围，这里只约束输入输出契约：
// 返回的查询文本必须对其声明的方言语法良构，引擎不修复畸形输出。
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*domain.GeneratedQuery, error)

	// ID 返回合成器标识，记录到结果的 llm_used 字段。
	ID() string
}

// Guard 决定某条候选查询在其方言下是否只读安全。
// 只接受白名单内的形状；任何解析歧义都必须拒绝（fail-closed），禁止改写查询。
type Guard interface {
	Validate(query domain.GeneratedQuery) error
}
