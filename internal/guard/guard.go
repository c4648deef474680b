// Package guard file: internal/guard/guard.go
//
// 守卫层决定一条候选查询在其方言下是否只读安全。
// 设计原则是白名单而非黑名单：查询必须命中所在方言的少数几种
// 已识别的只读形状才会被接受；任何解析歧义、未识别的结构一律拒绝
// （fail-closed）。守卫绝不改写查询，只给出 accept 或带原因的拒绝。
package guard

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"fmt"
)

// 编译期断言
var _ port.Guard = (*DialectGuard)(nil)

// DialectGuard 按查询方言分发到具体的校验器。
type DialectGuard struct{}

// New 创建方言守卫。守卫无状态，可被并发使用。
func New() *DialectGuard {
	return &DialectGuard{}
}

// Validate 实现 port.Guard。接受返回 nil，拒绝返回 *port.SafetyViolation。
func (g *DialectGuard) Validate(query domain.GeneratedQuery) error {
	switch query.Dialect {
	case domain.DialectSQLite, domain.DialectMySQL, domain.DialectPostgres:
		return validateSQL(query.Text, query.Dialect)
	case domain.DialectMongo:
		return validateDocument(query.Text)
	case domain.DialectPipeline:
		return validatePipeline(query.Text)
	default:
		// 未知方言没有任何已识别的只读形状，直接拒绝。
		return &port.SafetyViolation{
			Dialect: string(query.Dialect),
			Reason:  fmt.Sprintf("未知的查询方言 '%s'", query.Dialect),
		}
	}
}

// reject 是构造拒绝结论的统一入口。
func reject(dialect domain.Dialect, format string, args ...any) error {
	return &port.SafetyViolation{
		Dialect: string(dialect),
		Reason:  fmt.Sprintf(format, args...),
	}
}
