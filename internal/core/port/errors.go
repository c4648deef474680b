// Package port file: internal/core/port/errors.go
package port

import (
	"errors"
	"fmt"
)

// 错误分类。输入类错误（ValidationError / SafetyViolation）永不重试；
// ConnectionError 允许一次退避重试；其余对当次请求都是终态。
var (
	ErrDatasourceNotFound = errors.New("指定的数据源未找到")
	ErrPermissionDenied   = errors.New("权限不足，操作被拒绝")
	ErrBackpressure       = errors.New("数据源当前并发已满，请稍后再试")
)

// ValidationError 表示请求本身不合法（缺字段、空问题等）。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "请求校验失败: " + e.Reason }

// ConnectionError 表示后端不可达，属于基础设施类错误。
type ConnectionError struct {
	Datasource string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("数据源 '%s' 连接失败: %v", e.Datasource, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// SynthesisError 表示合成器没有产出可用的查询。
type SynthesisError struct {
	Reason string
}

func (e *SynthesisError) Error() string { return "查询合成失败: " + e.Reason }

// SafetyViolation 表示守卫拒绝了候选查询。原因原样进入失败结果，不做改写。
type SafetyViolation struct {
	Dialect string
	Reason  string
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("安全守卫拒绝 (%s): %s", e.Dialect, e.Reason)
}

// ExecutionError 表示后端在执行期间报告的运行时错误（如列不存在）。
type ExecutionError struct {
	Datasource string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("数据源 '%s' 执行查询失败: %v", e.Datasource, e.Err)
}
func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError 表示执行超过了配置的墙钟上限，底层调用已被主动取消。
type TimeoutError struct {
	Datasource string
	Limit      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("数据源 '%s' 查询超时 (上限 %s)", e.Datasource, e.Limit)
}

// NormalizationError 表示后端返回了规范化器无法解释的形状。
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string { return "结果规范化失败: " + e.Reason }
