// Package port file: internal/core/port/datasource.go
package port

import (
	"DataAegis/internal/core/domain"
	"context"
	"time"
)

// ExecLimits 约束一次执行：行数上限 + 墙钟超时。
// 超时到达后适配器必须主动取消底层调用，而不是只放弃等待。
type ExecLimits struct {
	MaxRows int
	Timeout time.Duration
}

// Rowset 是适配器返回的原生结果：有序的列名 + 行映射序列。
// 单个聚合值也封装成只含一行的 Rowset。
type Rowset struct {
	Columns []string
	Rows    []map[string]any
}

// DataSource 是所有后端适配器必须实现的能力集。
// 适配器只接受已通过守卫校验的查询——这条路径由 Orchestrator 保证。
type DataSource interface {
	// Connect 建立或复用到后端的连接；后端不可达时返回 *ConnectionError。
	Connect(ctx context.Context) error

	// FetchSchema 返回结构快照。只做有界采样，禁止全量扫描。
	FetchSchema(ctx context.Context) (*domain.SchemaSnapshot, error)

	// Execute 在限额内执行查询。超时返回 *TimeoutError，后端运行时错误返回 *ExecutionError。
	Execute(ctx context.Context, query domain.GeneratedQuery, limits ExecLimits) (*Rowset, error)

	// Close 释放池化资源，重复调用应当是安全的。
	Close() error

	// Kind 返回适配器对应的后端类型标识。
	Kind() domain.Kind

	// Dialect 返回该后端生成查询所用的方言。
	Dialect() domain.Dialect
}
