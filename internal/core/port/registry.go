// Package port file: internal/core/port/registry.go
package port

import (
	"DataAegis/internal/core/domain"
	"context"
)

// DatasourceRegistry 把数据源标识解析为带凭据的连接描述。
// 引擎按 id 引用数据源，注册表本身由服务层实现。
type DatasourceRegistry interface {
	Get(ctx context.Context, id string) (*domain.Datasource, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Datasource, error)
	Create(ctx context.Context, userID int64, ds *domain.Datasource) error
	Delete(ctx context.Context, userID int64, id string) error

	// OwnedBy 校验数据源归属，不属于该用户时返回 ErrPermissionDenied。
	OwnedBy(ctx context.Context, userID int64, id string) error
}

// HistoryStore 是只追加的查询历史。列出时按时间倒序。
type HistoryStore interface {
	Append(ctx context.Context, entry *domain.HistoryEntry) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.HistoryEntry, error)
}
