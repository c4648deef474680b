// file: internal/service/adapters.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"DataAegis/internal/adapter/datasource/document"
	"DataAegis/internal/adapter/datasource/sqlrel"
	"DataAegis/internal/adapter/datasource/tabular"
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"DataAegis/internal/service/orchestrator"
)

// 编译期断言
var _ orchestrator.AdapterProvider = (*AdapterManager)(nil)

// AdapterManager 按数据源缓存适配器实例，连接池随适配器复用。
type AdapterManager struct {
	mu       sync.Mutex
	adapters map[string]port.DataSource

	maxPool int
}

// NewAdapterManager 创建适配器管理器。maxPool 约束每个后端的连接池大小。
func NewAdapterManager(maxPool int) *AdapterManager {
	if maxPool <= 0 {
		maxPool = 4
	}
	return &AdapterManager{
		adapters: make(map[string]port.DataSource),
		maxPool:  maxPool,
	}
}

// Adapter 实现 orchestrator.AdapterProvider。
func (m *AdapterManager) Adapter(ctx context.Context, ds *domain.Datasource) (port.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.adapters[ds.ID]; ok {
		return a, nil
	}

	a, err := m.build(ds)
	if err != nil {
		return nil, err
	}
	m.adapters[ds.ID] = a
	return a, nil
}

func (m *AdapterManager) build(ds *domain.Datasource) (port.DataSource, error) {
	switch ds.Kind {
	case domain.KindSQL:
		return sqlrel.New(ds, m.maxPool)
	case domain.KindDocument:
		return document.New(ds, m.maxPool)
	case domain.KindTabular:
		return tabular.New(ds)
	}
	return nil, fmt.Errorf("无法为类型 '%s' 构建适配器", ds.Kind)
}

// Evict 在数据源删除后关闭并移除适配器。
func (m *AdapterManager) Evict(id string) {
	m.mu.Lock()
	a, ok := m.adapters[id]
	delete(m.adapters, id)
	m.mu.Unlock()

	if ok {
		if err := a.Close(); err != nil {
			slog.Warn("关闭适配器失败", "datasource", id, "error", err)
		}
	}
}

// CloseAll 在停机时释放所有适配器。
func (m *AdapterManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.adapters {
		if err := a.Close(); err != nil {
			slog.Warn("关闭适配器失败", "datasource", id, "error", err)
		}
		delete(m.adapters, id)
	}
}
