// Package orchestrator — 查询执行引擎的编排层
// internal/service/orchestrator/schema_cache.go
package orchestrator

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"DataAegis/internal/aegobserve"
	"DataAegis/internal/core/domain"
)

const (
	defaultSchemaTTL     = 5 * time.Minute
	defaultSchemaEntries = 256
)

// SchemaCache 按数据源缓存结构快照。
// 未命中时的抓取经 singleflight 合并：同一数据源的并发未命中只触发一次后端采样。
type SchemaCache struct {
	cache *lru.LRU[string, *domain.SchemaSnapshot]
	group singleflight.Group
}

// NewSchemaCache 创建缓存。maxEntries / ttl 非正时取默认值。
func NewSchemaCache(maxEntries int, ttl time.Duration) *SchemaCache {
	if maxEntries <= 0 {
		maxEntries = defaultSchemaEntries
	}
	if ttl <= 0 {
		ttl = defaultSchemaTTL
	}
	return &SchemaCache{
		cache: lru.NewLRU[string, *domain.SchemaSnapshot](maxEntries, nil, ttl),
	}
}

// Get 返回数据源的结构快照，必要时通过 fetch 抓取并缓存。
func (c *SchemaCache) Get(ctx context.Context, datasourceID string, fetch func(context.Context) (*domain.SchemaSnapshot, error)) (*domain.SchemaSnapshot, error) {
	if snap, ok := c.cache.Get(datasourceID); ok {
		aegobserve.RecordSchemaCache(true)
		return snap, nil
	}
	aegobserve.RecordSchemaCache(false)

	v, err, _ := c.group.Do(datasourceID, func() (any, error) {
		// 进组后再查一次：前一个航班可能刚填好缓存
		if snap, ok := c.cache.Get(datasourceID); ok {
			return snap, nil
		}
		snap, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Add(datasourceID, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.SchemaSnapshot), nil
}

// Invalidate 在数据源被删除或结构已知变化时移除快照。
func (c *SchemaCache) Invalidate(datasourceID string) {
	c.cache.Remove(datasourceID)
}
