// Package document — 文档型后端适配器 (MongoDB)
// internal/adapter/datasource/document/adapter.go
package document

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// 编译期断言
var _ port.DataSource = (*Adapter)(nil)

const serverSelectionTimeout = 5 * time.Second

// Adapter 管理到单个 MongoDB 数据源的池化客户端。
// mongo 驱动自身维护连接池，这里约束池大小并负责生命周期。
type Adapter struct {
	ds *domain.Datasource

	mu     sync.Mutex
	client *mongo.Client

	maxPool uint64
}

// New 为一个 document 类数据源创建适配器。此时不建立连接。
func New(ds *domain.Datasource, maxPool int) (*Adapter, error) {
	if ds == nil || ds.Kind != domain.KindDocument {
		return nil, fmt.Errorf("document 适配器只接受 kind=document 的数据源")
	}
	if ds.Database == "" {
		return nil, fmt.Errorf("document 数据源缺少目标库名")
	}
	if maxPool <= 0 {
		maxPool = 4
	}
	return &Adapter{ds: ds, maxPool: uint64(maxPool)}, nil
}

// Connect 建立或复用客户端。后端不可达返回 *port.ConnectionError。
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		opts := options.Client().
			ApplyURI(a.ds.DSN).
			SetMaxPoolSize(a.maxPool).
			SetServerSelectionTimeout(serverSelectionTimeout)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return &port.ConnectionError{Datasource: a.ds.ID, Err: err}
		}
		a.client = client
	}

	if err := a.client.Ping(ctx, readpref.Primary()); err != nil {
		return &port.ConnectionError{Datasource: a.ds.ID, Err: err}
	}
	return nil
}

// Close 断开客户端。可重复调用。
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.client.Disconnect(ctx)
	a.client = nil
	return err
}

// Kind 实现 port.DataSource。
func (a *Adapter) Kind() domain.Kind { return domain.KindDocument }

// Dialect 实现 port.DataSource。
func (a *Adapter) Dialect() domain.Dialect { return domain.DialectMongo }

// database 返回目标库句柄，必要时先建连。
func (a *Adapter) database(ctx context.Context) (*mongo.Database, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		client = a.client
		a.mu.Unlock()
	}
	return client.Database(a.ds.Database), nil
}

// classify 把驱动错误映射到错误分类。
func (a *Adapter) classify(ctx context.Context, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &port.TimeoutError{Datasource: a.ds.ID, Limit: timeout.String()}
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &port.ExecutionError{Datasource: a.ds.ID, Err: err}
}
