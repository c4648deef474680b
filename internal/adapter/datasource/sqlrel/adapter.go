// Package sqlrel — 关系型后端适配器 (SQLite / MySQL / PostgreSQL)
// internal/adapter/datasource/sqlrel/adapter.go
package sqlrel

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// 编译期断言，确保 *Adapter 实现 port.DataSource 接口
var _ port.DataSource = (*Adapter)(nil)

// driverDialects 把数据源声明的驱动名映射到 database/sql 驱动与查询方言。
// 集合是封闭的：未列出的驱动在构造时即被拒绝。
var driverDialects = map[string]struct {
	sqlDriver string
	dialect   domain.Dialect
}{
	"sqlite":   {sqlDriver: "sqlite", dialect: domain.DialectSQLite},
	"mysql":    {sqlDriver: "mysql", dialect: domain.DialectMySQL},
	"postgres": {sqlDriver: "pgx", dialect: domain.DialectPostgres},
}

// Adapter 管理到单个关系型数据源的连接池。
// 连接池归 Orchestrator 持有并显式生命周期管理，不存在进程级单例。
type Adapter struct {
	ds      *domain.Datasource
	dialect domain.Dialect
	driver  string

	mu sync.Mutex
	db *sql.DB // 懒初始化，Connect 建立

	maxConns int
}

// New 为一个 sql 类数据源创建适配器。此时不建立连接。
func New(ds *domain.Datasource, maxConns int) (*Adapter, error) {
	if ds == nil || ds.Kind != domain.KindSQL {
		return nil, fmt.Errorf("sqlrel 适配器只接受 kind=sql 的数据源")
	}
	entry, ok := driverDialects[ds.Driver]
	if !ok {
		return nil, fmt.Errorf("不支持的 SQL 驱动: '%s'", ds.Driver)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	return &Adapter{
		ds:       ds,
		dialect:  entry.dialect,
		driver:   entry.sqlDriver,
		maxConns: maxConns,
	}, nil
}

// Connect 建立或复用池化连接。后端不可达返回 *port.ConnectionError。
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		db, err := sql.Open(a.driver, a.ds.DSN)
		if err != nil {
			return &port.ConnectionError{Datasource: a.ds.ID, Err: err}
		}
		db.SetMaxOpenConns(a.maxConns)
		db.SetMaxIdleConns(a.maxConns)
		db.SetConnMaxIdleTime(5 * time.Minute)
		a.db = db
	}

	if err := a.db.PingContext(ctx); err != nil {
		return &port.ConnectionError{Datasource: a.ds.ID, Err: err}
	}
	return nil
}

// Close 释放连接池。可重复调用。
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Kind 实现 port.DataSource。
func (a *Adapter) Kind() domain.Kind { return domain.KindSQL }

// Dialect 实现 port.DataSource。
func (a *Adapter) Dialect() domain.Dialect { return a.dialect }

// conn 返回已建立的连接池，供包内查询路径使用。
func (a *Adapter) conn(ctx context.Context) (*sql.DB, error) {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db != nil {
		return db, nil
	}
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db, nil
}
