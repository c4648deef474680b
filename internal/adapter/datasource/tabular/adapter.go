// file: internal/adapter/datasource/tabular/adapter.go
package tabular

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// 编译期断言
var _ port.DataSource = (*Adapter)(nil)

// Adapter 把一个 CSV / XLSX 文件封装为可查询的内存帧。
// 帧整体用原子指针持有：重载是"建新帧再换指针"，读方永远看到完整一致的帧。
type Adapter struct {
	ds    *domain.Datasource
	path  string
	frame atomic.Pointer[Frame]

	watcher     *fsnotify.Watcher
	timerMu     sync.Mutex
	reloadTimer *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// New 为一个 tabular 类数据源创建适配器。此时不读文件。
func New(ds *domain.Datasource) (*Adapter, error) {
	if ds == nil || ds.Kind != domain.KindTabular {
		return nil, fmt.Errorf("tabular 适配器只接受 kind=tabular 的数据源")
	}
	if ds.FilePath == "" {
		return nil, fmt.Errorf("tabular 数据源缺少文件路径")
	}
	return &Adapter{
		ds:   ds,
		path: filepath.Clean(ds.FilePath),
		done: make(chan struct{}),
	}, nil
}

// Connect 首次加载帧并启动文件监视。重复调用只做存在性确认。
func (a *Adapter) Connect(ctx context.Context) error {
	if a.frame.Load() != nil {
		return nil
	}
	frame, err := loadFrame(a.path)
	if err != nil {
		return &port.ConnectionError{Datasource: a.ds.ID, Err: err}
	}
	a.frame.Store(frame)
	if err := a.startWatcher(); err != nil {
		// 监视失败不致命，帧已可用，只是失去热重载
		return nil
	}
	return nil
}

// Close 停止监视器。可重复调用。
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.timerMu.Lock()
		if a.reloadTimer != nil {
			a.reloadTimer.Stop()
		}
		a.timerMu.Unlock()
	})
	return nil
}

// Kind 实现 port.DataSource。
func (a *Adapter) Kind() domain.Kind { return domain.KindTabular }

// Dialect 实现 port.DataSource。
func (a *Adapter) Dialect() domain.Dialect { return domain.DialectPipeline }

// FetchSchema 实现 port.DataSource。帧就是唯一的实体。
func (a *Adapter) FetchSchema(ctx context.Context) (*domain.SchemaSnapshot, error) {
	frame, err := a.currentFrame(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.SchemaSnapshot{
		DatasourceID: a.ds.ID,
		Dialect:      domain.DialectPipeline,
		Entities: []domain.EntitySchema{
			{Name: frame.Name, Fields: frame.Schema()},
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Execute 实现 port.DataSource。查询文本是守卫已放行的管道 JSON，
// 这里重新解析一次：解析即校验，词汇表之外的输入到不了求值器。
func (a *Adapter) Execute(ctx context.Context, query domain.GeneratedQuery, limits port.ExecLimits) (*port.Rowset, error) {
	steps, err := domain.ParsePipeline(query.Text)
	if err != nil {
		return nil, &port.ExecutionError{Datasource: a.ds.ID, Err: err}
	}

	frame, err := a.currentFrame(ctx)
	if err != nil {
		return nil, err
	}

	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := applyPipeline(ctx, frame, steps)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &port.TimeoutError{Datasource: a.ds.ID, Limit: timeout.String()}
		}
		return nil, &port.ExecutionError{Datasource: a.ds.ID, Err: err}
	}

	rows := out.Rows
	if limits.MaxRows > 0 && len(rows) > limits.MaxRows {
		rows = rows[:limits.MaxRows]
	}

	result := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(out.Columns))
		for j, c := range out.Columns {
			m[c] = row[j]
		}
		result[i] = m
	}
	return &port.Rowset{
		Columns: append([]string(nil), out.Columns...),
		Rows:    result,
	}, nil
}

// currentFrame 返回当前帧，未加载时先建连。
func (a *Adapter) currentFrame(ctx context.Context) (*Frame, error) {
	if f := a.frame.Load(); f != nil {
		return f, nil
	}
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	return a.frame.Load(), nil
}
