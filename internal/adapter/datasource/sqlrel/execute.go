// file: internal/adapter/datasource/sqlrel/execute.go
package sqlrel

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"context"
	"errors"
	"time"
)

// Execute 实现 port.DataSource。
// 查询在带截止时间的 context 下执行：超时触发时 QueryContext 会中断
// 底层驱动的调用（而非仅放弃等待），连接随之回到池中可复用状态。
// 行数在扫描阶段按 MaxRows 截断。
func (a *Adapter) Execute(ctx context.Context, query domain.GeneratedQuery, limits port.ExecLimits) (*port.Rowset, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if limits.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	rows, err := db.QueryContext(execCtx, query.Text)
	if err != nil {
		return nil, a.classify(execCtx, err, limits.Timeout)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &port.ExecutionError{Datasource: a.ds.ID, Err: err}
	}

	out := &port.Rowset{Columns: columns}
	for rows.Next() {
		if limits.MaxRows > 0 && len(out.Rows) >= limits.MaxRows {
			break
		}
		scanDest := make([]any, len(columns))
		scanPtrs := make([]any, len(columns))
		for i := range scanDest {
			scanPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, a.classify(execCtx, err, limits.Timeout)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = scanDest[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, a.classify(execCtx, err, limits.Timeout)
	}
	return out, nil
}

// classify 把驱动错误映射到错误分类：截止时间触发 → TimeoutError，
// 调用方取消 → 原样传播，其余 → ExecutionError。
func (a *Adapter) classify(ctx context.Context, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &port.TimeoutError{Datasource: a.ds.ID, Limit: timeout.String()}
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &port.ExecutionError{Datasource: a.ds.ID, Err: err}
}
