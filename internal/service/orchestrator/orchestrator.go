// file: internal/service/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"DataAegis/internal/aegobserve"
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"DataAegis/internal/normalize"
)

// ConnectionError 的唯一一次重试前的退避。
const connRetryBackoff = 500 * time.Millisecond

// AdapterProvider 把数据源解析为已就绪的适配器。
// 适配器按数据源复用，生命周期由提供方管理。
type AdapterProvider interface {
	Adapter(ctx context.Context, ds *domain.Datasource) (port.DataSource, error)
}

// Dependencies 汇集编排器的全部外部依赖，便于测试替换。
type Dependencies struct {
	Registry port.DatasourceRegistry
	History  port.HistoryStore
	Synth    port.Synthesizer
	Guard    port.Guard
	Adapters AdapterProvider
	Schemas  *SchemaCache
	Inflight *InflightLimiter
	Limits   port.ExecLimits
}

// Orchestrator 驱动一次查询请求走完全程：
// 取结构快照 → 合成 → 守卫校验 → 限额执行 → 规范化。
// 查询只有两条出路：通过守卫后执行，或者带着守卫的拒绝原因失败；
// 不存在绕开守卫的执行路径。
type Orchestrator struct {
	deps Dependencies
}

// New 创建编排器。Limits 非正的字段回落到默认值（30s / 10000 行）。
func New(deps Dependencies) *Orchestrator {
	if deps.Limits.Timeout <= 0 {
		deps.Limits.Timeout = 30 * time.Second
	}
	if deps.Limits.MaxRows <= 0 {
		deps.Limits.MaxRows = 10000
	}
	if deps.Schemas == nil {
		deps.Schemas = NewSchemaCache(0, 0)
	}
	if deps.Inflight == nil {
		deps.Inflight = NewInflightLimiter(0, 0)
	}
	return &Orchestrator{deps: deps}
}

// Query 处理一次自然语言查询。
//
// 返回值分两层：error 只承载请求级失败（校验、不存在、无权限、背压），
// 由传输层映射为 4xx；其余所有失败都折叠进 QueryResult{Success: false}。
func (o *Orchestrator) Query(ctx context.Context, userID int64, datasourceID, question string) (*domain.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &port.ValidationError{Reason: "question 不能为空"}
	}
	if datasourceID == "" {
		return nil, &port.ValidationError{Reason: "datasource_id 不能为空"}
	}

	if err := o.deps.Registry.OwnedBy(ctx, userID, datasourceID); err != nil {
		return nil, err
	}
	ds, err := o.deps.Registry.Get(ctx, datasourceID)
	if err != nil {
		return nil, err
	}

	release, err := o.deps.Inflight.Acquire(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	result := o.run(ctx, ds, question)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	aegobserve.ObserveQuery(string(ds.Kind), outcome, time.Since(start))
	slog.Info("查询请求完成",
		"datasource", ds.ID,
		"kind", ds.Kind,
		"success", result.Success,
		"row_count", result.RowCount,
		"llm_used", result.SynthesizerID,
		"elapsed", time.Since(start).String(),
	)

	o.appendHistory(userID, ds.ID, question, result)
	return result, nil
}

// run 执行核心状态机。任何一步失败都产出终态的失败结果。
func (o *Orchestrator) run(ctx context.Context, ds *domain.Datasource, question string) *domain.QueryResult {
	adapter, err := o.deps.Adapters.Adapter(ctx, ds)
	if err != nil {
		return o.failure(ds, nil, err)
	}

	// Received → SchemaReady
	snap, err := o.deps.Schemas.Get(ctx, ds.ID, func(ctx context.Context) (*domain.SchemaSnapshot, error) {
		var s *domain.SchemaSnapshot
		err := o.withConnRetry(ctx, ds.ID, func() error {
			var ferr error
			s, ferr = adapter.FetchSchema(ctx)
			return ferr
		})
		return s, err
	})
	if err != nil {
		return o.failure(ds, nil, err)
	}

	// SchemaReady → Synthesized
	query, err := o.deps.Synth.Synthesize(ctx, port.SynthesisRequest{
		Question: question,
		Snapshot: snap,
	})
	if err != nil {
		return o.failure(ds, nil, err)
	}

	// Synthesized → GuardAccepted（守卫拒绝时允许一次重合成，再拒绝即终态）
	if err := o.deps.Guard.Validate(*query); err != nil {
		var violation *port.SafetyViolation
		if !errors.As(err, &violation) {
			return o.failure(ds, query, err)
		}
		aegobserve.RecordGuardRejection(string(query.Dialect))
		slog.Warn("守卫拒绝候选查询，触发唯一一次重合成",
			"datasource", ds.ID, "dialect", query.Dialect, "reason", violation.Reason)

		retry, rerr := o.deps.Synth.Synthesize(ctx, port.SynthesisRequest{
			Question:     question,
			Snapshot:     snap,
			RejectedHint: violation.Reason,
		})
		if rerr != nil {
			return o.failure(ds, query, rerr)
		}
		if verr := o.deps.Guard.Validate(*retry); verr != nil {
			aegobserve.RecordGuardRejection(string(retry.Dialect))
			return o.failure(ds, retry, verr)
		}
		query = retry
	}

	// GuardAccepted → Executed
	var rowset *port.Rowset
	err = o.withConnRetry(ctx, ds.ID, func() error {
		var xerr error
		rowset, xerr = adapter.Execute(ctx, *query, o.deps.Limits)
		return xerr
	})
	if err != nil {
		return o.failure(ds, query, err)
	}

	// Executed → Normalized
	columns, rows, err := normalize.Normalize(rowset)
	if err != nil {
		return o.failure(ds, query, err)
	}

	return &domain.QueryResult{
		Success:        true,
		GeneratedQuery: query.Text,
		DatasourceKind: ds.Kind,
		SynthesizerID:  query.SynthesizerID,
		Columns:        columns,
		RowCount:       len(rows),
		Results:        rows,
	}
}

// Schema 返回数据源的结构快照，供前端展示。归属校验与查询路径一致。
func (o *Orchestrator) Schema(ctx context.Context, userID int64, datasourceID string) (*domain.SchemaSnapshot, error) {
	if err := o.deps.Registry.OwnedBy(ctx, userID, datasourceID); err != nil {
		return nil, err
	}
	ds, err := o.deps.Registry.Get(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.deps.Adapters.Adapter(ctx, ds)
	if err != nil {
		return nil, err
	}
	return o.deps.Schemas.Get(ctx, ds.ID, func(ctx context.Context) (*domain.SchemaSnapshot, error) {
		var s *domain.SchemaSnapshot
		err := o.withConnRetry(ctx, ds.ID, func() error {
			var ferr error
			s, ferr = adapter.FetchSchema(ctx)
			return ferr
		})
		return s, err
	})
}

// InvalidateSchema 在数据源删除或变更后丢弃缓存的快照。
func (o *Orchestrator) InvalidateSchema(datasourceID string) {
	o.deps.Schemas.Invalidate(datasourceID)
}

// withConnRetry 对 *port.ConnectionError 做一次退避重试，其余错误原样返回。
func (o *Orchestrator) withConnRetry(ctx context.Context, datasourceID string, f func() error) error {
	err := f()
	var connErr *port.ConnectionError
	if !errors.As(err, &connErr) {
		return err
	}
	slog.Warn("数据源连接失败，退避后重试一次", "datasource", datasourceID, "backoff", connRetryBackoff.String())
	select {
	case <-time.After(connRetryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return f()
}

// failure 构造失败结果。错误分类的文本原样进入 error 字段。
func (o *Orchestrator) failure(ds *domain.Datasource, query *domain.GeneratedQuery, err error) *domain.QueryResult {
	result := &domain.QueryResult{
		Success:        false,
		DatasourceKind: ds.Kind,
		Error:          err.Error(),
	}
	if query != nil {
		result.GeneratedQuery = query.Text
		result.SynthesizerID = query.SynthesizerID
	}
	return result
}

// appendHistory 异步落一条历史。历史失败不影响请求结果。
func (o *Orchestrator) appendHistory(userID int64, datasourceID, question string, result *domain.QueryResult) {
	if o.deps.History == nil {
		return
	}
	entry := &domain.HistoryEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		DatasourceID: datasourceID,
		Question:     question,
		Result:       *result,
		CreatedAt:    time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.deps.History.Append(ctx, entry); err != nil {
			slog.Error("写入查询历史失败", "datasource", datasourceID, "error", err)
		}
	}()
}
