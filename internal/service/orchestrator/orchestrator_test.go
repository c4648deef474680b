// file: internal/service/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"DataAegis/internal/guard"
)

// ---- 测试替身 ----

type stubRegistry struct {
	ds *domain.Datasource
}

func (r *stubRegistry) Get(_ context.Context, id string) (*domain.Datasource, error) {
	if r.ds == nil || r.ds.ID != id {
		return nil, port.ErrDatasourceNotFound
	}
	return r.ds, nil
}
func (r *stubRegistry) ListByUser(context.Context, int64) ([]*domain.Datasource, error) {
	return nil, nil
}
func (r *stubRegistry) Create(context.Context, int64, *domain.Datasource) error { return nil }
func (r *stubRegistry) Delete(context.Context, int64, string) error             { return nil }
func (r *stubRegistry) OwnedBy(_ context.Context, _ int64, id string) error {
	if r.ds == nil || r.ds.ID != id {
		return port.ErrDatasourceNotFound
	}
	return nil
}

type stubHistory struct {
	mu      sync.Mutex
	entries []*domain.HistoryEntry
	done    chan struct{}
}

func newStubHistory() *stubHistory { return &stubHistory{done: make(chan struct{}, 8)} }

func (h *stubHistory) Append(_ context.Context, e *domain.HistoryEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
	h.done <- struct{}{}
	return nil
}
func (h *stubHistory) ListByUser(context.Context, int64, int) ([]*domain.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.HistoryEntry(nil), h.entries...), nil
}

// stubSynth 按调用次数依次产出预置查询。
type stubSynth struct {
	mu      sync.Mutex
	outputs []string
	hints   []string
	dialect domain.Dialect
}

func (s *stubSynth) Synthesize(_ context.Context, req port.SynthesisRequest) (*domain.GeneratedQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = append(s.hints, req.RejectedHint)
	if len(s.outputs) == 0 {
		return nil, &port.SynthesisError{Reason: "没有更多预置输出"}
	}
	text := s.outputs[0]
	s.outputs = s.outputs[1:]
	return &domain.GeneratedQuery{Text: text, Dialect: s.dialect, SynthesizerID: "stub"}, nil
}
func (s *stubSynth) ID() string { return "stub" }

// stubAdapter 回固定行集，可注入失败序列。
type stubAdapter struct {
	rowset   *port.Rowset
	errs     []error // 依次在 Execute 消耗，空后成功
	mu       sync.Mutex
	executed int32
	schema   *domain.SchemaSnapshot
	blockFor time.Duration
}

func (a *stubAdapter) Connect(context.Context) error { return nil }
func (a *stubAdapter) FetchSchema(context.Context) (*domain.SchemaSnapshot, error) {
	return a.schema, nil
}
func (a *stubAdapter) Execute(ctx context.Context, _ domain.GeneratedQuery, _ port.ExecLimits) (*port.Rowset, error) {
	atomic.AddInt32(&a.executed, 1)
	if a.blockFor > 0 {
		select {
		case <-time.After(a.blockFor):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return a.rowset, nil
}
func (a *stubAdapter) Close() error            { return nil }
func (a *stubAdapter) Kind() domain.Kind       { return domain.KindSQL }
func (a *stubAdapter) Dialect() domain.Dialect { return domain.DialectSQLite }

type stubProvider struct{ adapter port.DataSource }

func (p *stubProvider) Adapter(context.Context, *domain.Datasource) (port.DataSource, error) {
	return p.adapter, nil
}

// ---- 组装 ----

func testDatasource() *domain.Datasource {
	return &domain.Datasource{ID: "ds_1", Name: "测试库", Kind: domain.KindSQL, Driver: "sqlite"}
}

func testSchema() *domain.SchemaSnapshot {
	return &domain.SchemaSnapshot{
		DatasourceID: "ds_1",
		Dialect:      domain.DialectSQLite,
		Entities: []domain.EntitySchema{
			{Name: "customers", Fields: []domain.FieldSchema{{Name: "id", DataType: "INTEGER"}}},
		},
		FetchedAt: time.Now(),
	}
}

type fixture struct {
	orch    *Orchestrator
	history *stubHistory
	adapter *stubAdapter
	synth   *stubSynth
}

func newFixture(t *testing.T, synth *stubSynth, adapter *stubAdapter) *fixture {
	t.Helper()
	history := newStubHistory()
	orch := New(Dependencies{
		Registry: &stubRegistry{ds: testDatasource()},
		History:  history,
		Synth:    synth,
		Guard:    guard.New(),
		Adapters: &stubProvider{adapter: adapter},
		Schemas:  NewSchemaCache(8, time.Minute),
		Inflight: NewInflightLimiter(2, 100*time.Millisecond),
		Limits:   port.ExecLimits{MaxRows: 10000, Timeout: 2 * time.Second},
	})
	return &fixture{orch: orch, history: history, adapter: adapter, synth: synth}
}

func defaultRowset() *port.Rowset {
	return &port.Rowset{
		Columns: []string{"name", "spend"},
		Rows: []map[string]any{
			{"name": "甲", "spend": int64(500)},
			{"name": "乙", "spend": int64(400)},
		},
	}
}

// ---- 用例 ----

func TestQueryHappyPath(t *testing.T) {
	f := newFixture(t,
		&stubSynth{outputs: []string{"SELECT name, spend FROM customers ORDER BY spend DESC LIMIT 5"}, dialect: domain.DialectSQLite},
		&stubAdapter{rowset: defaultRowset(), schema: testSchema()},
	)

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "消费最高的五个客户")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, []string{"name", "spend"}, result.Columns)
	assert.Equal(t, "stub", result.SynthesizerID)
	assert.Equal(t, domain.KindSQL, result.DatasourceKind)
	assert.Empty(t, result.Error)

	// 历史是异步写入的
	select {
	case <-f.history.done:
	case <-time.After(time.Second):
		t.Fatal("历史写入超时")
	}
	entries, _ := f.history.ListByUser(context.Background(), 1, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "消费最高的五个客户", entries[0].Question)
}

func TestQueryEmptyQuestionIsValidationError(t *testing.T) {
	f := newFixture(t, &stubSynth{dialect: domain.DialectSQLite}, &stubAdapter{schema: testSchema()})
	_, err := f.orch.Query(context.Background(), 1, "ds_1", "   ")
	var verr *port.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestQueryUnknownDatasource(t *testing.T) {
	f := newFixture(t, &stubSynth{dialect: domain.DialectSQLite}, &stubAdapter{schema: testSchema()})
	_, err := f.orch.Query(context.Background(), 1, "ds_missing", "q")
	assert.ErrorIs(t, err, port.ErrDatasourceNotFound)
}

// 守卫拒绝后恰好重合成一次；第二次仍被拒则失败结果带守卫原因。
func TestQueryResynthesisAfterGuardReject(t *testing.T) {
	synth := &stubSynth{
		outputs: []string{
			"DELETE FROM customers",
			"SELECT name FROM customers",
		},
		dialect: domain.DialectSQLite,
	}
	f := newFixture(t, synth, &stubAdapter{rowset: defaultRowset(), schema: testSchema()})

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "删除客户")
	require.NoError(t, err)
	assert.True(t, result.Success)

	// 第二次合成必须携带拒绝原因
	require.Len(t, synth.hints, 2)
	assert.Empty(t, synth.hints[0])
	assert.NotEmpty(t, synth.hints[1])
}

func TestQueryDoubleGuardRejectIsTerminal(t *testing.T) {
	synth := &stubSynth{
		outputs: []string{"DROP TABLE customers", "TRUNCATE customers"},
		dialect: domain.DialectSQLite,
	}
	adapter := &stubAdapter{rowset: defaultRowset(), schema: testSchema()}
	f := newFixture(t, synth, adapter)

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "清空表")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "安全守卫拒绝")
	// 被拒绝的查询绝不触达适配器
	assert.Zero(t, atomic.LoadInt32(&adapter.executed))
}

// ConnectionError 恰好重试一次；第二次成功则整体成功。
func TestQueryConnectionErrorRetriedOnce(t *testing.T) {
	adapter := &stubAdapter{
		rowset: defaultRowset(),
		schema: testSchema(),
		errs:   []error{&port.ConnectionError{Datasource: "ds_1", Err: context.DeadlineExceeded}},
	}
	f := newFixture(t, &stubSynth{outputs: []string{"SELECT 1"}, dialect: domain.DialectSQLite}, adapter)

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "q")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.EqualValues(t, 2, atomic.LoadInt32(&adapter.executed))
}

func TestQueryConnectionErrorTwiceIsTerminal(t *testing.T) {
	adapter := &stubAdapter{
		schema: testSchema(),
		errs: []error{
			&port.ConnectionError{Datasource: "ds_1", Err: context.DeadlineExceeded},
			&port.ConnectionError{Datasource: "ds_1", Err: context.DeadlineExceeded},
		},
	}
	f := newFixture(t, &stubSynth{outputs: []string{"SELECT 1"}, dialect: domain.DialectSQLite}, adapter)

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "q")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "连接失败")
	assert.EqualValues(t, 2, atomic.LoadInt32(&adapter.executed))
}

func TestQueryExecutionErrorNotRetried(t *testing.T) {
	adapter := &stubAdapter{
		schema: testSchema(),
		errs:   []error{&port.ExecutionError{Datasource: "ds_1", Err: assert.AnError}},
	}
	f := newFixture(t, &stubSynth{outputs: []string{"SELECT 1"}, dialect: domain.DialectSQLite}, adapter)

	result, err := f.orch.Query(context.Background(), 1, "ds_1", "q")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.EqualValues(t, 1, atomic.LoadInt32(&adapter.executed))
}

func TestQuerySynthesisFailure(t *testing.T) {
	f := newFixture(t, &stubSynth{dialect: domain.DialectSQLite}, &stubAdapter{schema: testSchema()})
	result, err := f.orch.Query(context.Background(), 1, "ds_1", "q")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "合成失败")
}

// 并发超过配额且等不到空位时返回背压错误。
func TestQueryBackpressure(t *testing.T) {
	adapter := &stubAdapter{
		rowset:   defaultRowset(),
		schema:   testSchema(),
		blockFor: 2 * time.Second,
	}
	synth := &stubSynth{
		outputs: []string{"SELECT 1", "SELECT 1", "SELECT 1"},
		dialect: domain.DialectSQLite,
	}
	f := newFixture(t, synth, adapter)

	// 占满两个配额
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.orch.Query(context.Background(), 1, "ds_1", "q")
		}()
	}
	time.Sleep(300 * time.Millisecond) // 等两个请求进入执行

	_, err := f.orch.Query(context.Background(), 1, "ds_1", "q")
	assert.ErrorIs(t, err, port.ErrBackpressure)
	wg.Wait()
}

// 同一数据源的并发未命中只触发一次结构抓取。
func TestSchemaCacheSingleflight(t *testing.T) {
	var fetches int32
	cache := NewSchemaCache(8, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "ds_x", func(context.Context) (*domain.SchemaSnapshot, error) {
				atomic.AddInt32(&fetches, 1)
				time.Sleep(50 * time.Millisecond)
				return testSchema(), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestSchemaCacheInvalidate(t *testing.T) {
	var fetches int32
	cache := NewSchemaCache(8, time.Minute)
	fetch := func(context.Context) (*domain.SchemaSnapshot, error) {
		atomic.AddInt32(&fetches, 1)
		return testSchema(), nil
	}

	_, err := cache.Get(context.Background(), "ds_x", fetch)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "ds_x", fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))

	cache.Invalidate("ds_x")
	_, err = cache.Get(context.Background(), "ds_x", fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches))
}

func TestInflightLimiterReleases(t *testing.T) {
	l := NewInflightLimiter(1, 50*time.Millisecond)

	release, err := l.Acquire(context.Background(), "ds_1")
	require.NoError(t, err)

	// 配额满，等待窗口内拿不到
	_, err = l.Acquire(context.Background(), "ds_1")
	assert.ErrorIs(t, err, port.ErrBackpressure)

	release()
	release2, err := l.Acquire(context.Background(), "ds_1")
	require.NoError(t, err)
	release2()
}
