// file: internal/adapter/datasource/tabular/adapter_test.go
package tabular

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// writeCustomersCSV 生成 20 行客户表：spend 递增，city 轮流取三个值。
func writeCustomersCSV(t *testing.T) string {
	t.Helper()
	cities := []string{"北京", "上海", "广州"}
	content := "id,name,city,spend\n"
	for i := 1; i <= 20; i++ {
		content += fmt.Sprintf("%d,customer_%02d,%s,%d\n", i, i, cities[i%3], i*100)
	}
	path := filepath.Join(t.TempDir(), "customers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	ds := &domain.Datasource{
		ID:       "ds_tab_test",
		Name:     "客户表",
		Kind:     domain.KindTabular,
		Driver:   "csv",
		FilePath: writeCustomersCSV(t),
	}
	a, err := New(ds)
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func execute(t *testing.T, a *Adapter, pipeline string) (*port.Rowset, error) {
	t.Helper()
	return a.Execute(context.Background(), domain.GeneratedQuery{
		Text:    pipeline,
		Dialect: domain.DialectPipeline,
	}, port.ExecLimits{MaxRows: 10000, Timeout: 5 * time.Second})
}

func TestExecuteSortDescLimit(t *testing.T) {
	a := newTestAdapter(t)
	rs, err := execute(t, a, `[
		{"op":"sort","column":"spend","desc":true},
		{"op":"limit","n":5}
	]`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 5)
	assert.EqualValues(t, 2000, rs.Rows[0]["spend"])
	assert.EqualValues(t, 1600, rs.Rows[4]["spend"])
	assert.Equal(t, []string{"id", "name", "city", "spend"}, rs.Columns)
}

func TestExecuteFilterSelect(t *testing.T) {
	a := newTestAdapter(t)
	rs, err := execute(t, a, `[
		{"op":"filter","column":"spend","cmp":"gt","value":1500},
		{"op":"select","columns":["name","spend"]}
	]`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 5)
	assert.Equal(t, []string{"name", "spend"}, rs.Columns)
	for _, row := range rs.Rows {
		assert.NotContains(t, row, "city")
	}
}

func TestExecuteGroupAggregate(t *testing.T) {
	a := newTestAdapter(t)
	rs, err := execute(t, a, `[
		{"op":"group","by":["city"],"aggregates":[
			{"column":"spend","func":"sum","as":"total"},
			{"func":"count","as":"n"}
		]},
		{"op":"sort","column":"total","desc":true}
	]`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	assert.Equal(t, []string{"city", "total", "n"}, rs.Columns)

	var sum int64
	var n int64
	for _, row := range rs.Rows {
		sum += row["total"].(int64)
		n += row["n"].(int64)
	}
	// 1+2+...+20 = 210，每行 spend = i*100
	assert.EqualValues(t, 21000, sum)
	assert.EqualValues(t, 20, n)
}

func TestExecuteContainsFilter(t *testing.T) {
	a := newTestAdapter(t)
	rs, err := execute(t, a, `[
		{"op":"filter","column":"name","cmp":"contains","value":"_0"}
	]`)
	require.NoError(t, err)
	// customer_01 .. customer_09
	assert.Len(t, rs.Rows, 9)
}

func TestExecuteUnknownColumnFails(t *testing.T) {
	a := newTestAdapter(t)
	_, err := execute(t, a, `[{"op":"sort","column":"salary"}]`)
	require.Error(t, err)
	var execErr *port.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestExecuteVocabularyViolationFails(t *testing.T) {
	a := newTestAdapter(t)
	_, err := execute(t, a, `[{"op":"assign","column":"spend","value":0}]`)
	assert.Error(t, err)
}

func TestExecuteRowCap(t *testing.T) {
	a := newTestAdapter(t)
	rs, err := a.Execute(context.Background(), domain.GeneratedQuery{
		Text:    `[{"op":"sort","column":"id"}]`,
		Dialect: domain.DialectPipeline,
	}, port.ExecLimits{MaxRows: 7, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 7)
}

// 同一查询执行两次结果完全一致，且源帧不被查询改动。
func TestExecuteIdempotentAndImmutable(t *testing.T) {
	a := newTestAdapter(t)
	pipeline := `[
		{"op":"filter","column":"spend","cmp":"lte","value":500},
		{"op":"sort","column":"spend","desc":true}
	]`
	first, err := execute(t, a, pipeline)
	require.NoError(t, err)
	second, err := execute(t, a, pipeline)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 全量行数不变，说明过滤/排序没有触碰源帧
	all, err := execute(t, a, `[{"op":"limit","n":100}]`)
	require.NoError(t, err)
	assert.Len(t, all.Rows, 20)
}

func TestReloadSwapsFrame(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, os.WriteFile(a.path, []byte("id,name,city,spend\n1,only_one,深圳,42\n"), 0o644))

	// 直接触发防抖后的重载逻辑，避免测试等待防抖窗口
	a.processDebouncedReload()

	rs, err := execute(t, a, `[{"op":"limit","n":100}]`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "only_one", rs.Rows[0]["name"])
}

func TestLoaderTypeInference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c,d\n1,1.5,true,hello\n,2.5,false,world\n"), 0o644))
	frame, err := loadFrame(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1), frame.Rows[0][0])
	assert.Nil(t, frame.Rows[1][0])
	assert.Equal(t, 1.5, frame.Rows[0][1])
	assert.Equal(t, true, frame.Rows[0][2])
	assert.Equal(t, "hello", frame.Rows[0][3])

	fields := frame.Schema()
	assert.Equal(t, "integer", fields[0].DataType)
	assert.Equal(t, "real", fields[1].DataType)
	assert.Equal(t, "boolean", fields[2].DataType)
	assert.Equal(t, "text", fields[3].DataType)
}

func TestNewRejectsWrongKind(t *testing.T) {
	_, err := New(&domain.Datasource{Kind: domain.KindSQL})
	assert.Error(t, err)
}
