// file: internal/adapter/datasource/sqlrel/execute_mock_test.go
package sqlrel

import (
	"context"
	"errors"
	"testing"
	"time"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestAdapter_Execute_CancelsInFlightCall 验证超时不是"放弃等待"：
// 驱动层一个被人为拖慢的查询必须在截止时间到达时被中断返回。
func TestAdapter_Execute_CancelsInFlightCall(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("sqlrel_slow_backend")
	require.NoError(t, err)
	defer db.Close()

	// 测试专用方言条目：走 sqlmock 驱动，按 MySQL 方言处理
	driverDialects["mockmysql"] = struct {
		sqlDriver string
		dialect   domain.Dialect
	}{sqlDriver: "sqlmock", dialect: domain.DialectMySQL}
	defer delete(driverDialects, "mockmysql")

	mock.ExpectQuery("SELECT \\* FROM big_table").
		WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	a, err := New(&domain.Datasource{
		ID:     "ds-slow",
		Kind:   domain.KindSQL,
		Driver: "mockmysql",
		DSN:    "sqlrel_slow_backend",
	}, 1)
	require.NoError(t, err)
	defer a.Close()

	start := time.Now()
	_, err = a.Execute(context.Background(), domain.GeneratedQuery{
		Text:    "SELECT * FROM big_table",
		Dialect: domain.DialectMySQL,
	}, port.ExecLimits{MaxRows: 10, Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	require.Error(t, err)
	var te *port.TimeoutError
	require.True(t, errors.As(err, &te), "期望 TimeoutError, got %T: %v", err, err)
	require.Less(t, elapsed, time.Second, "超时应当主动中断底层调用，而不是等它跑完")
}
