// file: internal/service/registry_service_test.go
package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

func newSystemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:sysdb_"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, InitSystemTables(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	db := newSystemDB(t)
	reg, err := NewRegistry(db, "unit-test-secret")
	require.NoError(t, err)
	return reg, db
}

func sampleDatasource() *domain.Datasource {
	return &domain.Datasource{
		Name:   "订单库",
		Kind:   domain.KindSQL,
		Driver: "mysql",
		DSN:    "user:secret-password@tcp(10.0.0.5:3306)/orders",
	}
}

func TestRegistryCreateAndGetRoundTrip(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()

	ds := sampleDatasource()
	require.NoError(t, reg.Create(ctx, 1, ds))
	require.NotEmpty(t, ds.ID)

	got, err := reg.Get(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.Name, got.Name)
	assert.Equal(t, ds.DSN, got.DSN)
	assert.Equal(t, domain.KindSQL, got.Kind)

	// 静态存储中不允许出现明文 DSN
	var sealed []byte
	require.NoError(t, db.QueryRow(`SELECT dsn_sealed FROM datasource WHERE id = ?`, ds.ID).Scan(&sealed))
	assert.NotContains(t, string(sealed), "secret-password")
}

func TestRegistryOwnership(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ds := sampleDatasource()
	require.NoError(t, reg.Create(ctx, 1, ds))

	assert.NoError(t, reg.OwnedBy(ctx, 1, ds.ID))
	assert.ErrorIs(t, reg.OwnedBy(ctx, 2, ds.ID), port.ErrPermissionDenied)
	assert.ErrorIs(t, reg.OwnedBy(ctx, 1, "ds_missing"), port.ErrDatasourceNotFound)

	// 非属主不能删除
	assert.ErrorIs(t, reg.Delete(ctx, 2, ds.ID), port.ErrPermissionDenied)
	require.NoError(t, reg.Delete(ctx, 1, ds.ID))
	_, err := reg.Get(ctx, ds.ID)
	assert.ErrorIs(t, err, port.ErrDatasourceNotFound)
}

func TestRegistryValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var verr *port.ValidationError
	assert.ErrorAs(t, reg.Create(ctx, 1, &domain.Datasource{Kind: domain.KindSQL, DSN: "x"}), &verr)
	assert.ErrorAs(t, reg.Create(ctx, 1, &domain.Datasource{Name: "n", Kind: "graph"}), &verr)
	assert.ErrorAs(t, reg.Create(ctx, 1, &domain.Datasource{Name: "n", Kind: domain.KindSQL}), &verr)
	assert.ErrorAs(t, reg.Create(ctx, 1, &domain.Datasource{Name: "n", Kind: domain.KindTabular}), &verr)
}

func TestRegistryListByUser(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ds := sampleDatasource()
		ds.Name = ds.Name + "_" + time.Now().Format("150405.000")
		require.NoError(t, reg.Create(ctx, 1, ds))
	}
	other := sampleDatasource()
	require.NoError(t, reg.Create(ctx, 2, other))

	mine, err := reg.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestHistoryAppendAndList(t *testing.T) {
	db := newSystemDB(t)
	h := NewHistory(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &domain.HistoryEntry{
			ID:           "h_" + string(rune('a'+i)),
			UserID:       7,
			DatasourceID: "ds_1",
			Question:     "消费最高的客户",
			Result: domain.QueryResult{
				Success:        true,
				GeneratedQuery: "SELECT 1",
				DatasourceKind: domain.KindSQL,
				RowCount:       i,
			},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, h.Append(ctx, entry))
	}

	entries, err := h.ListByUser(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// 时间倒序：最新的在前面
	assert.Equal(t, 2, entries[0].Result.RowCount)
	assert.True(t, entries[0].Result.Success)

	// 其他用户看不到
	other, err := h.ListByUser(ctx, 8, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAuthUserLifecycle(t *testing.T) {
	db := newSystemDB(t)

	assert.Zero(t, UserCount(db))
	require.NoError(t, CreateAdmin(db, "admin", "s3cret"))
	assert.Equal(t, 1, UserCount(db))

	id, role, ok := CheckUser(db, "admin", "s3cret")
	require.True(t, ok)
	assert.Equal(t, "admin", role)

	_, _, ok = CheckUser(db, "admin", "wrong")
	assert.False(t, ok)

	token, err := GenToken(id, role)
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ID)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseToken(token + "tampered")
	assert.ErrorIs(t, err, ErrInvalidToken)

	auth := NewAuthenticator(db)
	got, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}
