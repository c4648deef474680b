// file: internal/adapter/datasource/sqlrel/schema.go
package sqlrel

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// maxSchemaTables 限制快照内的表数量，避免给合成器的上下文爆炸。
const maxSchemaTables = 10

// FetchSchema 实现 port.DataSource，按方言走各自的系统目录做有界采样。
func (a *Adapter) FetchSchema(ctx context.Context) (*domain.SchemaSnapshot, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entities []domain.EntitySchema
	switch a.dialect {
	case domain.DialectSQLite:
		entities, err = fetchSQLiteSchema(ctx, db)
	case domain.DialectMySQL:
		entities, err = fetchInfoSchema(ctx, db,
			`SELECT table_name, column_name, data_type
			   FROM information_schema.columns
			  WHERE table_schema = DATABASE()
			  ORDER BY table_name, ordinal_position`)
	case domain.DialectPostgres:
		entities, err = fetchInfoSchema(ctx, db,
			`SELECT table_name, column_name, data_type
			   FROM information_schema.columns
			  WHERE table_schema = 'public'
			  ORDER BY table_name, ordinal_position`)
	default:
		return nil, fmt.Errorf("未知的 SQL 方言: %s", a.dialect)
	}
	if err != nil {
		return nil, &port.ConnectionError{Datasource: a.ds.ID, Err: err}
	}

	if len(entities) > maxSchemaTables {
		slog.Debug("schema 采样截断", "datasource", a.ds.ID, "tables", len(entities), "kept", maxSchemaTables)
		entities = entities[:maxSchemaTables]
	}

	return &domain.SchemaSnapshot{
		DatasourceID: a.ds.ID,
		Dialect:      a.dialect,
		Entities:     entities,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// fetchSQLiteSchema 通过 sqlite_master + table_info 探测表与列。
func fetchSQLiteSchema(ctx context.Context, db *sql.DB) ([]domain.EntitySchema, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("读取 sqlite_master 失败: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var entities []domain.EntitySchema
	for _, tbl := range tables {
		colRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, tbl))
		if err != nil {
			slog.Warn("读取表列信息失败，已跳过此表", "table", tbl, "error", err)
			continue
		}
		var fields []domain.FieldSchema
		for colRows.Next() {
			var (
				cid         int
				name, ctype string
				notnull     int
				dflt        sql.NullString
				pk          int
			)
			if err := colRows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				_ = colRows.Close()
				return nil, err
			}
			fields = append(fields, domain.FieldSchema{Name: name, DataType: ctype})
		}
		_ = colRows.Close()
		entities = append(entities, domain.EntitySchema{Name: tbl, Fields: fields})
	}
	return entities, nil
}

// fetchInfoSchema 用于 MySQL / PostgreSQL 的 information_schema 探测。
func fetchInfoSchema(ctx context.Context, db *sql.DB, query string) ([]domain.EntitySchema, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("读取 information_schema 失败: %w", err)
	}
	defer rows.Close()

	byTable := make(map[string][]domain.FieldSchema)
	var order []string
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		if _, seen := byTable[table]; !seen {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], domain.FieldSchema{Name: column, DataType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	entities := make([]domain.EntitySchema, 0, len(order))
	for _, tbl := range order {
		entities = append(entities, domain.EntitySchema{Name: tbl, Fields: byTable[tbl]})
	}
	return entities, nil
}
