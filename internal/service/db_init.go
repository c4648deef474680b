// file: internal/service/db_init.go
package service

import (
	"database/sql"
	"fmt"
	"log"
)

// InitSystemTables 负责在系统启动时，检查并创建所有平台级的系统表。
func InitSystemTables(db *sql.DB) error {
	if err := initUserTable(db); err != nil {
		return fmt.Errorf("初始化用户表失败: %w", err)
	}
	if err := initDatasourceTable(db); err != nil {
		return fmt.Errorf("初始化数据源表失败: %w", err)
	}
	if err := initHistoryTable(db); err != nil {
		return fmt.Errorf("初始化查询历史表失败: %w", err)
	}

	log.Println("✅ 数据库: 所有系统表结构初始化/检查完成。")
	return nil
}

// initUserTable 创建用户表
func initUserTable(db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS _user(
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL,
        rate_limit_per_second REAL, -- for user-specific rate limiting
        burst_size INTEGER
    );`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("创建 '_user' 表失败: %w", err)
	}
	// 为常用查询创建索引
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_user_username ON _user (username);`)
	return err
}

// initDatasourceTable 创建数据源注册表。
// dsn_sealed 是 AES-GCM 加密后的连接描述，明文 DSN 不落盘。
func initDatasourceTable(db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS datasource(
        id TEXT PRIMARY KEY,
        owner_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        kind TEXT NOT NULL,
        driver TEXT NOT NULL,
        dsn_sealed BLOB,
        database_name TEXT,
        file_path TEXT,
        created_at TIMESTAMP NOT NULL,
        FOREIGN KEY (owner_id) REFERENCES _user(id) ON DELETE CASCADE
    );`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("创建 'datasource' 表失败: %w", err)
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_datasource_owner ON datasource (owner_id);`)
	return err
}

// initHistoryTable 创建只追加的查询历史表
func initHistoryTable(db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS query_history(
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        datasource_id TEXT NOT NULL,
        question TEXT NOT NULL,
        result_json TEXT NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("创建 'query_history' 表失败: %w", err)
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_user_time ON query_history (user_id, created_at DESC);`)
	return err
}
