// file: internal/service/history_service.go
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// 编译期断言
var _ port.HistoryStore = (*History)(nil)

const defaultHistoryLimit = 50

// History 把查询历史落在系统库里，只追加不修改。
// 结果整体序列化为 JSON 存储，列出时反序列化还原。
type History struct {
	db *sql.DB
}

// NewHistory 创建历史存储。
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Append 实现 port.HistoryStore。
func (h *History) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("序列化查询结果失败: %w", err)
	}
	_, err = h.db.ExecContext(ctx, `
        INSERT INTO query_history(id, user_id, datasource_id, question, result_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.DatasourceID, entry.Question, string(payload), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入查询历史失败: %w", err)
	}
	return nil
}

// ListByUser 实现 port.HistoryStore。按时间倒序返回最近的 limit 条。
func (h *History) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := h.db.QueryContext(ctx, `
        SELECT id, user_id, datasource_id, question, result_json, created_at
        FROM query_history WHERE user_id = ?
        ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询历史列表失败: %w", err)
	}
	defer rows.Close()

	var out []*domain.HistoryEntry
	for rows.Next() {
		var (
			entry   domain.HistoryEntry
			payload string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.DatasourceID, &entry.Question, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("读取历史记录失败: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Result); err != nil {
			return nil, fmt.Errorf("反序列化历史结果失败: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
