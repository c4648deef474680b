// Package tabular — 表格型后端适配器 (CSV / XLSX 内存帧)
// internal/adapter/datasource/tabular/frame.go
package tabular

import (
	"fmt"

	"DataAegis/internal/core/domain"
)

// Frame 是加载到内存的一张不可变表。
// 查询只产生新的 Frame，源帧在文件重载之外永不变化。
type Frame struct {
	Name    string
	Columns []string
	Rows    [][]any

	index map[string]int // 列名 → 下标
}

// newFrame 构造帧并建立列索引。列名重复视为文件损坏。
func newFrame(name string, columns []string, rows [][]any) (*Frame, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("列名重复: %q", c)
		}
		index[c] = i
	}
	return &Frame{Name: name, Columns: columns, Rows: rows, index: index}, nil
}

// colIndex 查列下标，未知列是调用方的错误。
func (f *Frame) colIndex(name string) (int, error) {
	i, ok := f.index[name]
	if !ok {
		return 0, fmt.Errorf("列 %q 不存在", name)
	}
	return i, nil
}

// Schema 推断每列类型，整列扫描一次。
func (f *Frame) Schema() []domain.FieldSchema {
	fields := make([]domain.FieldSchema, len(f.Columns))
	for i, c := range f.Columns {
		fields[i] = domain.FieldSchema{Name: c, DataType: f.columnType(i)}
	}
	return fields
}

func (f *Frame) columnType(col int) string {
	hasInt, hasFloat, hasBool, hasText := false, false, false, false
	for _, row := range f.Rows {
		switch row[col].(type) {
		case nil:
		case int64:
			hasInt = true
		case float64:
			hasFloat = true
		case bool:
			hasBool = true
		default:
			hasText = true
		}
	}
	switch {
	case hasText:
		return "text"
	case hasFloat:
		return "real"
	case hasInt:
		return "integer"
	case hasBool:
		return "boolean"
	default:
		return "text"
	}
}
