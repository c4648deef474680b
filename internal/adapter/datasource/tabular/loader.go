// file: internal/adapter/datasource/tabular/loader.go
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// loadFrame 按扩展名选择加载器。帧名取文件基名，作为结构快照里的实体名。
func loadFrame(path string) (*Frame, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(name, path)
	case ".xlsx":
		return loadXLSX(name, path)
	}
	return nil, fmt.Errorf("不支持的表格文件类型: %s", filepath.Ext(path))
}

func loadCSV(name, path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // 行宽交给下方按表头对齐
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 失败: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV 文件没有表头行")
	}
	return buildFrame(name, records[0], records[1:])
}

func loadXLSX(name, path string) (*Frame, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开 XLSX 失败: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("XLSX 文件没有工作表")
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %q 失败: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("工作表 %q 没有表头行", sheet)
	}
	return buildFrame(name, records[0], records[1:])
}

// buildFrame 对齐表头宽度并按单元格推断类型。
func buildFrame(name string, header []string, records [][]string) (*Frame, error) {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(columns))
		for i := range columns {
			if i < len(rec) {
				row[i] = inferCell(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return newFrame(name, columns, rows)
}

// inferCell 把字符串单元格降解为最贴合的标量。空串视为缺失。
func inferCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return x
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
