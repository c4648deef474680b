// Package normalize file: internal/normalize/normalize.go
//
// 规范化器把三种后端的原生输出统一为一种规范形状：
// 有序的列名 + 行映射序列，值被确定性地降为 JSON 可表示的原语。
// 单个聚合值由适配器封装为只含一行的 Rowset，这里不再特殊处理。
package normalize

import (
	"DataAegis/internal/core/port"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Normalize 把适配器返回的 Rowset 转为规范结果。
// 列顺序沿用后端的自然输出顺序；行内缺失的列补 nil，保证所有行同构。
// 遇到无法解释的值类型返回 *port.NormalizationError，绝不输出部分结果。
func Normalize(rs *port.Rowset) ([]string, []map[string]any, error) {
	if rs == nil {
		return nil, nil, &port.NormalizationError{Reason: "后端没有返回结果集"}
	}

	columns := rs.Columns
	rows := make([]map[string]any, 0, len(rs.Rows))
	for i, raw := range rs.Rows {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			v, err := coerce(raw[col])
			if err != nil {
				return nil, nil, &port.NormalizationError{
					Reason: fmt.Sprintf("第 %d 行列 '%s': %v", i+1, col, err),
				}
			}
			row[col] = v
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// coerce 把单个值确定性地降为 JSON 可表示的原语。
// 日期 → ISO-8601 字符串；任意精度数值 → 十进制字符串；字节串 → UTF-8 字符串。
func coerce(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case []byte:
		return string(val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	case json.Number:
		// 保留原始十进制文本，避免 float64 精度损失
		return val.String(), nil
	case *big.Int:
		return val.String(), nil
	case *big.Float:
		return val.Text('f', -1), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := coerce(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			c, err := coerce(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("无法解释的值类型 %T", v)
	}
}
