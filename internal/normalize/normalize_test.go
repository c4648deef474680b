// file: internal/normalize/normalize_test.go
package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"DataAegis/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CoercesValuesDeterministically(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rs := &port.Rowset{
		Columns: []string{"name", "spend", "joined", "blob", "big"},
		Rows: []map[string]any{
			{"name": "alice", "spend": int64(120), "joined": ts, "blob": []byte("raw"), "big": json.Number("12345678901234567890.5")},
		},
	}

	cols, rows, err := Normalize(rs)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// 列顺序沿用后端的自然顺序
	assert.Equal(t, []string{"name", "spend", "joined", "blob", "big"}, cols)
	assert.Equal(t, "2026-03-14T09:26:53Z", rows[0]["joined"])
	assert.Equal(t, "raw", rows[0]["blob"])
	// 任意精度数值降为十进制字符串，不经过 float64
	assert.Equal(t, "12345678901234567890.5", rows[0]["big"])
}

func TestNormalize_MissingColumnsBecomeNil(t *testing.T) {
	rs := &port.Rowset{
		Columns: []string{"a", "b"},
		Rows:    []map[string]any{{"a": 1}},
	}
	_, rows, err := Normalize(rs)
	require.NoError(t, err)
	assert.Contains(t, rows[0], "b")
	assert.Nil(t, rows[0]["b"])
}

func TestNormalize_FailsOnUninterpretableShape(t *testing.T) {
	type opaque struct{ x int }
	rs := &port.Rowset{
		Columns: []string{"v"},
		Rows:    []map[string]any{{"v": opaque{x: 1}}},
	}
	_, _, err := Normalize(rs)
	require.Error(t, err)
	var ne *port.NormalizationError
	assert.ErrorAs(t, err, &ne)
}

func TestNormalize_IsIdempotentByteIdentical(t *testing.T) {
	rs := &port.Rowset{
		Columns: []string{"city", "total"},
		Rows: []map[string]any{
			{"city": "北京", "total": 3.25},
			{"city": "上海", "total": int64(7)},
		},
	}
	_, rows1, err := Normalize(rs)
	require.NoError(t, err)
	_, rows2, err := Normalize(rs)
	require.NoError(t, err)

	b1, _ := json.Marshal(rows1)
	b2, _ := json.Marshal(rows2)
	assert.Equal(t, b1, b2, "同一输入两次规范化应当字节级一致")
}
