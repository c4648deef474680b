// file: internal/guard/tabular_test.go
package guard

import (
	"testing"

	"DataAegis/internal/core/domain"
)

func pipeQuery(text string) domain.GeneratedQuery {
	return domain.GeneratedQuery{Text: text, Dialect: domain.DialectPipeline}
}

func TestTabularGuard_AcceptsVocabulary(t *testing.T) {
	g := New()
	accepted := []string{
		`[{"op": "limit", "n": 5}]`,
		`[{"op": "filter", "column": "spend", "cmp": "gt", "value": 100}, {"op": "sort", "column": "spend", "desc": true}, {"op": "limit", "n": 5}]`,
		`[{"op": "group", "by": ["city"], "aggregates": [{"column": "spend", "func": "sum", "as": "total"}]}]`,
		`[{"op": "select", "columns": ["name", "spend"]}]`,
		`[{"op": "group", "by": ["city"], "aggregates": [{"func": "count", "as": "n"}]}]`,
	}
	for _, q := range accepted {
		if err := g.Validate(pipeQuery(q)); err != nil {
			t.Errorf("期望接受但被拒绝: %s\n  err=%v", q, err)
		}
	}
}

func TestTabularGuard_RejectsOutsideVocabulary(t *testing.T) {
	g := New()
	rejected := []string{
		`[{"op": "assign", "column": "spend", "value": 0}]`,  // 赋值不在词汇表内
		`[{"op": "drop", "column": "spend"}]`,
		`[{"op": "DELETE"}]`,
		`[{"op": "filter", "column": "spend", "cmp": "regex", "value": ".*"}]`, // 未知比较符
		`[{"op": "group", "by": ["city"], "aggregates": [{"column": "spend", "func": "exec"}]}]`,
		`[{"op": "limit", "n": 0}]`,
		`[{"op": "limit", "n": 5, "mutate": true}]`, // 未知字段 → DisallowUnknownFields
		`[]`,
		`{"op": "limit", "n": 5}`, // 不是数组
		`not json`,
	}
	for _, q := range rejected {
		if err := g.Validate(pipeQuery(q)); err == nil {
			t.Errorf("期望拒绝但被接受: %s", q)
		}
	}
}
