// Package domain file: internal/core/domain/pipeline.go
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 表格方言的查询是一个封闭词汇表内的声明式只读变换管道：
//
//	[
//	  {"op": "filter", "column": "spend", "cmp": "gt", "value": 100},
//	  {"op": "group",  "by": ["city"], "aggregates": [{"column": "spend", "func": "sum", "as": "total"}]},
//	  {"op": "sort",   "column": "total", "desc": true},
//	  {"op": "select", "columns": ["city", "total"]},
//	  {"op": "limit",  "n": 5}
//	]
//
// 词汇表之外没有任何操作；帧自身永远不被修改。

// PipelineOp 是表格管道的操作种类。
type PipelineOp string

const (
	OpFilter PipelineOp = "filter"
	OpSelect PipelineOp = "select"
	OpGroup  PipelineOp = "group"
	OpSort   PipelineOp = "sort"
	OpLimit  PipelineOp = "limit"
)

// 比较符与聚合函数的封闭集合。
var (
	PipelineComparators = map[string]struct{}{
		"eq": {}, "ne": {}, "gt": {}, "gte": {}, "lt": {}, "lte": {}, "contains": {},
	}
	PipelineAggFuncs = map[string]struct{}{
		"sum": {}, "avg": {}, "min": {}, "max": {}, "count": {},
	}
)

// PipelineAggregate 描述一个分组聚合输出列。
type PipelineAggregate struct {
	Column string `json:"column"`
	Func   string `json:"func"`
	As     string `json:"as,omitempty"`
}

// PipelineStep 是管道中的一步。字段按 Op 选用。
type PipelineStep struct {
	Op PipelineOp `json:"op"`

	// filter
	Column string `json:"column,omitempty"`
	Cmp    string `json:"cmp,omitempty"`
	Value  any    `json:"value,omitempty"`

	// select
	Columns []string `json:"columns,omitempty"`

	// group
	By         []string            `json:"by,omitempty"`
	Aggregates []PipelineAggregate `json:"aggregates,omitempty"`

	// sort
	Desc bool `json:"desc,omitempty"`

	// limit
	N int `json:"n,omitempty"`
}

// ParsePipeline 解析并校验管道文本。
// 未知操作、未知比较符、未知聚合函数都是错误——解析即白名单校验，
// 守卫与适配器共用同一套判定，不会出现两边口径不一致。
func ParsePipeline(text string) ([]PipelineStep, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	var steps []PipelineStep
	if err := dec.Decode(&steps); err != nil {
		return nil, fmt.Errorf("管道不是合法的 JSON 数组: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("管道之后存在多余内容")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("管道为空")
	}

	for i, s := range steps {
		switch s.Op {
		case OpFilter:
			if s.Column == "" {
				return nil, fmt.Errorf("第 %d 步 filter 缺少 column", i+1)
			}
			if _, ok := PipelineComparators[s.Cmp]; !ok {
				return nil, fmt.Errorf("第 %d 步 filter 使用了未知比较符 '%s'", i+1, s.Cmp)
			}
		case OpSelect:
			if len(s.Columns) == 0 {
				return nil, fmt.Errorf("第 %d 步 select 缺少 columns", i+1)
			}
		case OpGroup:
			if len(s.By) == 0 {
				return nil, fmt.Errorf("第 %d 步 group 缺少 by", i+1)
			}
			for _, agg := range s.Aggregates {
				if _, ok := PipelineAggFuncs[agg.Func]; !ok {
					return nil, fmt.Errorf("第 %d 步 group 使用了未知聚合函数 '%s'", i+1, agg.Func)
				}
				if agg.Column == "" && agg.Func != "count" {
					return nil, fmt.Errorf("第 %d 步聚合 '%s' 缺少 column", i+1, agg.Func)
				}
			}
		case OpSort:
			if s.Column == "" {
				return nil, fmt.Errorf("第 %d 步 sort 缺少 column", i+1)
			}
		case OpLimit:
			if s.N <= 0 {
				return nil, fmt.Errorf("第 %d 步 limit 的 n 必须为正数", i+1)
			}
		default:
			return nil, fmt.Errorf("第 %d 步使用了词汇表之外的操作 '%s'", i+1, s.Op)
		}
	}
	return steps, nil
}
