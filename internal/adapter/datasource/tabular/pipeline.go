// file: internal/adapter/datasource/tabular/pipeline.go
package tabular

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"DataAegis/internal/core/domain"
)

// applyPipeline 在帧上逐步求值。每一步都产生新帧，源帧不被触碰。
// 步间检查 ctx，超大帧上的长管道也能被超时及时打断。
func applyPipeline(ctx context.Context, f *Frame, steps []domain.PipelineStep) (*Frame, error) {
	cur := f
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch s.Op {
		case domain.OpFilter:
			cur, err = applyFilter(cur, s)
		case domain.OpSelect:
			cur, err = applySelect(cur, s)
		case domain.OpGroup:
			cur, err = applyGroup(cur, s)
		case domain.OpSort:
			cur, err = applySort(cur, s)
		case domain.OpLimit:
			cur, err = applyLimit(cur, s)
		default:
			err = fmt.Errorf("词汇表之外的操作 '%s'", s.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("第 %d 步 %s 执行失败: %w", i+1, s.Op, err)
		}
	}
	return cur, nil
}

func applyFilter(f *Frame, s domain.PipelineStep) (*Frame, error) {
	col, err := f.colIndex(s.Column)
	if err != nil {
		return nil, err
	}
	var rows [][]any
	for _, row := range f.Rows {
		if matchCell(row[col], s.Cmp, s.Value) {
			rows = append(rows, row)
		}
	}
	return newFrame(f.Name, f.Columns, rows)
}

func applySelect(f *Frame, s domain.PipelineStep) (*Frame, error) {
	idx := make([]int, len(s.Columns))
	for i, c := range s.Columns {
		j, err := f.colIndex(c)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	rows := make([][]any, len(f.Rows))
	for r, row := range f.Rows {
		out := make([]any, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return newFrame(f.Name, append([]string(nil), s.Columns...), rows)
}

func applyGroup(f *Frame, s domain.PipelineStep) (*Frame, error) {
	byIdx := make([]int, len(s.By))
	for i, c := range s.By {
		j, err := f.colIndex(c)
		if err != nil {
			return nil, err
		}
		byIdx[i] = j
	}
	aggIdx := make([]int, len(s.Aggregates))
	for i, agg := range s.Aggregates {
		if agg.Func == "count" && agg.Column == "" {
			aggIdx[i] = -1
			continue
		}
		j, err := f.colIndex(agg.Column)
		if err != nil {
			return nil, err
		}
		aggIdx[i] = j
	}

	type bucket struct {
		key  []any
		accs []*accumulator
	}
	order := make([]string, 0, 16)
	buckets := make(map[string]*bucket, 16)

	for _, row := range f.Rows {
		parts := make([]string, len(byIdx))
		key := make([]any, len(byIdx))
		for i, j := range byIdx {
			key[i] = row[j]
			parts[i] = fmt.Sprint(row[j])
		}
		k := strings.Join(parts, "\x00")
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: key, accs: make([]*accumulator, len(s.Aggregates))}
			for i, agg := range s.Aggregates {
				b.accs[i] = &accumulator{fn: agg.Func}
			}
			buckets[k] = b
			order = append(order, k)
		}
		for i, j := range aggIdx {
			if j < 0 {
				b.accs[i].add(nil)
				continue
			}
			b.accs[i].add(row[j])
		}
	}

	columns := append([]string(nil), s.By...)
	for _, agg := range s.Aggregates {
		name := agg.As
		if name == "" {
			if agg.Column == "" {
				name = agg.Func
			} else {
				name = agg.Func + "_" + agg.Column
			}
		}
		columns = append(columns, name)
	}

	rows := make([][]any, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		row := append([]any(nil), b.key...)
		for _, acc := range b.accs {
			row = append(row, acc.result())
		}
		rows = append(rows, row)
	}
	return newFrame(f.Name, columns, rows)
}

func applySort(f *Frame, s domain.PipelineStep) (*Frame, error) {
	col, err := f.colIndex(s.Column)
	if err != nil {
		return nil, err
	}
	rows := append([][]any(nil), f.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if s.Desc {
			return cellLess(rows[j][col], rows[i][col])
		}
		return cellLess(rows[i][col], rows[j][col])
	})
	return newFrame(f.Name, f.Columns, rows)
}

func applyLimit(f *Frame, s domain.PipelineStep) (*Frame, error) {
	rows := f.Rows
	if s.N < len(rows) {
		rows = rows[:s.N]
	}
	return newFrame(f.Name, f.Columns, rows)
}

// accumulator 实现封闭集合内的聚合函数。
// sum/avg/min/max 只吃数值单元格，其余跳过；count 数行。
type accumulator struct {
	fn    string
	n     int64
	sum   float64
	min   float64
	max   float64
	seen  bool
	isInt bool
}

func (a *accumulator) add(v any) {
	if a.fn == "count" {
		a.n++
		return
	}
	x, isInt, ok := asNumber(v)
	if !ok {
		return
	}
	if !a.seen {
		a.seen = true
		a.isInt = isInt
		a.min, a.max = x, x
	} else {
		a.isInt = a.isInt && isInt
		if x < a.min {
			a.min = x
		}
		if x > a.max {
			a.max = x
		}
	}
	a.n++
	a.sum += x
}

func (a *accumulator) result() any {
	switch a.fn {
	case "count":
		return a.n
	case "avg":
		if a.n == 0 {
			return nil
		}
		return a.sum / float64(a.n)
	}
	if !a.seen {
		return nil
	}
	var x float64
	switch a.fn {
	case "sum":
		x = a.sum
	case "min":
		x = a.min
	case "max":
		x = a.max
	}
	if a.isInt {
		return int64(x)
	}
	return x
}

// matchCell 判断单元格是否满足过滤条件。
// 类型不可比较时不匹配，而不是报错——过滤是逐行判定，不该让一行脏数据掀翻整个查询。
func matchCell(cell any, cmp string, target any) bool {
	switch cmp {
	case "contains":
		cs, ok1 := cell.(string)
		ts, ok2 := target.(string)
		return ok1 && ok2 && strings.Contains(cs, ts)
	case "eq":
		return cellEqual(cell, target)
	case "ne":
		return !cellEqual(cell, target)
	}

	if cn, _, ok := asNumber(cell); ok {
		tn, _, ok2 := asNumber(target)
		if !ok2 {
			return false
		}
		switch cmp {
		case "gt":
			return cn > tn
		case "gte":
			return cn >= tn
		case "lt":
			return cn < tn
		case "lte":
			return cn <= tn
		}
		return false
	}
	cs, ok1 := cell.(string)
	ts, ok2 := target.(string)
	if !ok1 || !ok2 {
		return false
	}
	switch cmp {
	case "gt":
		return cs > ts
	case "gte":
		return cs >= ts
	case "lt":
		return cs < ts
	case "lte":
		return cs <= ts
	}
	return false
}

func cellEqual(cell, target any) bool {
	if cn, _, ok := asNumber(cell); ok {
		tn, _, ok2 := asNumber(target)
		return ok2 && cn == tn
	}
	return cell == target
}

// cellLess 排序比较：先 nil，再数值，再字符串表示。
func cellLess(a, b any) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	an, _, aok := asNumber(a)
	bn, _, bok := asNumber(b)
	if aok && bok {
		return an < bn
	}
	if aok != bok {
		return aok // 数值排在字符串前
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func asNumber(v any) (x float64, isInt bool, ok bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true, true
	case int:
		return float64(t), true, true
	case float64:
		return t, t == float64(int64(t)), true
	}
	return 0, false, false
}
