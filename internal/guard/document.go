// file: internal/guard/document.go
package guard

import (
	"DataAegis/internal/core/domain"
	"bytes"
	"encoding/json"
	"strings"
)

// 文档方言的查询是结构化 JSON：
//
//	{"operation": "find",      "collection": "...", "filter": {...}, "projection": {...}, "sort": {...}, "limit": 100}
//	{"operation": "aggregate", "collection": "...", "pipeline": [ {"$match": {...}}, ... ]}
//	{"operation": "count",     "collection": "...", "filter": {...}}
//	{"operation": "distinct",  "collection": "...", "field": "...", "filter": {...}}
//
// 白名单之外的 operation、聚合阶段和算子一律拒绝。

// allowedDocOperations 是文档方言允许的读操作集合。
var allowedDocOperations = map[string]struct{}{
	"find": {}, "aggregate": {}, "count": {}, "distinct": {},
}

// allowedPipelineStages 是聚合管道允许的只读阶段。
// $out / $merge 会写集合，$geoNear 等少见阶段未经评估，都不在名单内。
var allowedPipelineStages = map[string]struct{}{
	"$match": {}, "$group": {}, "$project": {}, "$sort": {}, "$limit": {},
	"$skip": {}, "$unwind": {}, "$count": {}, "$lookup": {}, "$addFields": {},
	"$replaceRoot": {}, "$sortByCount": {}, "$facet": {}, "$bucket": {},
	"$sample": {},
}

// forbiddenDocOperators 是任何嵌套层级出现即拒绝的算子。
// 它们允许执行任意服务端 JavaScript 或自定义累加器。
var forbiddenDocOperators = map[string]struct{}{
	"$where": {}, "$function": {}, "$accumulator": {},
}

// validateDocument 校验文档方言的候选查询。
func validateDocument(text string) error {
	const d = domain.DialectMongo

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var query map[string]any
	if err := dec.Decode(&query); err != nil {
		return reject(d, "查询不是合法的 JSON 对象: %v", err)
	}
	// JSON 之后还有内容 → 多个文档，拒绝
	if dec.More() {
		return reject(d, "查询包含多个 JSON 文档")
	}

	opRaw, ok := query["operation"].(string)
	if !ok {
		return reject(d, "缺少 operation 字段")
	}
	op := strings.ToLower(strings.TrimSpace(opRaw))
	if _, allowed := allowedDocOperations[op]; !allowed {
		return reject(d, "不允许的操作: %s", op)
	}

	// 递归扫描整个查询体，拒绝服务端执行类算子
	if bad := findForbiddenOperator(query); bad != "" {
		return reject(d, "检测到禁止的算子: %s", bad)
	}

	if op == "aggregate" {
		stagesRaw, ok := query["pipeline"].([]any)
		if !ok {
			return reject(d, "aggregate 操作缺少 pipeline 数组")
		}
		for i, stageRaw := range stagesRaw {
			stage, ok := stageRaw.(map[string]any)
			if !ok || len(stage) != 1 {
				return reject(d, "管道第 %d 个阶段不是单键对象", i+1)
			}
			for name := range stage {
				if _, allowed := allowedPipelineStages[name]; !allowed {
					return reject(d, "不允许的聚合阶段: %s", name)
				}
			}
		}
	}
	return nil
}

// findForbiddenOperator 深度遍历查询体，返回发现的第一个禁止算子。
func findForbiddenOperator(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			if _, bad := forbiddenDocOperators[strings.ToLower(k)]; bad {
				return k
			}
			if found := findForbiddenOperator(sub); found != "" {
				return found
			}
		}
	case []any:
		for _, sub := range val {
			if found := findForbiddenOperator(sub); found != "" {
				return found
			}
		}
	}
	return ""
}
