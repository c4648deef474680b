// Package synthesizer — 自然语言到查询的合成链 (Ollama 主力 + Claude 兜底)
// internal/synthesizer/prompt.go
package synthesizer

import (
	"fmt"
	"strings"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// schemaBriefing 把结构快照压成给模型看的纯文本。
// 快照本身已有界（实体数与采样都封顶），这里不再截断。
func schemaBriefing(snap *domain.SchemaSnapshot) string {
	var b strings.Builder
	for _, e := range snap.Entities {
		b.WriteString(e.Name)
		b.WriteString(" (")
		for i, f := range e.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			if f.DataType != "" {
				b.WriteString(" ")
				b.WriteString(f.DataType)
			}
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// buildPrompt 按方言组装提示词。拒绝提示只在重合成时出现。
func buildPrompt(req port.SynthesisRequest) string {
	var b strings.Builder
	dialect := req.Snapshot.Dialect

	switch dialect {
	case domain.DialectSQLite, domain.DialectMySQL, domain.DialectPostgres:
		fmt.Fprintf(&b, `Given the following %s database schema:
%s
Convert the following natural language question to a single valid SELECT query:
"%s"

Rules:
1. ONLY generate a SELECT (or WITH ... SELECT) query
2. Exactly one statement, no trailing commands
3. Do not include any explanation, just the raw SQL
4. Use appropriate JOINs if needed

SQL Query:`, dialect, schemaBriefing(req.Snapshot), req.Question)
	case domain.DialectMongo:
		fmt.Fprintf(&b, `Given the following MongoDB collection schema:
%s
Convert the following natural language question to a read-only MongoDB query as a JSON object:
"%s"

Rules:
1. ONLY the operations find, aggregate, count, distinct are allowed
2. Always include the "collection" field
3. For find: {"operation": "find", "collection": "...", "filter": {}, "projection": {}, "sort": {}, "limit": 100}
4. For aggregate: {"operation": "aggregate", "collection": "...", "pipeline": []}
5. For count: {"operation": "count", "collection": "...", "filter": {}}
6. For distinct: {"operation": "distinct", "collection": "...", "field": "..."}
7. Do not include any explanation

MongoDB Query:`, schemaBriefing(req.Snapshot), req.Question)
	case domain.DialectPipeline:
		fmt.Fprintf(&b, `Given a table with the following columns:
%s
Convert the following natural language question to a JSON array of pipeline steps:
"%s"

Rules:
1. Allowed steps, in any order: filter, select, group, sort, limit
2. filter: {"op":"filter","column":"...","cmp":"eq|ne|gt|gte|lt|lte|contains","value":...}
3. select: {"op":"select","columns":["..."]}
4. group: {"op":"group","by":["..."],"aggregates":[{"column":"...","func":"sum|avg|min|max|count","as":"..."}]}
5. sort: {"op":"sort","column":"...","desc":true}
6. limit: {"op":"limit","n":5}
7. No other operations exist; do not include any explanation

Pipeline:`, schemaBriefing(req.Snapshot), req.Question)
	}

	if req.RejectedHint != "" {
		fmt.Fprintf(&b, "\n\nThe previous attempt was rejected by the read-only safety check: %s\nGenerate a corrected read-only query.", req.RejectedHint)
	}
	return b.String()
}

// systemPrompt 是兜底模型的系统提示词，按方言强调只读约束。
func systemPrompt(dialect domain.Dialect) string {
	switch dialect {
	case domain.DialectMongo:
		return "You are an expert MongoDB query generator. Generate ONLY read-only queries (find, aggregate, count, distinct) as a single JSON object. Never generate insert, update, delete, drop or any modifying operation. Return ONLY the JSON, nothing else."
	case domain.DialectPipeline:
		return "You are an expert data analyst. Generate ONLY a JSON array of read-only pipeline steps from the closed vocabulary (filter, select, group, sort, limit). Return ONLY the JSON array, nothing else."
	default:
		return "You are an expert SQL query generator. Generate ONLY a single valid SELECT query. Never generate INSERT, UPDATE, DELETE, DROP, ALTER, CREATE or any other modifying statement. Return ONLY the SQL, nothing else."
	}
}
