// Package domain file: internal/core/domain/models.go
package domain

import "time"

// Kind 是数据源类型的封闭枚举。
// 后端集合是封闭的：新增一种后端必须同时提供适配器、守卫方言和提示词模板。
type Kind string

const (
	KindSQL      Kind = "sql"
	KindDocument Kind = "document"
	KindTabular  Kind = "tabular"
)

// Valid 判断 Kind 是否属于已知的后端类型。
func (k Kind) Valid() bool {
	switch k {
	case KindSQL, KindDocument, KindTabular:
		return true
	}
	return false
}

// Dialect 是生成查询所针对的查询方言标识。
// SQL 后端按驱动细分，文档/表格后端各自只有一种方言。
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectMongo    Dialect = "mongo"
	DialectPipeline Dialect = "pipeline"
)

// Datasource 是数据源注册表中的一条记录。
// DSN 含有凭据，静态存储时加密，任何日志和 API 响应中都不得出现。
type Datasource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Driver    string    `json:"driver"` // sqlite / mysql / postgres / mongo / csv / xlsx
	DSN       string    `json:"-"`
	Database  string    `json:"database,omitempty"` // 文档后端的库名
	FilePath  string    `json:"file_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FieldSchema 描述结构快照中的一个字段/列。
type FieldSchema struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// EntitySchema 描述一张表 / 一个集合 / 一个表格帧。
type EntitySchema struct {
	Name   string        `json:"name"`
	Fields []FieldSchema `json:"fields"`
}

// SchemaSnapshot 是某个数据源在某一时刻的结构快照。
// 快照在刷新时被整体替换，不做原位修改。
type SchemaSnapshot struct {
	DatasourceID string         `json:"datasource_id"`
	Dialect      Dialect        `json:"dialect"`
	Entities     []EntitySchema `json:"entities"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

// GeneratedQuery 是合成器产出的候选查询。
// 它只有在通过守卫校验后才允许交给适配器执行。
type GeneratedQuery struct {
	Text          string  `json:"text"`
	Dialect       Dialect `json:"dialect"`
	SynthesizerID string  `json:"synthesizer_id"`
}

// QueryResult 是一次查询请求的终点产物，构造后不再修改。
type QueryResult struct {
	Success        bool             `json:"success"`
	GeneratedQuery string           `json:"generated_query"`
	DatasourceKind Kind             `json:"datasource_type"`
	SynthesizerID  string           `json:"llm_used"`
	Columns        []string         `json:"columns,omitempty"`
	RowCount       int              `json:"row_count"`
	Results        []map[string]any `json:"results,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// HistoryEntry 是历史记录中的一条，按用户与时间倒序列出。
type HistoryEntry struct {
	ID           string      `json:"id"`
	UserID       int64       `json:"user_id"`
	DatasourceID string      `json:"datasource_id"`
	Question     string      `json:"question"`
	Result       QueryResult `json:"result"`
	CreatedAt    time.Time   `json:"created_at"`
}
