// file: internal/adapter/datasource/document/query.go
package document

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 未显式给出 limit 时的默认上限。
const defaultFindLimit = 100

// docQuery 是文档后端的结构化查询契约。合成器产出 JSON，
// 守卫先行校验，这里只负责解析与执行。
type docQuery struct {
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	Filter     map[string]any  `json:"filter,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Limit      int64           `json:"limit,omitempty"`
	Pipeline   []any           `json:"pipeline,omitempty"`
	Field      string          `json:"field,omitempty"`

	// 多键排序的优先级取决于键序，projection/sort 按文档序解码
	projection bson.D
	sort       bson.D
}

// parseDocQuery 解析结构化查询。守卫已放行的查询到这里仍可能
// 缺字段，按失败处理而不是猜测补全。
func parseDocQuery(text string) (*docQuery, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	var q docQuery
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("解析结构化查询失败: %w", err)
	}
	q.Operation = strings.ToLower(strings.TrimSpace(q.Operation))
	if q.Collection == "" {
		return nil, fmt.Errorf("结构化查询缺少 collection")
	}
	switch q.Operation {
	case "find", "count":
	case "aggregate":
		if len(q.Pipeline) == 0 {
			return nil, fmt.Errorf("aggregate 查询缺少 pipeline")
		}
	case "distinct":
		if q.Field == "" {
			return nil, fmt.Errorf("distinct 查询缺少 field")
		}
	default:
		return nil, fmt.Errorf("不支持的操作: %q", q.Operation)
	}

	var err error
	if q.projection, err = decodeOrderedDoc(q.Projection); err != nil {
		return nil, fmt.Errorf("解析 projection 失败: %w", err)
	}
	if q.sort, err = decodeOrderedDoc(q.Sort); err != nil {
		return nil, fmt.Errorf("解析 sort 失败: %w", err)
	}
	return &q, nil
}

// decodeOrderedDoc 把一个 JSON 对象解码成 bson.D，逐个读词法单元以保留键序。
// map 解码会丢键序，多键排序的优先级就跟着丢了。
func decodeOrderedDoc(raw json.RawMessage) (bson.D, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("期望 JSON 对象，得到 %v", tok)
	}
	var d bson.D
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("非法的对象键: %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		d = append(d, bson.E{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return d, nil
}

// effectiveLimit 在默认上限、查询声明与执行上限之间取最小的有效值。
func effectiveLimit(declared int64, maxRows int) int64 {
	limit := declared
	if limit <= 0 {
		limit = defaultFindLimit
	}
	if maxRows > 0 && limit > int64(maxRows) {
		limit = int64(maxRows)
	}
	return limit
}

// Execute 实现 port.DataSource。查询文本是守卫已校验的结构化 JSON。
func (a *Adapter) Execute(ctx context.Context, query domain.GeneratedQuery, limits port.ExecLimits) (*port.Rowset, error) {
	q, err := parseDocQuery(query.Text)
	if err != nil {
		return nil, &port.ExecutionError{Datasource: a.ds.ID, Err: err}
	}

	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	coll := db.Collection(q.Collection)

	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch q.Operation {
	case "find":
		return a.runFind(ctx, coll, q, limits, timeout)
	case "aggregate":
		return a.runAggregate(ctx, coll, q, limits, timeout)
	case "count":
		return a.runCount(ctx, coll, q, timeout)
	case "distinct":
		return a.runDistinct(ctx, coll, q, timeout)
	}
	// parseDocQuery 已兜底，不会到这里
	return nil, &port.ExecutionError{Datasource: a.ds.ID, Err: fmt.Errorf("不支持的操作: %q", q.Operation)}
}

func (a *Adapter) runFind(ctx context.Context, coll *mongo.Collection, q *docQuery, limits port.ExecLimits, timeout time.Duration) (*port.Rowset, error) {
	findOpts := options.Find().SetLimit(effectiveLimit(q.Limit, limits.MaxRows))
	if len(q.projection) > 0 {
		findOpts.SetProjection(q.projection)
	}
	if len(q.sort) > 0 {
		findOpts.SetSort(q.sort)
	}
	filter := q.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, a.classify(ctx, err, timeout)
	}
	defer cur.Close(ctx)
	return a.collectDocs(ctx, cur, timeout)
}

func (a *Adapter) runAggregate(ctx context.Context, coll *mongo.Collection, q *docQuery, limits port.ExecLimits, timeout time.Duration) (*port.Rowset, error) {
	pipeline := make([]any, 0, len(q.Pipeline)+1)
	hasLimit := false
	for _, stage := range q.Pipeline {
		if m, ok := stage.(map[string]any); ok {
			if _, ok := m["$limit"]; ok {
				hasLimit = true
			}
		}
		pipeline = append(pipeline, stage)
	}
	// 无界聚合一律补 $limit，确保结果集有上限
	if !hasLimit {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: effectiveLimit(q.Limit, limits.MaxRows)}})
	}

	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, a.classify(ctx, err, timeout)
	}
	defer cur.Close(ctx)
	return a.collectDocs(ctx, cur, timeout)
}

func (a *Adapter) runCount(ctx context.Context, coll *mongo.Collection, q *docQuery, timeout time.Duration) (*port.Rowset, error) {
	filter := q.Filter
	if filter == nil {
		filter = map[string]any{}
	}
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, a.classify(ctx, err, timeout)
	}
	return &port.Rowset{
		Columns: []string{"count"},
		Rows:    []map[string]any{{"count": n}},
	}, nil
}

func (a *Adapter) runDistinct(ctx context.Context, coll *mongo.Collection, q *docQuery, timeout time.Duration) (*port.Rowset, error) {
	filter := q.Filter
	if filter == nil {
		filter = map[string]any{}
	}
	values, err := coll.Distinct(ctx, q.Field, filter)
	if err != nil {
		return nil, a.classify(ctx, err, timeout)
	}
	converted := make([]any, len(values))
	for i, v := range values {
		converted[i] = fromBSONValue(v)
	}
	return &port.Rowset{
		Columns: []string{"distinct_values", "count"},
		Rows:    []map[string]any{{"distinct_values": converted, "count": len(converted)}},
	}, nil
}

// collectDocs 按 bson.D 解码以保留字段顺序，列序取自文档首次出现顺序。
func (a *Adapter) collectDocs(ctx context.Context, cur *mongo.Cursor, timeout time.Duration) (*port.Rowset, error) {
	var columns []string
	seen := make(map[string]struct{})
	rows := make([]map[string]any, 0, 16)

	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, a.classify(ctx, err, timeout)
		}
		row := make(map[string]any, len(doc))
		for _, elem := range doc {
			if _, ok := seen[elem.Key]; !ok {
				seen[elem.Key] = struct{}{}
				columns = append(columns, elem.Key)
			}
			row[elem.Key] = fromBSONValue(elem.Value)
		}
		rows = append(rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, a.classify(ctx, err, timeout)
	}
	if columns == nil {
		columns = []string{}
	}
	return &port.Rowset{Columns: columns, Rows: rows}, nil
}

// fromBSONValue 把 BSON 专有类型降解为可序列化的通用值。
func fromBSONValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return fmt.Sprintf("binary(%d bytes)", len(t.Data))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = fromBSONValue(val)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	default:
		return v
	}
}
