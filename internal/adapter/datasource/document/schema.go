// file: internal/adapter/datasource/document/schema.go
package document

import (
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	maxSchemaCollections = 10
	schemaSampleSize     = 3
)

// FetchSchema 实现 port.DataSource。
// 文档库没有目录表，结构靠有界采样推断：每个集合取少量样本文档，
// 汇总字段名与 BSON 类型名。绝不做全量扫描。
func (a *Adapter) FetchSchema(ctx context.Context) (*domain.SchemaSnapshot, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}

	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, &port.ConnectionError{Datasource: a.ds.ID, Err: fmt.Errorf("列出集合失败: %w", err)}
	}
	sort.Strings(names)
	if len(names) > maxSchemaCollections {
		names = names[:maxSchemaCollections]
	}

	var entities []domain.EntitySchema
	for _, name := range names {
		fields, err := a.sampleFields(ctx, db.Collection(name))
		if err != nil {
			slog.Warn("集合采样失败，已跳过", "datasource", a.ds.ID, "collection", name, "error", err)
			continue
		}
		entities = append(entities, domain.EntitySchema{Name: name, Fields: fields})
	}

	return &domain.SchemaSnapshot{
		DatasourceID: a.ds.ID,
		Dialect:      domain.DialectMongo,
		Entities:     entities,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// sampleFields 取样本文档，按字段首次出现的顺序汇总字段名与 BSON 类型。
func (a *Adapter) sampleFields(ctx context.Context, coll *mongo.Collection) ([]domain.FieldSchema, error) {
	findOpts := options.Find().SetLimit(schemaSampleSize)
	cur, err := coll.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var fields []domain.FieldSchema
	seen := make(map[string]struct{})
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		for _, elem := range doc {
			if _, ok := seen[elem.Key]; ok {
				continue
			}
			seen[elem.Key] = struct{}{}
			fields = append(fields, domain.FieldSchema{
				Name:     elem.Key,
				DataType: bsonTypeName(elem.Value),
			})
		}
	}
	return fields, cur.Err()
}

// bsonTypeName 给采样值一个人类可读的类型名。
func bsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime:
		return "date"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Decimal128:
		return "decimal"
	case bson.D, bson.M:
		return "document"
	case primitive.A:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
