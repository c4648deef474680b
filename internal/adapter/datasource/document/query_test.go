// file: internal/adapter/datasource/document/query_test.go
package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseDocQuery(t *testing.T) {
	t.Run("合法 find", func(t *testing.T) {
		q, err := parseDocQuery(`{"operation":"find","collection":"customers","filter":{"vip":true},"limit":5}`)
		require.NoError(t, err)
		assert.Equal(t, "find", q.Operation)
		assert.Equal(t, "customers", q.Collection)
		assert.EqualValues(t, 5, q.Limit)
	})

	t.Run("操作名大小写归一", func(t *testing.T) {
		q, err := parseDocQuery(`{"operation":" FIND ","collection":"c"}`)
		require.NoError(t, err)
		assert.Equal(t, "find", q.Operation)
	})

	t.Run("缺少 collection 拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`{"operation":"find"}`)
		assert.Error(t, err)
	})

	t.Run("aggregate 缺 pipeline 拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`{"operation":"aggregate","collection":"orders"}`)
		assert.Error(t, err)
	})

	t.Run("distinct 缺 field 拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`{"operation":"distinct","collection":"orders"}`)
		assert.Error(t, err)
	})

	t.Run("未知操作拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`{"operation":"mapReduce","collection":"orders"}`)
		assert.Error(t, err)
	})

	t.Run("非 JSON 拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`db.orders.find()`)
		assert.Error(t, err)
	})

	t.Run("多键排序保留键序", func(t *testing.T) {
		q, err := parseDocQuery(`{"operation":"find","collection":"orders","sort":{"city":1,"amount":-1,"name":1}}`)
		require.NoError(t, err)
		require.Len(t, q.sort, 3)
		assert.Equal(t, "city", q.sort[0].Key)
		assert.Equal(t, "amount", q.sort[1].Key)
		assert.Equal(t, "name", q.sort[2].Key)
	})

	t.Run("projection 保留文档序", func(t *testing.T) {
		q, err := parseDocQuery(`{"operation":"find","collection":"orders","projection":{"name":1,"_id":0,"city":1}}`)
		require.NoError(t, err)
		require.Len(t, q.projection, 3)
		assert.Equal(t, []string{"name", "_id", "city"},
			[]string{q.projection[0].Key, q.projection[1].Key, q.projection[2].Key})
	})

	t.Run("sort 非对象拒绝", func(t *testing.T) {
		_, err := parseDocQuery(`{"operation":"find","collection":"orders","sort":[1,2]}`)
		assert.Error(t, err)
	})
}

func TestEffectiveLimit(t *testing.T) {
	// 未声明时走默认值
	assert.EqualValues(t, defaultFindLimit, effectiveLimit(0, 10000))
	// 声明值小于上限时原样生效
	assert.EqualValues(t, 5, effectiveLimit(5, 10000))
	// 声明值超过执行上限时被压到上限
	assert.EqualValues(t, 200, effectiveLimit(5000, 200))
	// 默认值也要受执行上限约束
	assert.EqualValues(t, 50, effectiveLimit(0, 50))
}

func TestFromBSONValue(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), fromBSONValue(oid))

	dt := primitive.NewDateTimeFromTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	converted, ok := fromBSONValue(dt).(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, converted.Year())

	dec, err := primitive.ParseDecimal128("12.50")
	require.NoError(t, err)
	assert.Equal(t, "12.50", fromBSONValue(dec))

	// 嵌套文档与数组递归降解
	nested := bson.D{{Key: "tags", Value: primitive.A{"a", oid}}}
	out, ok := fromBSONValue(nested).(map[string]any)
	require.True(t, ok)
	tags, ok := out["tags"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", oid.Hex()}, tags)
}

func TestBSONTypeName(t *testing.T) {
	assert.Equal(t, "string", bsonTypeName("x"))
	assert.Equal(t, "int", bsonTypeName(int32(1)))
	assert.Equal(t, "document", bsonTypeName(bson.M{"a": 1}))
	// bson.A 只是 primitive.A 的别名，两种写法必须落到同一个分支
	assert.Equal(t, "array", bsonTypeName(primitive.A{1, 2}))
	assert.Equal(t, "array", bsonTypeName(bson.A{1, 2}))
	assert.Equal(t, "null", bsonTypeName(nil))
}

func TestNewRejectsWrongKind(t *testing.T) {
	_, err := New(nil, 4)
	assert.Error(t, err)
}
