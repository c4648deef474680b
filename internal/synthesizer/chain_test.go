// file: internal/synthesizer/chain_test.go
package synthesizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

type stubBackend struct {
	id      string
	healthy bool
	out     string
	err     error
	called  int
}

func (s *stubBackend) ID() string                        { return s.id }
func (s *stubBackend) Healthy(context.Context) bool      { return s.healthy }
func (s *stubBackend) Generate(_ context.Context, _ domain.Dialect, _ string) (string, error) {
	s.called++
	return s.out, s.err
}

func testSnapshot(dialect domain.Dialect) *domain.SchemaSnapshot {
	return &domain.SchemaSnapshot{
		DatasourceID: "ds_test",
		Dialect:      dialect,
		Entities: []domain.EntitySchema{
			{Name: "customers", Fields: []domain.FieldSchema{
				{Name: "id", DataType: "integer"},
				{Name: "name", DataType: "text"},
				{Name: "spend", DataType: "real"},
			}},
		},
		FetchedAt: time.Now(),
	}
}

func TestChainPrimaryWins(t *testing.T) {
	primary := &stubBackend{id: "ollama", healthy: true, out: "SELECT * FROM customers"}
	fallback := &stubBackend{id: "claude", healthy: true, out: "never"}
	chain := NewChain(primary, fallback)

	q, err := chain.Synthesize(context.Background(), port.SynthesisRequest{
		Question: "所有客户",
		Snapshot: testSnapshot(domain.DialectSQLite),
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM customers", q.Text)
	assert.Equal(t, "ollama", q.SynthesizerID)
	assert.Equal(t, domain.DialectSQLite, q.Dialect)
	assert.Zero(t, fallback.called)
}

func TestChainFallsBackWhenPrimaryUnhealthy(t *testing.T) {
	primary := &stubBackend{id: "ollama", healthy: false}
	fallback := &stubBackend{id: "claude", healthy: true, out: "SELECT 1"}
	chain := NewChain(primary, fallback)

	q, err := chain.Synthesize(context.Background(), port.SynthesisRequest{
		Question: "q",
		Snapshot: testSnapshot(domain.DialectSQLite),
	})
	require.NoError(t, err)
	assert.Equal(t, "claude", q.SynthesizerID)
	assert.Zero(t, primary.called)
}

func TestChainFallsBackOnError(t *testing.T) {
	primary := &stubBackend{id: "ollama", healthy: true, err: errors.New("连接被拒绝")}
	fallback := &stubBackend{id: "claude", healthy: true, out: "SELECT 1"}
	chain := NewChain(primary, fallback)

	q, err := chain.Synthesize(context.Background(), port.SynthesisRequest{
		Question: "q",
		Snapshot: testSnapshot(domain.DialectSQLite),
	})
	require.NoError(t, err)
	assert.Equal(t, "claude", q.SynthesizerID)
	assert.Equal(t, 1, primary.called)
}

func TestChainAllFailIsSynthesisError(t *testing.T) {
	chain := NewChain(
		&stubBackend{id: "ollama", healthy: false},
		&stubBackend{id: "claude", healthy: true, out: ""},
	)
	_, err := chain.Synthesize(context.Background(), port.SynthesisRequest{
		Question: "q",
		Snapshot: testSnapshot(domain.DialectSQLite),
	})
	var synthErr *port.SynthesisError
	require.ErrorAs(t, err, &synthErr)
}

func TestChainMissingSnapshot(t *testing.T) {
	chain := NewChain(&stubBackend{id: "ollama", healthy: true, out: "SELECT 1"})
	_, err := chain.Synthesize(context.Background(), port.SynthesisRequest{Question: "q"})
	var synthErr *port.SynthesisError
	assert.ErrorAs(t, err, &synthErr)
}

func TestCleanGenerated(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"SQL: SELECT 1", "SELECT 1"},
		{"MongoDB Query: {\"operation\":\"find\"}", "{\"operation\":\"find\"}"},
		{"  SELECT 1  ", "SELECT 1"},
		{"```json\n[{\"op\":\"limit\",\"n\":5}]\n```", "[{\"op\":\"limit\",\"n\":5}]"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, cleanGenerated(c.in), "输入: %q", c.in)
	}
}

func TestBuildPromptCarriesRejectedHint(t *testing.T) {
	withHint := buildPrompt(port.SynthesisRequest{
		Question:     "top 5 customers",
		Snapshot:     testSnapshot(domain.DialectSQLite),
		RejectedHint: "检测到非只读关键字 'DELETE'",
	})
	assert.Contains(t, withHint, "DELETE")
	assert.Contains(t, withHint, "rejected")

	without := buildPrompt(port.SynthesisRequest{
		Question: "top 5 customers",
		Snapshot: testSnapshot(domain.DialectSQLite),
	})
	assert.NotContains(t, without, "rejected")
}

func TestBuildPromptPerDialect(t *testing.T) {
	for _, d := range []domain.Dialect{domain.DialectMySQL, domain.DialectMongo, domain.DialectPipeline} {
		p := buildPrompt(port.SynthesisRequest{Question: "q", Snapshot: testSnapshot(d)})
		assert.Contains(t, p, "customers", "方言 %s 的提示词必须带结构简报", d)
		assert.Contains(t, p, "q")
	}
	// mongo 提示词必须点名 collection 字段
	p := buildPrompt(port.SynthesisRequest{Question: "q", Snapshot: testSnapshot(domain.DialectMongo)})
	assert.Contains(t, p, "collection")
}
