package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/exemplar/internal/embed"
	"github.com/docsage/exemplar/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.IndexStore) {
	t.Helper()
	st, err := store.NewIndexStore(t.TempDir(), embed.StaticDimensions)
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = embedder.Close() })
	return NewBuilder(st, embedder, 2), st
}

func answerDoc(t *testing.T, raw string) *store.Document {
	t.Helper()
	var doc store.Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return &doc
}

func TestBuilder_BuildShard_PersistsRecords(t *testing.T) {
	builder, st := newTestBuilder(t)

	records := []Record{
		{
			Key:        store.UnitKey{DocID: "doc1", Unit: "1"},
			SourceText: "Invoice No. 2024-0815 total 99.50",
			Answer:     answerDoc(t, `{"invoice_number":"2024-0815","total":99.5}`),
			Category:   "invoice",
		},
		{
			Key:        store.UnitKey{DocID: "doc1", Unit: "2"},
			SourceText: "Rebate tier B applies",
			Answer:     answerDoc(t, `{"tier":"B"}`),
			Category:   "rebate",
		},
	}

	result, err := builder.BuildShard(context.Background(), records)
	require.NoError(t, err)
	require.NotEmpty(t, result.ShardRef)
	assert.Len(t, result.Units, 2)

	// The shard is persisted and loadable
	shard, err := st.LoadRecord(result.ShardRef)
	require.NoError(t, err)
	assert.Equal(t, 2, shard.Index.Count())

	// Ids are deterministic from the unit key
	id := DeterministicID(records[0].Key)
	require.Contains(t, shard.Metadata, id)
	example := shard.Metadata[id]
	assert.Equal(t, "doc1", example.Metadata[store.MetaDocID])
	assert.Equal(t, "1", example.Metadata[store.MetaUnit])
	assert.Equal(t, "invoice", example.Metadata[store.MetaCategory])
	assert.Equal(t, store.MetaStatusActive, example.Metadata[store.MetaStatus])
	assert.Equal(t, []string{"invoice_number", "total"}, example.KeyOrder.TopKeys)
}

func TestBuilder_BuildShard_SkipsEmptySourceText(t *testing.T) {
	builder, _ := newTestBuilder(t)

	records := []Record{
		{Key: store.UnitKey{DocID: "doc1", Unit: "1"}, SourceText: "   \n"},
		{Key: store.UnitKey{DocID: "doc1", Unit: "2"}, SourceText: "real text"},
	}

	result, err := builder.BuildShard(context.Background(), records)
	require.NoError(t, err)

	// Only the non-empty record made it in
	require.Len(t, result.Units, 1)
	assert.Equal(t, store.UnitKey{DocID: "doc1", Unit: "2"}, result.Units[0])
}

func TestBuilder_BuildShard_AllEmptyProducesNoShard(t *testing.T) {
	builder, st := newTestBuilder(t)

	result, err := builder.BuildShard(context.Background(), []Record{
		{Key: store.UnitKey{DocID: "doc1", Unit: "1"}, SourceText: ""},
	})
	require.NoError(t, err)
	assert.Empty(t, result.ShardRef)
	assert.Empty(t, result.Units)

	shards, err := st.ListShards()
	require.NoError(t, err)
	assert.Empty(t, shards)
}

func TestBuilder_BuildShard_NormalizesSourceText(t *testing.T) {
	builder, st := newTestBuilder(t)

	result, err := builder.BuildShard(context.Background(), []Record{
		{Key: store.UnitKey{DocID: "doc1", Unit: "1"}, SourceText: "  spaced\t\tout   text "},
	})
	require.NoError(t, err)

	shard, err := st.LoadRecord(result.ShardRef)
	require.NoError(t, err)
	example := shard.Metadata[DeterministicID(store.UnitKey{DocID: "doc1", Unit: "1"})]
	require.NotNil(t, example)
	assert.Equal(t, "spaced out text", example.SourceText)
}
