package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/exemplar/internal/config"
	"github.com/docsage/exemplar/internal/scanner"
	"github.com/docsage/exemplar/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Paths.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	require.NoError(t, os.MkdirAll(cfg.Paths.ArtifactDir, 0o755))
	return cfg
}

func TestSession_Open_Idempotent(t *testing.T) {
	session := NewSession(testConfig(t))
	ctx := context.Background()

	require.NoError(t, session.Open(ctx))
	retriever := session.Retriever()

	require.NoError(t, session.Open(ctx))
	assert.Same(t, retriever, session.Retriever())

	require.NoError(t, session.Close())
}

func TestSession_Close_BeforeOpenIsNoop(t *testing.T) {
	session := NewSession(testConfig(t))
	require.NoError(t, session.Close())
}

func TestSession_EndToEnd_IndexThenSearch(t *testing.T) {
	cfg := testConfig(t)
	artifact := `{
	  "doc_id": "inv1",
	  "pages": [
	    {"page": 1, "category": "invoice",
	     "source_text": "Invoice number 2024-0815 net total 99.50",
	     "answer": {"invoice_number": "2024-0815", "net_total": 99.5}}
	  ]
	}`
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Paths.ArtifactDir, "inv1.json"), []byte(artifact), 0o644))

	session := NewSession(cfg)
	ctx := context.Background()
	require.NoError(t, session.Open(ctx))
	defer func() { _ = session.Close() }()

	// When: running the pipeline over the artifact directory
	coord := session.Coordinator(scanner.NewArtifactSource(cfg.Paths.ArtifactDir))
	stats, err := coord.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Indexed)

	// Then: the session's retriever observes the merge without reopening
	retriever := session.Retriever()
	assert.Equal(t, 1, retriever.CountExamples())

	results, err := retriever.SearchVector(ctx, "Invoice number 2024-0815 net total 99.50", 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "inv1", results[0].Example.Metadata[store.MetaDocID])
	assert.Greater(t, results[0].Similarity, 0.99)
}

func TestSession_Reload_SeesExternalMerges(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Given: one session that indexes an artifact
	writerSession := NewSession(cfg)
	require.NoError(t, writerSession.Open(ctx))
	defer func() { _ = writerSession.Close() }()

	// And: a reader session opened against the same empty data dir
	readerCfg := *cfg
	readerSession := NewSession(&readerCfg)
	require.NoError(t, readerSession.Open(ctx))
	defer func() { _ = readerSession.Close() }()
	require.Equal(t, 0, readerSession.Retriever().CountExamples())

	artifact := `{"doc_id":"d1","pages":[{"page":1,"source_text":"some text","answer":{"a":1}}]}`
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Paths.ArtifactDir, "d1.json"), []byte(artifact), 0o644))
	_, err := writerSession.Coordinator(scanner.NewArtifactSource(cfg.Paths.ArtifactDir)).Run(ctx)
	require.NoError(t, err)

	// The reader sees nothing until it reloads
	assert.Equal(t, 0, readerSession.Retriever().CountExamples())
	require.NoError(t, readerSession.Reload(ctx))
	assert.Equal(t, 1, readerSession.Retriever().CountExamples())
}

func TestSession_Open_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embeddings.Backend = "bogus"

	session := NewSession(cfg)
	require.Error(t, session.Open(context.Background()))
}
