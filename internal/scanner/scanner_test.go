package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/exemplar/internal/store"
)

const sampleArtifact = `{
  "doc_id": "inv-2024-0815",
  "pages": [
    {
      "page": 1,
      "category": "invoice",
      "source_text": "Invoice No. 2024-0815",
      "answer": {"invoice_number": "2024-0815", "net_total": 99.5}
    },
    {
      "page": 2,
      "category": "invoice",
      "source_text": "Page two continuation",
      "answer": {"carryover": true}
    }
  ]
}`

func writeArtifact(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestArtifactSource_Scan(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "inv-2024-0815.json", sampleArtifact)
	writeArtifact(t, dir, "notes.txt", "not an artifact")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.json"), 0o755))

	source := NewArtifactSource(dir)
	units, err := source.Scan(context.Background())
	require.NoError(t, err)

	// One unit per page; non-JSON files and directories are skipped
	require.Len(t, units, 2)
	keys := []store.UnitKey{units[0].Key, units[1].Key}
	assert.Contains(t, keys, store.UnitKey{DocID: "inv-2024-0815", Unit: "1"})
	assert.Contains(t, keys, store.UnitKey{DocID: "inv-2024-0815", Unit: "2"})

	// Both units share the file's fingerprint
	assert.Equal(t, units[0].Fingerprint, units[1].Fingerprint)
	assert.NotZero(t, units[0].Fingerprint.Size)
}

func TestArtifactSource_Extract(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "inv-2024-0815.json", sampleArtifact)

	source := NewArtifactSource(dir)
	rec, err := source.Extract(context.Background(), store.UnitKey{DocID: "inv-2024-0815", Unit: "1"})
	require.NoError(t, err)

	assert.Equal(t, "Invoice No. 2024-0815", rec.SourceText)
	assert.Equal(t, "invoice", rec.Category)
	require.NotNil(t, rec.Answer)

	// Answer key order is the artifact's wire order
	assert.Equal(t, []string{"invoice_number", "net_total"}, rec.Answer.Keys())
}

func TestArtifactSource_Extract_UnknownUnit(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "inv-2024-0815.json", sampleArtifact)

	source := NewArtifactSource(dir)
	_, err := source.Extract(context.Background(), store.UnitKey{DocID: "inv-2024-0815", Unit: "99"})
	require.Error(t, err)
}

func TestArtifactSource_Extract_MissingFile(t *testing.T) {
	source := NewArtifactSource(t.TempDir())
	_, err := source.Extract(context.Background(), store.UnitKey{DocID: "ghost", Unit: "1"})
	require.Error(t, err)
}

func TestArtifactSource_Scan_DocIDDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "unnamed.json", `{"pages":[{"page":1,"source_text":"x"}]}`)

	source := NewArtifactSource(dir)
	units, err := source.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "unnamed", units[0].Key.DocID)
}

func TestArtifactSource_Scan_MalformedArtifactErrors(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "bad.json", "{broken")

	source := NewArtifactSource(dir)
	_, err := source.Scan(context.Background())
	require.Error(t, err)
}
