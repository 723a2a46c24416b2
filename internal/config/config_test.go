package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 256, cfg.Index.Dimension)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 0.5, cfg.Search.Threshold)
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, EmbeddingBackendStatic, cfg.Embeddings.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.TopK, cfg.Search.TopK)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exemplar.yaml")
	content := `
version: 1
paths:
  data_dir: /var/lib/exemplar
search:
  top_k: 9
  threshold: 0.3
embeddings:
  backend: ollama
  ollama_model: mxbai-embed-large
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/exemplar", cfg.Paths.DataDir)
	assert.Equal(t, 9, cfg.Search.TopK)
	assert.Equal(t, 0.3, cfg.Search.Threshold)
	assert.Equal(t, EmbeddingBackendOllama, cfg.Embeddings.Backend)
	assert.Equal(t, "mxbai-embed-large", cfg.Embeddings.OllamaModel)

	// Untouched sections keep their defaults
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, 256, cfg.Index.Dimension)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exemplar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  data_dir: from-file\n"), 0o644))

	t.Setenv("EXEMPLAR_DATA_DIR", "from-env")
	t.Setenv("EXEMPLAR_SEARCH_ALPHA", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Paths.DataDir)
	assert.Equal(t, 0.25, cfg.Search.Alpha)
}

func TestLoad_InvalidYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exemplar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Paths.DataDir = "" }},
		{"zero dimension", func(c *Config) { c.Index.Dimension = 0 }},
		{"alpha above one", func(c *Config) { c.Search.Alpha = 1.5 }},
		{"negative threshold", func(c *Config) { c.Search.Threshold = -0.1 }},
		{"zero top_k", func(c *Config) { c.Search.TopK = 0 }},
		{"unknown backend", func(c *Config) { c.Embeddings.Backend = "gpu-magic" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "exemplar.yaml")

	cfg := Default()
	cfg.Search.TopK = 7
	cfg.Paths.ArtifactDir = "/data/artifacts"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Search.TopK)
	assert.Equal(t, "/data/artifacts", loaded.Paths.ArtifactDir)
}
