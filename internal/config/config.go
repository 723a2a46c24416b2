// Package config loads and validates the exemplar configuration.
// Precedence: defaults, then the YAML file, then EXEMPLAR_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	exerrors "github.com/docsage/exemplar/internal/errors"
)

// Embedding backend names.
const (
	EmbeddingBackendStatic = "static"
	EmbeddingBackendOllama = "ollama"
)

// DefaultConfigName is the config file looked up in the data directory.
const DefaultConfigName = "exemplar.yaml"

// Config is the complete exemplar configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

// PathsConfig locates the on-disk state.
type PathsConfig struct {
	// DataDir holds the index records and the manifest database.
	DataDir string `yaml:"data_dir"`

	// ArtifactDir is the directory the scanner watches for extraction
	// artifacts.
	ArtifactDir string `yaml:"artifact_dir"`
}

// IndexConfig configures the vector index and shard builds.
type IndexConfig struct {
	// Dimension is the embedding dimension. Must match the embedder.
	Dimension int `yaml:"dimension"`

	// EmbedConcurrency bounds parallel embedding calls during a build.
	EmbedConcurrency int `yaml:"embed_concurrency"`
}

// SearchConfig configures hybrid retrieval defaults.
type SearchConfig struct {
	// TopK is the default number of results returned.
	TopK int `yaml:"top_k"`

	// Threshold is the default similarity threshold in [0,1].
	Threshold float64 `yaml:"threshold"`

	// Alpha weights vector similarity against lexical score in the
	// hybrid ranking: hybrid = alpha*vector + (1-alpha)*lexical.
	Alpha float64 `yaml:"alpha"`
}

// EmbeddingsConfig selects and configures the embedding backend.
type EmbeddingsConfig struct {
	// Backend is "static" (offline, deterministic) or "ollama".
	Backend string `yaml:"backend"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// OllamaModel is the embedding model name.
	OllamaModel string `yaml:"ollama_model"`

	// CacheSize is the embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:     ".exemplar",
			ArtifactDir: "artifacts",
		},
		Index: IndexConfig{
			Dimension:        256,
			EmbedConcurrency: 4,
		},
		Search: SearchConfig{
			TopK:      5,
			Threshold: 0.5,
			Alpha:     0.7,
		},
		Embeddings: EmbeddingsConfig{
			Backend:   EmbeddingBackendStatic,
			CacheSize: 1000,
		},
	}
}

// Load reads the config file at path (optional), applies env overrides,
// and validates. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies EXEMPLAR_* environment variables, the
// highest-precedence layer.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXEMPLAR_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("EXEMPLAR_ARTIFACT_DIR"); v != "" {
		cfg.Paths.ArtifactDir = v
	}
	if v := os.Getenv("EXEMPLAR_EMBED_BACKEND"); v != "" {
		cfg.Embeddings.Backend = v
	}
	if v := os.Getenv("EXEMPLAR_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("EXEMPLAR_OLLAMA_MODEL"); v != "" {
		cfg.Embeddings.OllamaModel = v
	}
	if v := os.Getenv("EXEMPLAR_SEARCH_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Alpha = f
		}
	}
	if v := os.Getenv("EXEMPLAR_SEARCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Threshold = f
		}
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return exerrors.New(exerrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}
	if c.Paths.DataDir == "" {
		return fail("paths.data_dir is required")
	}
	if c.Index.Dimension <= 0 {
		return fail("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fail("search.alpha must be in [0,1], got %g", c.Search.Alpha)
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fail("search.threshold must be in [0,1], got %g", c.Search.Threshold)
	}
	if c.Search.TopK <= 0 {
		return fail("search.top_k must be positive, got %d", c.Search.TopK)
	}
	switch c.Embeddings.Backend {
	case EmbeddingBackendStatic, EmbeddingBackendOllama:
	default:
		return fail("unknown embeddings.backend %q", c.Embeddings.Backend)
	}
	return nil
}

// DefaultPath returns the config file path inside the data directory.
func (c *Config) DefaultPath() string {
	return filepath.Join(c.Paths.DataDir, DefaultConfigName)
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
