// Package scanner provides the filesystem-backed record source: it
// discovers extraction artifacts (one JSON file per document, one entry
// per page) and turns them into pipeline records. The OCR/extraction
// front end that produces those artifacts is a separate system.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docsage/exemplar/internal/index"
	"github.com/docsage/exemplar/internal/store"
)

// artifactDoc is the on-disk shape of one extracted document.
type artifactDoc struct {
	DocID string         `json:"doc_id"`
	Pages []artifactPage `json:"pages"`
}

// artifactPage is one extracted page: the OCR text and the structured
// answer a reviewer validated.
type artifactPage struct {
	Page       int             `json:"page"`
	Category   string          `json:"category"`
	SourceText string          `json:"source_text"`
	Answer     *store.Document `json:"answer"`
}

// ArtifactSource scans a directory of *.json extraction artifacts.
// The artifact file's mtime and size form the fast fingerprint for every
// unit it contains, so an untouched file skips extraction entirely.
type ArtifactSource struct {
	dir string
}

// NewArtifactSource creates a source over the given directory.
func NewArtifactSource(dir string) *ArtifactSource {
	return &ArtifactSource{dir: dir}
}

var _ index.RecordSource = (*ArtifactSource)(nil)

// Scan lists every (document, page) unit currently present, with the
// containing file's fingerprint. Artifacts are parsed only to enumerate
// their pages; the per-unit change decision stays with the caller.
func (s *ArtifactSource) Scan(ctx context.Context) ([]index.UnitStat, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan artifact directory %s: %w", s.dir, err)
	}

	var units []index.UnitStat
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fp := store.Fingerprint{ModTime: info.ModTime().Unix(), Size: info.Size()}

		doc, err := s.readArtifact(name)
		if err != nil {
			return nil, err
		}
		for _, page := range doc.Pages {
			units = append(units, index.UnitStat{
				Key:         store.UnitKey{DocID: doc.DocID, Unit: strconv.Itoa(page.Page)},
				Fingerprint: fp,
			})
		}
	}
	return units, nil
}

// Extract returns the record for one unit.
func (s *ArtifactSource) Extract(ctx context.Context, key store.UnitKey) (*index.Record, error) {
	doc, err := s.readArtifact(key.DocID + ".json")
	if err != nil {
		return nil, err
	}
	for _, page := range doc.Pages {
		if strconv.Itoa(page.Page) != key.Unit {
			continue
		}
		return &index.Record{
			Key:        key,
			SourceText: page.SourceText,
			Answer:     page.Answer,
			Category:   page.Category,
		}, nil
	}
	return nil, fmt.Errorf("unit %s not found in artifact", key)
}

func (s *ArtifactSource) readArtifact(name string) (*artifactDoc, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	var doc artifactDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	if doc.DocID == "" {
		doc.DocID = strings.TrimSuffix(name, ".json")
	}
	return &doc, nil
}
