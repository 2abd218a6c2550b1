// Package schemasource memuat definisi DocType deklaratif dari direktori
// file JSON, satu file per DocType.
package schemasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/migrate"
)

// JSONDirSource mengimplementasikan migrate.SchemaSource di atas sebuah
// direktori berisi file <doctype>.json. Definisi dimuat penuh saat Load dan
// disajikan dari memori; Reload membaca ulang direktori.
type JSONDirSource struct {
	dir    string
	logger *zap.Logger

	mu       sync.RWMutex
	docTypes map[string]*migrate.DocType // key: lowercase name
}

var _ migrate.SchemaSource = (*JSONDirSource)(nil)

func NewJSONDirSource(dir string, logger *zap.Logger) *JSONDirSource {
	return &JSONDirSource{
		dir:      dir,
		logger:   logger.Named("schema-source"),
		docTypes: make(map[string]*migrate.DocType),
	}
}

// Load membaca seluruh definisi dari direktori. File yang tidak bisa diparse
// menggagalkan load; definisi skema yang rusak tidak boleh lolos diam-diam.
func (s *JSONDirSource) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read doctype directory '%s': %w", s.dir, err)
	}

	loaded := make(map[string]*migrate.DocType)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read doctype file '%s': %w", path, err)
		}

		var doc migrate.DocType
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to parse doctype file '%s': %w", path, err)
		}
		if doc.Name == "" {
			doc.Name = strings.TrimSuffix(entry.Name(), ".json")
		}

		key := strings.ToLower(doc.Name)
		if prior, exists := loaded[key]; exists {
			return fmt.Errorf("doctype '%s' defined more than once ('%s' and '%s')", prior.Name, prior.Name, doc.Name)
		}
		loaded[key] = &doc
	}

	s.mu.Lock()
	s.docTypes = loaded
	s.mu.Unlock()

	s.logger.Info("DocType definitions loaded.",
		zap.String("dir", s.dir), zap.Int("doctype_count", len(loaded)))
	return nil
}

// Reload adalah alias eksplisit agar niat pemanggil terbaca.
func (s *JSONDirSource) Reload() error { return s.Load() }

func (s *JSONDirSource) GetDocType(ctx context.Context, name string) (*migrate.DocType, error) {
	s.mu.RLock()
	doc, ok := s.docTypes[strings.ToLower(name)]
	s.mu.RUnlock()
	if !ok {
		return nil, &migrate.TypeNotFoundError{DocType: name}
	}
	// Salinan dangkal; pemanggil tidak boleh memutasi definisi bersama.
	copied := *doc
	return &copied, nil
}

func (s *JSONDirSource) GetAllDocTypes(ctx context.Context) ([]*migrate.DocType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*migrate.DocType, 0, len(s.docTypes))
	for _, doc := range s.docTypes {
		copied := *doc
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
