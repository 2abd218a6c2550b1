package migrate

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const maxIndexNameLength = 64

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9_]+`)

// IndexComparator membandingkan IndexSpec deklaratif dengan IndexDefinition
// fisik. Murni struktural, tanpa I/O.
type IndexComparator struct {
	opts   CompareOptions
	logger *zap.Logger
}

func NewIndexComparator(opts CompareOptions, logger *zap.Logger) *IndexComparator {
	return &IndexComparator{
		opts:   opts,
		logger: logger.Named("index-comparator"),
	}
}

// CompareIndexToIndex adalah ekuivalensi struktural: urutan kolom (setelah
// normalisasi case bila perbandingan case-insensitive), keunikan, dan tipe.
// Perbedaan urutan kolom adalah mismatch, bukan ekuivalen.
func (c *IndexComparator) CompareIndexToIndex(spec IndexSpec, physical IndexDefinition) bool {
	if spec.Unique != physical.Unique {
		return false
	}
	if len(spec.Columns) != len(physical.Columns) {
		return false
	}
	for i := range spec.Columns {
		a, b := spec.Columns[i], physical.Columns[i]
		if !c.opts.CaseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if a != b {
			return false
		}
	}
	if spec.TypeHint != "" && physical.Type != "" &&
		!strings.EqualFold(spec.TypeHint, physical.Type) {
		return false
	}
	return true
}

// FindMatchingIndex melakukan linear scan dan mengembalikan match struktural
// pertama, atau nil.
func (c *IndexComparator) FindMatchingIndex(spec IndexSpec, physical []IndexDefinition) *IndexDefinition {
	for i := range physical {
		if c.CompareIndexToIndex(spec, physical[i]) {
			c.logger.Debug("Found structurally matching physical index.",
				zap.String("spec_name", spec.Name), zap.String("physical_name", physical[i].Name))
			return &physical[i]
		}
	}
	return nil
}

// IsDestructiveIndexChange: menambah keunikan atau mengubah himpunan kolom
// bersifat destruktif (bisa gagal/menolak data existing); melepas keunikan
// atau hanya mengganti hint tipe tidak.
func (c *IndexComparator) IsDestructiveIndexChange(from IndexDefinition, to IndexSpec) bool {
	if to.Unique && !from.Unique {
		return true
	}
	if len(from.Columns) != len(to.Columns) {
		return true
	}
	for i := range to.Columns {
		a, b := from.Columns[i], to.Columns[i]
		if !c.opts.CaseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if a != b {
			return true
		}
	}
	return false
}

// ChangeComplexity mengembalikan skor heuristik (basis 5 plus bobot per
// dimensi yang berbeda). Dipakai hanya untuk estimasi/ordering, tidak pernah
// untuk keputusan correctness.
func (c *IndexComparator) ChangeComplexity(from IndexDefinition, to IndexSpec) int {
	score := 5
	if !columnsEqualFold(from.Columns, to.Columns, c.opts.CaseSensitive) {
		score += 3
	}
	if from.Unique != to.Unique {
		score += 2
	}
	if to.TypeHint != "" && !strings.EqualFold(from.Type, to.TypeHint) {
		score++
	}
	if from.Predicate != to.Predicate {
		score++
	}
	return score
}

func columnsEqualFold(a []string, b []string, caseSensitive bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if !caseSensitive {
			x, y = strings.ToLower(x), strings.ToLower(y)
		}
		if x != y {
			return false
		}
	}
	return true
}

// GenerateIndexName menghasilkan nama indeks deterministik:
// prefix uk_/idx_, lalu lowercase doctype dan nama kolom yang digabung '_',
// karakter non-alfanumerik diganti '_', dipotong ke 64 karakter dengan
// prefix tetap utuh.
func GenerateIndexName(docType string, columns []string, unique bool) string {
	prefix := "idx_"
	if unique {
		prefix = "uk_"
	}

	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, strings.ToLower(docType))
	for _, col := range columns {
		parts = append(parts, strings.ToLower(col))
	}
	body := nonAlnumRe.ReplaceAllString(strings.Join(parts, "_"), "_")

	if len(prefix)+len(body) > maxIndexNameLength {
		body = body[:maxIndexNameLength-len(prefix)]
	}
	return prefix + body
}
