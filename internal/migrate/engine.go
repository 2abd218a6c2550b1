package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SchemaComparisonEngine mengorkestrasi perbandingan: memuat DocType dari
// SchemaSource, memuat skema fisik dari Database, lalu mendelegasikan ke
// comparator field dan indeks. Hasilnya SchemaDiff immutable per perbandingan.
type SchemaComparisonEngine struct {
	db     Database
	source SchemaSource
	gen    *SQLGenerator
	fields *FieldComparator
	idx    *IndexComparator
	opts   CompareOptions
	logger *zap.Logger

	// Cache hasil introspeksi per tabel. Di-invalidate eksplisit oleh
	// pemanggil setelah migrasi diterapkan.
	mu    sync.RWMutex
	cache map[string]*physicalSnapshot

	progress ProgressFunc
}

type physicalSnapshot struct {
	columns []ColumnDefinition
	indexes []IndexDefinition
}

// NewSchemaComparisonEngine membangun engine dengan comparator bawaan.
func NewSchemaComparisonEngine(db Database, source SchemaSource, gen *SQLGenerator, opts CompareOptions, logger *zap.Logger) *SchemaComparisonEngine {
	log := logger.Named("comparison-engine")
	return &SchemaComparisonEngine{
		db:     db,
		source: source,
		gen:    gen,
		fields: NewFieldComparator(opts, log),
		idx:    NewIndexComparator(opts, log),
		opts:   opts,
		logger: log,
		cache:  make(map[string]*physicalSnapshot),
	}
}

// SetProgressFunc memasang observer milestone; best-effort, boleh nil.
func (e *SchemaComparisonEngine) SetProgressFunc(fn ProgressFunc) {
	e.progress = fn
}

func (e *SchemaComparisonEngine) report(stage CompareStage, percent int) {
	if e.progress != nil {
		e.progress(stage, percent)
	}
}

// ClearCache membuang cache introspeksi. Dengan argumen kosong seluruh cache
// dibuang; selain itu hanya tabel yang disebut.
func (e *SchemaComparisonEngine) ClearCache(tables ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tables) == 0 {
		e.cache = make(map[string]*physicalSnapshot)
		return
	}
	for _, t := range tables {
		delete(e.cache, t)
	}
}

// CompareSchema membandingkan definisi deklaratif sebuah DocType dengan
// keadaan fisiknya dan mengembalikan diff. Tabel yang belum ada menghasilkan
// diff "tabel baru": seluruh field dan indeks sebagai penambahan.
func (e *SchemaComparisonEngine) CompareSchema(ctx context.Context, docTypeName string) (*SchemaDiff, error) {
	log := e.logger.With(zap.String("doctype", docTypeName))

	e.report(StageLoadDocType, 10)
	doc, err := e.source.GetDocType(ctx, docTypeName)
	if err != nil {
		return nil, err
	}
	if err := e.validateDocType(doc); err != nil {
		return nil, err
	}

	table := e.gen.TableName(doc.Name)
	diff := &SchemaDiff{DocType: doc.Name, Table: table}

	// Snapshot target selalu diisi, apa pun hasil perbandingan.
	diff.TargetColumns = SystemColumns()
	for _, f := range doc.Fields {
		diff.TargetColumns = append(diff.TargetColumns, e.gen.ColumnForField(f))
	}
	diff.TargetIndexes = make([]IndexSpec, 0, len(doc.Indexes))
	for _, idx := range doc.Indexes {
		s := idx
		if s.Name == "" {
			s.Name = GenerateIndexName(doc.Name, s.Columns, s.Unique)
		}
		diff.TargetIndexes = append(diff.TargetIndexes, s)
	}

	e.report(StageLoadPhysicalSchema, 30)
	exists, err := e.db.TableExists(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of table '%s': %w", table, err)
	}
	if !exists {
		log.Debug("Table does not exist yet; treating every field and index as an addition.",
			zap.String("table", table))
		for i := range doc.Fields {
			f := doc.Fields[i]
			diff.AddedColumns = append(diff.AddedColumns, ColumnChange{Fieldname: f.Fieldname, Field: &f})
		}
		for i := range diff.TargetIndexes {
			s := diff.TargetIndexes[i]
			diff.AddedIndexes = append(diff.AddedIndexes, IndexChange{Name: s.Name, Spec: &s})
		}
		e.report(StageComplete, 100)
		return diff, nil
	}

	snap, err := e.loadPhysical(ctx, table)
	if err != nil {
		return nil, err
	}
	diff.PhysicalColumns = snap.columns
	diff.PhysicalIndexes = snap.indexes

	e.report(StageCompareFields, 60)
	e.compareFields(doc, snap.columns, diff, log)

	e.report(StageCompareIndexes, 85)
	e.compareIndexes(doc.Name, diff.TargetIndexes, snap.indexes, diff, log)

	e.report(StageComplete, 100)
	log.Debug("Schema comparison complete.",
		zap.Int("added", len(diff.AddedColumns)),
		zap.Int("removed", len(diff.RemovedColumns)),
		zap.Int("modified", len(diff.ModifiedColumns)),
		zap.Int("indexes_added", len(diff.AddedIndexes)),
		zap.Int("indexes_removed", len(diff.RemovedIndexes)),
		zap.Bool("empty", diff.IsEmpty()))
	return diff, nil
}

// validateDocType memvalidasi definisi sebelum menyentuh database sama
// sekali: nama field kosong, duplikat, atau bentrok dengan kolom sistem.
func (e *SchemaComparisonEngine) validateDocType(doc *DocType) error {
	if doc.Name == "" {
		return &SchemaValidationError{DocType: doc.Name, Reason: "doctype name is empty"}
	}
	seen := make(map[string]bool, len(doc.Fields))
	for _, f := range doc.Fields {
		name := strings.ToLower(f.Fieldname)
		if name == "" {
			return &SchemaValidationError{DocType: doc.Name, Reason: "a field has an empty fieldname"}
		}
		if IsSystemColumn(name) {
			return &SchemaValidationError{DocType: doc.Name,
				Reason: fmt.Sprintf("fieldname '%s' collides with a managed system column", f.Fieldname)}
		}
		if seen[name] {
			return &SchemaValidationError{DocType: doc.Name,
				Reason: fmt.Sprintf("duplicate fieldname '%s'", f.Fieldname)}
		}
		seen[name] = true
	}
	for _, idx := range doc.Indexes {
		if len(idx.Columns) == 0 {
			return &SchemaValidationError{DocType: doc.Name, Reason: "an index declares no columns"}
		}
		for _, c := range idx.Columns {
			if !seen[strings.ToLower(c)] && !IsSystemColumn(c) {
				return &SchemaValidationError{DocType: doc.Name,
					Reason: fmt.Sprintf("index references unknown column '%s'", c)}
			}
		}
	}
	return nil
}

func (e *SchemaComparisonEngine) loadPhysical(ctx context.Context, table string) (*physicalSnapshot, error) {
	e.mu.RLock()
	if snap, ok := e.cache[table]; ok {
		e.mu.RUnlock()
		e.logger.Debug("Physical schema served from cache.", zap.String("table", table))
		return snap, nil
	}
	e.mu.RUnlock()

	cols, err := e.db.GetColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns of '%s': %w", table, err)
	}
	idxs, err := e.db.GetIndexes(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect indexes of '%s': %w", table, err)
	}
	snap := &physicalSnapshot{columns: cols, indexes: idxs}

	e.mu.Lock()
	e.cache[table] = snap
	e.mu.Unlock()
	return snap, nil
}

func (e *SchemaComparisonEngine) compareFields(doc *DocType, physical []ColumnDefinition, diff *SchemaDiff, log *zap.Logger) {
	physByName := make(map[string]ColumnDefinition, len(physical))
	for _, col := range physical {
		physByName[e.fieldKey(col.Name)] = col
	}
	declared := make(map[string]bool, len(doc.Fields))

	for i := range doc.Fields {
		f := doc.Fields[i]
		key := e.fieldKey(f.Fieldname)
		declared[key] = true

		actual, exists := physByName[key]
		if !exists {
			diff.AddedColumns = append(diff.AddedColumns, ColumnChange{Fieldname: f.Fieldname, Field: &f})
			continue
		}

		expected := e.gen.ColumnForField(f)
		changes := e.fields.Compare(expected, actual)
		if len(changes) == 0 {
			continue
		}
		fc := e.fields.Classify(&f, expected, actual, changes)
		diff.ModifiedColumns = append(diff.ModifiedColumns, fc)
		log.Debug("Column drifted from its declared definition.",
			zap.String("column", f.Fieldname), zap.Int("changed_attributes", len(changes)))
	}

	// Kolom fisik yang tidak lagi dideklarasikan = removal. Kolom sistem
	// tidak pernah di-diff.
	for i := range physical {
		col := physical[i]
		if IsSystemColumn(strings.ToLower(col.Name)) || declared[e.fieldKey(col.Name)] {
			continue
		}
		colCopy := col
		diff.RemovedColumns = append(diff.RemovedColumns, ColumnChange{Fieldname: col.Name, Column: &colCopy})
	}
}

// fieldKey menormalkan nama field untuk pencocokan; hanya lowercase bila
// perbandingan tidak case-sensitive.
func (e *SchemaComparisonEngine) fieldKey(name string) string {
	if e.opts.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

func (e *SchemaComparisonEngine) compareIndexes(docType string, target []IndexSpec, physical []IndexDefinition, diff *SchemaDiff, log *zap.Logger) {
	matched := make(map[string]bool, len(physical))

	for i := range target {
		spec := target[i]
		found := e.idx.FindMatchingIndex(spec, physical)
		if found == nil {
			diff.AddedIndexes = append(diff.AddedIndexes, IndexChange{Name: spec.Name, Spec: &spec})
			continue
		}
		matched[strings.ToLower(found.Name)] = true
	}

	for i := range physical {
		idx := physical[i]
		if matched[strings.ToLower(idx.Name)] {
			continue
		}
		// Indeks implicit milik engine (PK, autoindex) bukan urusan diff.
		if isEngineManagedIndex(idx.Name) {
			continue
		}
		idxCopy := idx
		diff.RemovedIndexes = append(diff.RemovedIndexes, IndexChange{Name: idx.Name, Index: &idxCopy})
	}
}

// isEngineManagedIndex menyaring indeks yang dibuat otomatis oleh engine
// untuk PK/UNIQUE constraint, misal sqlite_autoindex_*.
func isEngineManagedIndex(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "sqlite_autoindex_") || strings.HasPrefix(lower, "primary")
}

// CompareAllSchemas membandingkan seluruh DocType terdaftar secara berurutan.
// Kegagalan satu tipe menghentikan sweep; untuk isolasi per-tipe gunakan
// BatchCompareSchemas.
func (e *SchemaComparisonEngine) CompareAllSchemas(ctx context.Context) (map[string]*SchemaDiff, error) {
	docs, err := e.source.GetAllDocTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctypes: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	sort.Strings(names)

	diffs := make(map[string]*SchemaDiff, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		diff, err := e.CompareSchema(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("comparison failed for doctype '%s': %w", name, err)
		}
		diffs[name] = diff
	}
	return diffs, nil
}

// BatchCompareSchemas membandingkan daftar DocType dengan isolasi kegagalan:
// satu tipe yang gagal dicatat per-nama dan sisanya tetap diproses.
func (e *SchemaComparisonEngine) BatchCompareSchemas(ctx context.Context, names []string) *BatchCompareResult {
	result := &BatchCompareResult{
		Diffs:  make(map[string]*SchemaDiff, len(names)),
		Errors: make(map[string]error),
	}
	for _, name := range names {
		diff, err := e.CompareSchema(ctx, name)
		if err != nil {
			e.logger.Warn("Comparison failed for a doctype in the batch.",
				zap.String("doctype", name), zap.Error(err))
			result.Errors[name] = err
			result.Failed++
			continue
		}
		result.Diffs[name] = diff
		result.Succeeded++
	}
	return result
}
