// internal/migrate/engine_test.go
package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, db *mockDatabase, source SchemaSource, opts CompareOptions) *SchemaComparisonEngine {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	gen := NewSQLGenerator(DefaultGeneratorConfig(), logger)
	return NewSchemaComparisonEngine(db, source, gen, opts, logger)
}

func customerDoc() *DocType {
	return &DocType{
		Name: "Customer",
		Fields: []FieldSpec{
			{Fieldname: "email", Type: FieldTypeSmallText, Required: true},
			{Fieldname: "age", Type: FieldTypeInt},
		},
		Indexes: []IndexSpec{
			{Columns: []string{"email"}, Unique: true},
		},
	}
}

func TestCompareSchemaNewTable(t *testing.T) {
	db := newMockDatabase()
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	diff, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)

	// Tabel belum ada: seluruh field dan indeks menjadi penambahan.
	assert.Equal(t, "tabCustomer", diff.Table)
	require.Len(t, diff.AddedColumns, 2)
	assert.Equal(t, "email", diff.AddedColumns[0].Fieldname)
	require.Len(t, diff.AddedIndexes, 1)
	assert.Equal(t, "uk_customer_email", diff.AddedIndexes[0].Name)
	assert.Empty(t, diff.PhysicalColumns)
	assert.False(t, diff.IsEmpty())

	// Snapshot target selalu terisi: kolom sistem + field terdeklarasi.
	assert.Len(t, diff.TargetColumns, len(SystemColumns())+2)
}

func TestCompareSchemaNoChanges(t *testing.T) {
	db := newMockDatabase()
	db.tables["tabCustomer"] = true
	db.columns["tabCustomer"] = append(SystemColumns(),
		ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140), NotNull: true},
		ColumnDefinition{Name: "age", Type: "integer"})
	db.indexes["tabCustomer"] = []IndexDefinition{
		{Name: "uk_customer_email", Columns: []string{"email"}, Unique: true},
	}
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	diff, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	assert.True(t, diff.IsEmpty())
}

func TestCompareSchemaFieldMatchingHonorsCaseSensitivity(t *testing.T) {
	doc := &DocType{
		Name:   "Customer",
		Fields: []FieldSpec{{Fieldname: "Email", Type: FieldTypeSmallText, Required: true}},
	}
	buildDB := func() *mockDatabase {
		db := newMockDatabase()
		db.tables["tabCustomer"] = true
		db.columns["tabCustomer"] = append(SystemColumns(),
			ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140), NotNull: true})
		return db
	}

	t.Run("default mencocokkan tanpa memandang huruf besar", func(t *testing.T) {
		engine := newTestEngine(t, buildDB(), newMockSource(doc), CompareOptions{})
		diff, err := engine.CompareSchema(context.Background(), "Customer")
		require.NoError(t, err)
		assert.Empty(t, diff.AddedColumns)
		assert.Empty(t, diff.RemovedColumns)
	})

	t.Run("case-sensitive memperlakukan beda huruf sebagai kolom berbeda", func(t *testing.T) {
		engine := newTestEngine(t, buildDB(), newMockSource(doc), CompareOptions{CaseSensitive: true})
		diff, err := engine.CompareSchema(context.Background(), "Customer")
		require.NoError(t, err)
		require.Len(t, diff.AddedColumns, 1)
		assert.Equal(t, "Email", diff.AddedColumns[0].Fieldname)
		require.Len(t, diff.RemovedColumns, 1)
		assert.Equal(t, "email", diff.RemovedColumns[0].Fieldname)
	})
}

func TestCompareSchemaDrift(t *testing.T) {
	db := newMockDatabase()
	db.tables["tabCustomer"] = true
	db.columns["tabCustomer"] = append(SystemColumns(),
		// email drift: nullable padahal dideklarasikan required.
		ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140)},
		ColumnDefinition{Name: "age", Type: "integer"},
		// Kolom fisik yang tidak lagi dideklarasikan.
		ColumnDefinition{Name: "legacy_code", Type: "text"})
	db.indexes["tabCustomer"] = []IndexDefinition{
		{Name: "uk_customer_email", Columns: []string{"email"}, Unique: true},
	}
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	diff, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)

	require.Len(t, diff.ModifiedColumns, 1)
	assert.Equal(t, "email", diff.ModifiedColumns[0].Fieldname)
	assert.Contains(t, diff.ModifiedColumns[0].Changes, "notnull")

	require.Len(t, diff.RemovedColumns, 1)
	assert.Equal(t, "legacy_code", diff.RemovedColumns[0].Fieldname)
}

func TestCompareSchemaSystemColumnsNeverRemoved(t *testing.T) {
	db := newMockDatabase()
	db.tables["tabCustomer"] = true
	// Fisik hanya punya kolom sistem; tidak satu pun dideklarasikan doc.
	db.columns["tabCustomer"] = SystemColumns()
	doc := &DocType{Name: "Customer", Fields: []FieldSpec{{Fieldname: "email", Type: FieldTypeSmallText}}}
	engine := newTestEngine(t, db, newMockSource(doc), CompareOptions{})

	diff, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Empty(t, diff.RemovedColumns)
	require.Len(t, diff.AddedColumns, 1)
}

func TestCompareSchemaSkipsEngineManagedIndexes(t *testing.T) {
	db := newMockDatabase()
	db.tables["tabCustomer"] = true
	db.columns["tabCustomer"] = append(SystemColumns(),
		ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140), NotNull: true},
		ColumnDefinition{Name: "age", Type: "integer"})
	db.indexes["tabCustomer"] = []IndexDefinition{
		{Name: "uk_customer_email", Columns: []string{"email"}, Unique: true},
		{Name: "sqlite_autoindex_tabCustomer_1", Columns: []string{"name"}, Unique: true},
		{Name: "PRIMARY", Columns: []string{"name"}, Unique: true},
	}
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	diff, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Empty(t, diff.RemovedIndexes)
}

func TestCompareSchemaUnknownDocType(t *testing.T) {
	engine := newTestEngine(t, newMockDatabase(), newMockSource(), CompareOptions{})

	_, err := engine.CompareSchema(context.Background(), "Ghost")
	require.Error(t, err)
	assert.True(t, IsTypeNotFound(err))
}

func TestValidateDocType(t *testing.T) {
	engine := newTestEngine(t, newMockDatabase(), newMockSource(), CompareOptions{})

	testCases := []struct {
		name   string
		doc    *DocType
		reason string
	}{
		{
			name:   "nama doctype kosong",
			doc:    &DocType{},
			reason: "doctype name is empty",
		},
		{
			name:   "fieldname kosong",
			doc:    &DocType{Name: "X", Fields: []FieldSpec{{Type: FieldTypeText}}},
			reason: "empty fieldname",
		},
		{
			name: "bentrok dengan kolom sistem",
			doc: &DocType{Name: "X", Fields: []FieldSpec{
				{Fieldname: "owner", Type: FieldTypeText},
			}},
			reason: "collides with a managed system column",
		},
		{
			name: "fieldname duplikat",
			doc: &DocType{Name: "X", Fields: []FieldSpec{
				{Fieldname: "a", Type: FieldTypeText},
				{Fieldname: "A", Type: FieldTypeText},
			}},
			reason: "duplicate fieldname",
		},
		{
			name: "indeks tanpa kolom",
			doc: &DocType{Name: "X",
				Fields:  []FieldSpec{{Fieldname: "a", Type: FieldTypeText}},
				Indexes: []IndexSpec{{}}},
			reason: "declares no columns",
		},
		{
			name: "indeks menunjuk kolom tak dikenal",
			doc: &DocType{Name: "X",
				Fields:  []FieldSpec{{Fieldname: "a", Type: FieldTypeText}},
				Indexes: []IndexSpec{{Columns: []string{"missing"}}}},
			reason: "unknown column 'missing'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.validateDocType(tc.doc)
			require.Error(t, err)
			var valErr *SchemaValidationError
			require.True(t, errors.As(err, &valErr))
			assert.Contains(t, valErr.Error(), tc.reason)
		})
	}

	// Kolom sistem boleh dipakai di indeks.
	err := engine.validateDocType(&DocType{Name: "X",
		Fields:  []FieldSpec{{Fieldname: "a", Type: FieldTypeText}},
		Indexes: []IndexSpec{{Columns: []string{"modified"}}}})
	assert.NoError(t, err)
}

func TestCompareSchemaCachesIntrospection(t *testing.T) {
	db := newMockDatabase()
	db.tables["tabCustomer"] = true
	db.columns["tabCustomer"] = append(SystemColumns(),
		ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140), NotNull: true},
		ColumnDefinition{Name: "age", Type: "integer"})
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	_, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	_, err = engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Equal(t, 1, db.getColCalls, "second comparison must hit the cache")

	engine.ClearCache("tabCustomer")
	_, err = engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Equal(t, 2, db.getColCalls)
}

func TestCompareAllSchemas(t *testing.T) {
	db := newMockDatabase()
	invoice := &DocType{Name: "Invoice", Fields: []FieldSpec{{Fieldname: "total", Type: FieldTypeCurrency}}}
	engine := newTestEngine(t, db, newMockSource(customerDoc(), invoice), CompareOptions{})

	diffs, err := engine.CompareAllSchemas(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Contains(t, diffs, "Customer")
	assert.Contains(t, diffs, "Invoice")
}

func TestBatchCompareSchemasIsolatesFailures(t *testing.T) {
	db := newMockDatabase()
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	result := engine.BatchCompareSchemas(context.Background(), []string{"Customer", "Ghost"})
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Diffs, "Customer")
	require.Contains(t, result.Errors, "Ghost")
	assert.True(t, IsTypeNotFound(result.Errors["Ghost"]))
}

func TestCompareSchemaReportsProgress(t *testing.T) {
	db := newMockDatabase()
	engine := newTestEngine(t, db, newMockSource(customerDoc()), CompareOptions{})

	stages := make([]CompareStage, 0, 4)
	engine.SetProgressFunc(func(stage CompareStage, percent int) {
		stages = append(stages, stage)
	})

	_, err := engine.CompareSchema(context.Background(), "Customer")
	require.NoError(t, err)
	require.NotEmpty(t, stages)
	assert.Equal(t, StageLoadDocType, stages[0])
	assert.Equal(t, StageComplete, stages[len(stages)-1])
}
