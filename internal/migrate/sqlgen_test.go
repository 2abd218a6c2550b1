// internal/migrate/sqlgen_test.go
package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGenerator(t *testing.T) *SQLGenerator {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewSQLGenerator(DefaultGeneratorConfig(), logger)
}

func statementTypes(statements []Statement) []StatementType {
	types := make([]StatementType, len(statements))
	for i, s := range statements {
		types[i] = s.Type
	}
	return types
}

func TestTableName(t *testing.T) {
	g := newTestGenerator(t)
	assert.Equal(t, "tabCustomer", g.TableName("Customer"))
}

func TestColumnForField(t *testing.T) {
	g := newTestGenerator(t)

	t.Run("smalltext gets default length", func(t *testing.T) {
		col := g.ColumnForField(FieldSpec{Fieldname: "status", Type: FieldTypeSmallText})
		assert.Equal(t, "varchar", col.Type)
		assert.Equal(t, int64(140), col.Length.Int64)
	})

	t.Run("explicit length wins over default", func(t *testing.T) {
		col := g.ColumnForField(FieldSpec{Fieldname: "code", Type: FieldTypeSmallText, Length: 20})
		assert.Equal(t, int64(20), col.Length.Int64)
	})

	t.Run("currency carries precision and scale", func(t *testing.T) {
		col := g.ColumnForField(FieldSpec{Fieldname: "amount", Type: FieldTypeCurrency})
		assert.Equal(t, "decimal", col.Type)
		assert.Equal(t, int64(18), col.Precision.Int64)
		assert.Equal(t, int64(6), col.Scale.Int64)
	})

	t.Run("required and unique map to constraints", func(t *testing.T) {
		col := g.ColumnForField(FieldSpec{Fieldname: "email", Type: FieldTypeSmallText, Required: true, Unique: true})
		assert.True(t, col.NotNull)
		assert.True(t, col.Unique)
	})

	t.Run("unknown type falls back to text", func(t *testing.T) {
		col := g.ColumnForField(FieldSpec{Fieldname: "blob", Type: FieldType("mystery")})
		assert.Equal(t, "text", col.Type)
	})
}

func TestGenerateCreateTableSQL(t *testing.T) {
	g := newTestGenerator(t)

	doc := &DocType{
		Name: "Customer",
		Fields: []FieldSpec{
			{Fieldname: "email", Type: FieldTypeSmallText, Required: true},
			{Fieldname: "age", Type: FieldTypeInt},
		},
	}

	stmt, err := g.GenerateCreateTableSQL(doc)
	require.NoError(t, err)
	assert.Equal(t, StatementCreateTable, stmt.Type)
	assert.Equal(t, "tabCustomer", stmt.Table)

	// Kolom sistem selalu hadir, identitas jadi PK.
	assert.Contains(t, stmt.SQL, `CREATE TABLE "tabCustomer"`)
	assert.Contains(t, stmt.SQL, `"name" varchar(140) NOT NULL`)
	assert.Contains(t, stmt.SQL, `"docstatus" integer NOT NULL DEFAULT 0`)
	assert.Contains(t, stmt.SQL, `PRIMARY KEY ("name")`)
	assert.Contains(t, stmt.SQL, `"email" varchar(140) NOT NULL`)
	assert.Contains(t, stmt.SQL, `"age" integer`)
}

func TestGenerateAddColumnSQL(t *testing.T) {
	g := newTestGenerator(t)

	stmt, err := g.GenerateAddColumnSQL("Customer", FieldSpec{Fieldname: "nickname", Type: FieldTypeSmallText})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "tabCustomer" ADD COLUMN "nickname" varchar(140)`, stmt.SQL)
	assert.Equal(t, StatementAddColumn, stmt.Type)
	assert.Equal(t, "nickname", stmt.Column)

	// Engine yang dimodelkan tidak bisa ADD COLUMN UNIQUE langsung.
	_, err = g.GenerateAddColumnSQL("Customer", FieldSpec{Fieldname: "email", Type: FieldTypeSmallText, Unique: true})
	assert.Error(t, err)
}

func TestGenerateMigrationSQLNewTable(t *testing.T) {
	g := newTestGenerator(t)

	email := FieldSpec{Fieldname: "email", Type: FieldTypeSmallText}
	idx := IndexSpec{Name: "idx_customer_email", Columns: []string{"email"}}
	diff := &SchemaDiff{
		DocType:      "Customer",
		Table:        "tabCustomer",
		AddedColumns: []ColumnChange{{Fieldname: "email", Field: &email}},
		AddedIndexes: []IndexChange{{Name: idx.Name, Spec: &idx}},
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)
	require.Len(t, result.Forward, 2)
	assert.Equal(t, StatementCreateTable, result.Forward[0].Type)
	assert.Equal(t, StatementCreateIndex, result.Forward[1].Type)
	assert.False(t, result.Destructive)

	// Rollback tabel baru cukup drop; indeks mati bersama tabelnya.
	require.Len(t, result.Rollback, 1)
	assert.Equal(t, StatementDropTable, result.Rollback[0].Type)
	assert.Contains(t, result.Rollback[0].SQL, `DROP TABLE "tabCustomer"`)
}

func TestGenerateMigrationSQLPlainAdds(t *testing.T) {
	g := newTestGenerator(t)

	nickname := FieldSpec{Fieldname: "nickname", Type: FieldTypeSmallText}
	age := FieldSpec{Fieldname: "age", Type: FieldTypeInt}
	diff := &SchemaDiff{
		DocType: "Customer",
		Table:   "tabCustomer",
		AddedColumns: []ColumnChange{
			{Fieldname: "nickname", Field: &nickname},
			{Fieldname: "age", Field: &age},
		},
		PhysicalColumns: SystemColumns(),
		TargetColumns: append(SystemColumns(),
			g.ColumnForField(nickname), g.ColumnForField(age)),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)
	require.Len(t, result.Forward, 2)
	for _, stmt := range result.Forward {
		assert.Equal(t, StatementAddColumn, stmt.Type)
		assert.Contains(t, stmt.SQL, "ADD COLUMN")
	}
	assert.False(t, result.Destructive)

	// Rollback pada engine tanpa native DROP COLUMN: satu rebuild balik.
	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable, StatementRenameTable,
	}, statementTypes(result.Rollback))
}

func TestGenerateMigrationSQLRemovedColumn(t *testing.T) {
	g := newTestGenerator(t)

	obsolete := ColumnDefinition{Name: "obsolete", Type: "varchar", Length: nullInt(140)}
	diff := &SchemaDiff{
		DocType:         "Customer",
		Table:           "tabCustomer",
		RemovedColumns:  []ColumnChange{{Fieldname: "obsolete", Column: &obsolete}},
		PhysicalColumns: append(SystemColumns(), obsolete),
		TargetColumns:   SystemColumns(),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)

	assert.True(t, result.Destructive)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "Removing column 'obsolete'")
	assert.Contains(t, result.Warnings[0], "data stored in this column will be lost")

	// Tanpa native DROP COLUMN: resep rebuild penuh.
	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable, StatementRenameTable,
	}, statementTypes(result.Forward))

	copyStmt := result.Forward[1]
	assert.NotContains(t, copyStmt.SQL, "obsolete", "dropped column must not be copied")
	assert.Contains(t, result.Forward[0].SQL, "tabCustomer__rebuild")
}

func TestGenerateMigrationSQLRemovedColumnWithNativeDrop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := DefaultGeneratorConfig()
	cfg.Capabilities.SupportsDropColumn = true
	g := NewSQLGenerator(cfg, logger)

	obsolete := ColumnDefinition{Name: "obsolete", Type: "varchar", Length: nullInt(140)}
	diff := &SchemaDiff{
		DocType:         "Customer",
		Table:           "tabCustomer",
		RemovedColumns:  []ColumnChange{{Fieldname: "obsolete", Column: &obsolete}},
		PhysicalColumns: append(SystemColumns(), obsolete),
		TargetColumns:   SystemColumns(),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)
	require.Len(t, result.Forward, 1)
	assert.Equal(t, StatementDropColumn, result.Forward[0].Type)
	assert.Equal(t, `ALTER TABLE "tabCustomer" DROP COLUMN "obsolete"`, result.Forward[0].SQL)

	// Inversi drop: ADD COLUMN dengan definisi fisik lama.
	require.Len(t, result.Rollback, 1)
	assert.Equal(t, StatementAddColumn, result.Rollback[0].Type)
	assert.Contains(t, result.Rollback[0].SQL, `ADD COLUMN "obsolete" varchar(140)`)
}

func TestGenerateMigrationSQLTypeChange(t *testing.T) {
	g := newTestGenerator(t)

	field := FieldSpec{Fieldname: "age", Type: FieldTypeSmallText, Length: 10}
	expected := g.ColumnForField(field)
	actual := ColumnDefinition{Name: "age", Type: "integer"}
	diff := &SchemaDiff{
		DocType: "Customer",
		Table:   "tabCustomer",
		ModifiedColumns: []FieldChange{{
			Fieldname:             "age",
			Changes:               map[string]AttrChange{"type": {From: "integer", To: "varchar"}},
			RequiresDataMigration: true,
			Destructive:           true,
			Field:                 &field,
			Column:                &actual,
		}},
		PhysicalColumns: append(SystemColumns(), actual),
		TargetColumns:   append(SystemColumns(), expected),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "Data conversion required for type change on column 'age'")
	assert.True(t, result.Destructive)

	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable, StatementRenameTable,
	}, statementTypes(result.Forward))

	copyStmt := result.Forward[1]
	assert.Contains(t, copyStmt.SQL, `CAST("age" AS varchar(10))`)

	// Rollback: rebuild balik ke snapshot fisik, CAST ke tipe lama.
	rollbackTypes := statementTypes(result.Rollback)
	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable, StatementRenameTable,
	}, rollbackTypes)
	assert.Contains(t, result.Rollback[1].SQL, `CAST("age" AS integer)`)
}

func TestGenerateMigrationSQLUniqueAddGoesThroughRebuild(t *testing.T) {
	g := newTestGenerator(t)

	email := FieldSpec{Fieldname: "email", Type: FieldTypeSmallText, Unique: true}
	diff := &SchemaDiff{
		DocType:         "Customer",
		Table:           "tabCustomer",
		AddedColumns:    []ColumnChange{{Fieldname: "email", Field: &email}},
		PhysicalColumns: SystemColumns(),
		TargetColumns:   append(SystemColumns(), g.ColumnForField(email)),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)

	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable, StatementRenameTable,
	}, statementTypes(result.Forward))

	// Kolom unique baru tidak ada di tabel sumber; diisi NULL saat copy.
	copyStmt := result.Forward[1]
	assert.Contains(t, copyStmt.SQL, "NULL")
	assert.Contains(t, result.Forward[0].SQL, `"email" varchar(140) UNIQUE`)
}

func TestGenerateMigrationSQLRenamedColumn(t *testing.T) {
	g := newTestGenerator(t)

	fullName := FieldSpec{Fieldname: "full_name", Type: FieldTypeSmallText}
	old := ColumnDefinition{Name: "customer_name", Type: "varchar", Length: nullInt(140)}
	diff := &SchemaDiff{
		DocType:         "Customer",
		Table:           "tabCustomer",
		RenamedColumns:  []ColumnRename{{From: "customer_name", To: "full_name", Field: &fullName}},
		PhysicalColumns: append(SystemColumns(), old),
		TargetColumns:   append(SystemColumns(), g.ColumnForField(fullName)),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)

	require.Len(t, result.Forward, 4)
	copyStmt := result.Forward[1]
	assert.Contains(t, copyStmt.SQL, `"customer_name"`, "data must be copied from the old column name")
	assert.Contains(t, result.Forward[0].SQL, `"full_name"`)

	// Rollback menyalin balik dari nama baru ke nama lama.
	rollbackCopy := result.Rollback[1]
	assert.Contains(t, rollbackCopy.SQL, `"full_name"`)
	assert.Contains(t, result.Rollback[0].SQL, `"customer_name"`)
}

func TestGenerateMigrationSQLRebuildCreatesAddedIndexOnce(t *testing.T) {
	g := newTestGenerator(t)

	field := FieldSpec{Fieldname: "age", Type: FieldTypeSmallText, Length: 10}
	actual := ColumnDefinition{Name: "age", Type: "integer"}
	spec := IndexSpec{Name: "idx_customer_age", Columns: []string{"age"}}
	diff := &SchemaDiff{
		DocType: "Customer",
		Table:   "tabCustomer",
		ModifiedColumns: []FieldChange{{
			Fieldname:   "age",
			Changes:     map[string]AttrChange{"type": {From: "integer", To: "varchar"}},
			Destructive: true,
			Field:       &field,
			Column:      &actual,
		}},
		AddedIndexes:    []IndexChange{{Name: spec.Name, Spec: &spec}},
		PhysicalColumns: append(SystemColumns(), actual),
		TargetColumns:   append(SystemColumns(), g.ColumnForField(field)),
		TargetIndexes:   []IndexSpec{spec},
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)

	// Resep rebuild sudah membuat ulang seluruh indeks target, termasuk yang
	// baru; tidak boleh ada CREATE INDEX kedua setelah rebuild.
	assert.Equal(t, []StatementType{
		StatementCreateTable, StatementCopyData, StatementDropTable,
		StatementRenameTable, StatementCreateIndex,
	}, statementTypes(result.Forward))

	created := 0
	for _, stmt := range result.Forward {
		if strings.Contains(stmt.SQL, `"idx_customer_age"`) {
			created++
		}
	}
	assert.Equal(t, 1, created, "added index must be created exactly once")
}

func TestGenerateMigrationSQLIndexChanges(t *testing.T) {
	g := newTestGenerator(t)

	spec := IndexSpec{Columns: []string{"email"}, Unique: true}
	stale := IndexDefinition{Name: "idx_old", Columns: []string{"status"}}
	diff := &SchemaDiff{
		DocType:         "Customer",
		Table:           "tabCustomer",
		AddedIndexes:    []IndexChange{{Spec: &spec}},
		RemovedIndexes:  []IndexChange{{Name: "idx_old", Index: &stale}},
		PhysicalColumns: SystemColumns(),
		TargetColumns:   SystemColumns(),
	}

	result, err := g.GenerateMigrationSQL(diff)
	require.NoError(t, err)
	require.Len(t, result.Forward, 2)

	assert.Equal(t, StatementCreateIndex, result.Forward[0].Type)
	assert.Contains(t, result.Forward[0].SQL, `CREATE UNIQUE INDEX "uk_customer_email"`)
	assert.Equal(t, StatementDropIndex, result.Forward[1].Type)
	assert.Equal(t, `DROP INDEX "idx_old"`, result.Forward[1].SQL)

	// Inversi: drop indeks baru, buat ulang indeks lama, urutan terbalik.
	require.Len(t, result.Rollback, 2)
	assert.Equal(t, StatementCreateIndex, result.Rollback[0].Type)
	assert.Contains(t, result.Rollback[0].SQL, `"idx_old"`)
	assert.Equal(t, StatementDropIndex, result.Rollback[1].Type)
	assert.Contains(t, result.Rollback[1].SQL, `"uk_customer_email"`)
}

func TestGenerateDropColumnSQLRecipe(t *testing.T) {
	g := newTestGenerator(t)

	current := []ColumnDefinition{
		{Name: "name", Type: "varchar", Length: nullInt(140), NotNull: true, PrimaryKey: true},
		{Name: "email", Type: "varchar", Length: nullInt(140)},
		{Name: "obsolete", Type: "text"},
	}
	indexes := []IndexSpec{
		{Name: "idx_email", Columns: []string{"email"}},
		{Name: "idx_obsolete", Columns: []string{"obsolete"}},
	}

	statements, err := g.GenerateDropColumnSQL("tabCustomer", "obsolete", current, indexes)
	require.NoError(t, err)

	// create, copy, drop, rename + hanya indeks yang tidak menyentuh kolom.
	require.Len(t, statements, 5)
	assert.Equal(t, StatementCreateIndex, statements[4].Type)
	assert.Contains(t, statements[4].SQL, `"idx_email"`)
	assert.True(t, statements[2].Destructive)

	_, err = g.GenerateDropColumnSQL("tabCustomer", "missing", current, nil)
	assert.Error(t, err)
}

func TestGenerateModifyColumnSQLRecipe(t *testing.T) {
	g := newTestGenerator(t)

	current := []ColumnDefinition{
		{Name: "name", Type: "varchar", Length: nullInt(140), NotNull: true, PrimaryKey: true},
		{Name: "age", Type: "integer"},
	}
	target := ColumnDefinition{Name: "age", Type: "varchar", Length: nullInt(10)}

	statements, err := g.GenerateModifyColumnSQL("tabCustomer", target, current, nil)
	require.NoError(t, err)
	require.Len(t, statements, 4)
	assert.Contains(t, statements[1].SQL, `CAST("age" AS varchar(10))`)
	assert.True(t, statements[2].Destructive, "type conversion can lose data")
}

func TestCoerceExpr(t *testing.T) {
	g := newTestGenerator(t)

	t.Run("same type copies verbatim", func(t *testing.T) {
		from := ColumnDefinition{Name: "email", Type: "varchar", Length: nullInt(140)}
		assert.Equal(t, `"email"`, g.coerceExpr(from, from))
	})

	t.Run("type change adds CAST", func(t *testing.T) {
		from := ColumnDefinition{Name: "age", Type: "integer"}
		to := ColumnDefinition{Name: "age", Type: "varchar", Length: nullInt(10)}
		assert.Equal(t, `CAST("age" AS varchar(10))`, g.coerceExpr(from, to))
	})

	t.Run("NOT NULL promotion with default adds COALESCE", func(t *testing.T) {
		from := ColumnDefinition{Name: "status", Type: "varchar", Length: nullInt(140)}
		to := ColumnDefinition{Name: "status", Type: "varchar", Length: nullInt(140), NotNull: true, Default: nullStr("open")}
		assert.Equal(t, `COALESCE("status", 'open')`, g.coerceExpr(from, to))
	})
}

func TestEstimateTime(t *testing.T) {
	g := newTestGenerator(t)
	statements := []Statement{
		{Type: StatementCreateTable},
		{Type: StatementCopyData},
		{Type: StatementCreateIndex},
	}
	est := g.estimateTime(statements)
	assert.Greater(t, est.Milliseconds(), int64(0))
}

func TestFormatDefaultValue(t *testing.T) {
	g := newTestGenerator(t)
	assert.Equal(t, "0", g.formatDefaultValue("0", "integer"))
	assert.Equal(t, "'open'", g.formatDefaultValue("open", "varchar"))
	assert.Equal(t, "'O''Brien'", g.formatDefaultValue("O'Brien", "varchar"))
}

func TestQuoteIdentifierEmbedding(t *testing.T) {
	g := newTestGenerator(t)
	stmt := g.GenerateCreateIndexSQL("Customer", IndexSpec{Columns: []string{"email"}})
	assert.True(t, strings.Contains(stmt.SQL, `"idx_customer_email"`))
	assert.Equal(t, "idx_customer_email", stmt.Index.Name)
}
