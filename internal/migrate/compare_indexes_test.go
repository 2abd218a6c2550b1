// internal/migrate/compare_indexes_test.go
package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGenerateIndexName(t *testing.T) {
	testCases := []struct {
		name    string
		docType string
		columns []string
		unique  bool
		want    string
	}{
		{"Non-unique composite", "TestDocType", []string{"name", "email"}, false, "idx_testdoctype_name_email"},
		{"Unique single column", "TestDocType", []string{"email"}, true, "uk_testdoctype_email"},
		{"Special characters replaced", "Sales Order", []string{"po-number"}, false, "idx_sales_order_po_number"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenerateIndexName(tc.docType, tc.columns, tc.unique))
		})
	}

	t.Run("Long names are capped at 64 with prefix intact", func(t *testing.T) {
		long := strings.Repeat("verylongcolumnname", 5)
		name := GenerateIndexName("SomeDocType", []string{long, long}, true)
		assert.LessOrEqual(t, len(name), 64)
		assert.True(t, strings.HasPrefix(name, "uk_"))
	})
}

func TestCompareIndexToIndex(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	c := NewIndexComparator(CompareOptions{}, logger)

	spec := IndexSpec{Columns: []string{"name", "email"}, Unique: true}

	testCases := []struct {
		name     string
		physical IndexDefinition
		want     bool
	}{
		{"Structural match", IndexDefinition{Name: "whatever", Columns: []string{"name", "email"}, Unique: true}, true},
		{"Case-insensitive column match", IndexDefinition{Name: "x", Columns: []string{"NAME", "Email"}, Unique: true}, true},
		{"Uniqueness mismatch", IndexDefinition{Columns: []string{"name", "email"}, Unique: false}, false},
		{"Column order matters", IndexDefinition{Columns: []string{"email", "name"}, Unique: true}, false},
		{"Column count mismatch", IndexDefinition{Columns: []string{"name"}, Unique: true}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.CompareIndexToIndex(spec, tc.physical))
		})
	}

	t.Run("Case-sensitive comparison rejects different case", func(t *testing.T) {
		strict := NewIndexComparator(CompareOptions{CaseSensitive: true}, logger)
		assert.False(t, strict.CompareIndexToIndex(spec, IndexDefinition{Columns: []string{"NAME", "email"}, Unique: true}))
	})
}

func TestFindMatchingIndex(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	c := NewIndexComparator(CompareOptions{}, logger)

	physical := []IndexDefinition{
		{Name: "idx_a", Columns: []string{"status"}},
		{Name: "uk_b", Columns: []string{"email"}, Unique: true},
	}

	found := c.FindMatchingIndex(IndexSpec{Columns: []string{"email"}, Unique: true}, physical)
	assert.NotNil(t, found)
	assert.Equal(t, "uk_b", found.Name)

	assert.Nil(t, c.FindMatchingIndex(IndexSpec{Columns: []string{"owner"}}, physical))
}

func TestIsDestructiveIndexChange(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	c := NewIndexComparator(CompareOptions{}, logger)

	from := IndexDefinition{Columns: []string{"email"}, Unique: false}

	assert.True(t, c.IsDestructiveIndexChange(from, IndexSpec{Columns: []string{"email"}, Unique: true}),
		"adding uniqueness can reject existing data")
	assert.True(t, c.IsDestructiveIndexChange(from, IndexSpec{Columns: []string{"owner"}}),
		"changing the column set is destructive")
	assert.False(t, c.IsDestructiveIndexChange(
		IndexDefinition{Columns: []string{"email"}, Unique: true},
		IndexSpec{Columns: []string{"email"}, Unique: false}),
		"dropping uniqueness is not destructive")
}
