package migrate

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"go.uber.org/zap"
)

// FieldComparator membandingkan definisi kolom yang diharapkan (hasil mapping
// FieldSpec) dengan definisi kolom fisik. Murni struktural, tanpa I/O.
type FieldComparator struct {
	opts   CompareOptions
	logger *zap.Logger
}

func NewFieldComparator(opts CompareOptions, logger *zap.Logger) *FieldComparator {
	return &FieldComparator{
		opts:   opts,
		logger: logger.Named("field-comparator"),
	}
}

// Compare mengembalikan map atribut yang berubah -> {from, to}.
// Map kosong berarti kolom ekuivalen.
func (c *FieldComparator) Compare(expected, actual ColumnDefinition) map[string]AttrChange {
	changes := make(map[string]AttrChange)
	log := c.logger.With(zap.String("column", expected.Name))

	expType := normalizeTypeName(expected.Type)
	actType := normalizeTypeName(actual.Type)
	if expType != actType {
		log.Debug("Column type mismatch",
			zap.String("expected_type", expType), zap.String("actual_type", actType))
		changes["type"] = AttrChange{From: actual.Type, To: expected.Type}
	}

	if !c.opts.IgnoreLengthDifferences {
		expLen := expected.Length.Int64
		actLen := actual.Length.Int64
		if expected.Length.Valid != actual.Length.Valid || expLen != actLen {
			// Length hanya relevan kalau salah satu sisi memilikinya.
			if expected.Length.Valid || actual.Length.Valid {
				log.Debug("Column length mismatch",
					zap.Int64("expected_length", expLen), zap.Int64("actual_length", actLen))
				changes["length"] = AttrChange{
					From: formatNullInt(actual.Length),
					To:   formatNullInt(expected.Length),
				}
			}
		}
	}

	if expected.Precision.Valid || actual.Precision.Valid {
		if expected.Precision.Int64 != actual.Precision.Int64 {
			changes["precision"] = AttrChange{
				From: formatNullInt(actual.Precision),
				To:   formatNullInt(expected.Precision),
			}
		}
	}
	if expected.Scale.Valid || actual.Scale.Valid {
		if expected.Scale.Int64 != actual.Scale.Int64 {
			changes["scale"] = AttrChange{
				From: formatNullInt(actual.Scale),
				To:   formatNullInt(expected.Scale),
			}
		}
	}

	if expected.NotNull != actual.NotNull {
		log.Debug("Column nullability mismatch",
			zap.Bool("expected_not_null", expected.NotNull), zap.Bool("actual_not_null", actual.NotNull))
		changes["notnull"] = AttrChange{
			From: strconv.FormatBool(actual.NotNull),
			To:   strconv.FormatBool(expected.NotNull),
		}
	}

	if expected.Unique != actual.Unique {
		changes["unique"] = AttrChange{
			From: strconv.FormatBool(actual.Unique),
			To:   strconv.FormatBool(expected.Unique),
		}
	}

	if !c.opts.IgnoreDefaultValues {
		if !c.areDefaultsEquivalent(expected.Default.String, actual.Default.String, expType, log) {
			changes["default"] = AttrChange{
				From: formatNullStr(actual.Default),
				To:   formatNullStr(expected.Default),
			}
		}
	}

	return changes
}

// Classify membangun FieldChange lengkap (flag destruktif + kebutuhan
// migrasi data) dari hasil Compare.
func (c *FieldComparator) Classify(field *FieldSpec, expected, actual ColumnDefinition, changes map[string]AttrChange) FieldChange {
	fc := FieldChange{
		Fieldname: expected.Name,
		Changes:   changes,
		Field:     field,
		Column:    &actual,
	}

	if _, ok := changes["type"]; ok {
		fc.RequiresDataMigration = true
		fc.Destructive = true
	}
	if ch, ok := changes["length"]; ok {
		// Penyusutan panjang bisa memotong data.
		from, errFrom := strconv.ParseInt(ch.From, 10, 64)
		to, errTo := strconv.ParseInt(ch.To, 10, 64)
		if errFrom == nil && errTo == nil && to < from {
			fc.Destructive = true
		}
		fc.RequiresDataMigration = true
	}
	if ch, ok := changes["precision"]; ok {
		from, errFrom := strconv.ParseInt(ch.From, 10, 64)
		to, errTo := strconv.ParseInt(ch.To, 10, 64)
		if errFrom == nil && errTo == nil && to < from {
			fc.Destructive = true
		}
		fc.RequiresDataMigration = true
	}
	if ch, ok := changes["notnull"]; ok && ch.To == "true" {
		// NULL -> NOT NULL bisa gagal pada data existing; butuh rebuild + coercion.
		fc.RequiresDataMigration = true
	}
	if ch, ok := changes["unique"]; ok && ch.To == "true" {
		fc.RequiresDataMigration = true
	}

	return fc
}

// areDefaultsEquivalent membandingkan nilai default setelah normalisasi.
// Untuk tipe numerik, perbandingan dilakukan secara eksak via APD sehingga
// "10.000" dan "10" dianggap ekuivalen.
func (c *FieldComparator) areDefaultsEquivalent(expectedRaw, actualRaw, normType string, log *zap.Logger) bool {
	expNorm := normalizeDefaultValue(expectedRaw)
	actNorm := normalizeDefaultValue(actualRaw)

	if expNorm == actNorm {
		return true
	}
	if isDefaultNullOrFunction(expNorm) && isDefaultNullOrFunction(actNorm) {
		return expNorm == actNorm
	}

	if isNumericType(normType) {
		expAPD, _, expErr := apd.NewFromString(expNorm)
		actAPD, _, actErr := apd.NewFromString(actNorm)
		if expErr == nil && actErr == nil {
			if expAPD.Cmp(actAPD) == 0 {
				log.Debug("Numeric default values are equivalent via APD comparison.",
					zap.String("expected_apd", expAPD.String()), zap.String("actual_apd", actAPD.String()))
				return true
			}
			return false
		}
	}

	return false
}

// --- Normalisasi helper ---

// normalizeTypeName menurunkan sebuah nama tipe fisik ke bentuk kanonis
// tanpa modifier panjang/presisi, lowercase.
func normalizeTypeName(typ string) string {
	t := strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	switch t {
	case "integer", "int4", "int8", "bigint", "smallint", "tinyint", "mediumint":
		return "integer"
	case "character varying", "varchar", "nvarchar", "varchar2":
		return "varchar"
	case "double", "double precision", "real", "float", "float4", "float8":
		return "real"
	case "numeric", "decimal":
		return "decimal"
	case "boolean", "bool":
		return "integer" // Profil engine menyimpan boolean sebagai integer 0/1
	case "timestamp", "datetime2":
		return "datetime"
	}
	return t
}

func isNumericType(normType string) bool {
	switch normType {
	case "integer", "real", "decimal":
		return true
	}
	return false
}

// normalizeDefaultValue menormalisasi nilai default untuk perbandingan:
// strip quote terluar, lowercase fungsi/keyword umum, kanonisasi boolean.
func normalizeDefaultValue(def string) string {
	s := strings.TrimSpace(def)
	if s == "" {
		return ""
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			s = s[1 : len(s)-1]
		}
	}
	lower := strings.ToLower(strings.TrimSpace(s))

	switch lower {
	case "now()", "current_timestamp", "current_timestamp()":
		return "current_timestamp"
	case "current_date", "current_date()":
		return "current_date"
	case "true", "t", "yes", "on":
		return "1"
	case "false", "f", "no", "off":
		return "0"
	case "null":
		return "null"
	}
	return lower
}

// isDefaultNullOrFunction memeriksa apakah nilai default yang sudah
// dinormalisasi adalah NULL atau fungsi database.
func isDefaultNullOrFunction(normalized string) bool {
	if normalized == "" || normalized == "null" {
		return true
	}
	switch normalized {
	case "current_timestamp", "current_date", "current_time":
		return true
	}
	return false
}

func formatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatNullStr(v sql.NullString) string {
	if !v.Valid {
		return "NULL"
	}
	return v.String
}
