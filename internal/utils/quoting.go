package utils

import "strings"

// QuoteIdentifier membungkus identifier dengan karakter quote yang
// dikonfigurasi. Kemunculan karakter quote di dalam nama di-escape dengan
// menggandakannya.
func QuoteIdentifier(name, quoteChar string) string {
	if quoteChar == "" {
		quoteChar = `"`
	}
	escaped := strings.ReplaceAll(name, quoteChar, quoteChar+quoteChar)
	return quoteChar + escaped + quoteChar
}

// UnquoteIdentifier menghapus quote terluar dan meng-unescape karakter quote
// di dalam nama. Input yang tidak ter-quote dikembalikan apa adanya.
func UnquoteIdentifier(quotedName, quoteChar string) string {
	if quoteChar == "" {
		quoteChar = `"`
	}
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}
	if !strings.HasPrefix(name, quoteChar) || !strings.HasSuffix(name, quoteChar) {
		return name
	}
	inner := name[len(quoteChar) : len(name)-len(quoteChar)]
	return strings.ReplaceAll(inner, quoteChar+quoteChar, quoteChar)
}

// QuoteStringLiteral membungkus nilai sebagai string literal SQL dengan
// single quote, meng-escape single quote di dalamnya.
func QuoteStringLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
