package migrate

import (
	"errors"
	"fmt"
)

// TypeNotFoundError: DocType tidak terdaftar di SchemaSource. Fatal untuk
// perbandingan tipe tersebut.
type TypeNotFoundError struct {
	DocType string
}

func (e *TypeNotFoundError) Error() string {
	return fmt.Sprintf("doctype '%s' not found in schema source", e.DocType)
}

// TableNotFoundError: tabel fisik tidak ada. Non-fatal; perbandingan
// mendegradasi ke kasus "tabel baru" (semua field menjadi penambahan).
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table '%s' does not exist", e.Table)
}

// SchemaValidationError: input deklaratif malformed (daftar field nil,
// fieldname duplikat). Fatal, dideteksi sebelum I/O fisik apa pun.
type SchemaValidationError struct {
	DocType string
	Reason  string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid doctype definition '%s': %s", e.DocType, e.Reason)
}

// StatementError membungkus kegagalan eksekusi satu statement dengan indeks
// 1-based sesuai kontrak pesan "Statement N failed: <reason>".
type StatementError struct {
	Index int // 1-based
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("Statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// BackupError: kegagalan pembuatan backup. Fail-closed — tanpa backup,
// migrasi destruktif tidak boleh dimulai.
type BackupError struct {
	DocType string
	Err     error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup failed for doctype '%s': %v", e.DocType, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// IsTypeNotFound melaporkan apakah err (atau penyebabnya) adalah TypeNotFoundError.
func IsTypeNotFound(err error) bool {
	var t *TypeNotFoundError
	return errors.As(err, &t)
}

// IsTableNotFound melaporkan apakah err (atau penyebabnya) adalah TableNotFoundError.
func IsTableNotFound(err error) bool {
	var t *TableNotFoundError
	return errors.As(err, &t)
}
