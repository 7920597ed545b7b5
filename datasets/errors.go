package datasets

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a dataset path or a required file inside a
// dataset directory does not exist.
type NotFoundError struct {
	Path string
	What string
}

func (e *NotFoundError) Error() string {
	if e.What == "" {
		return fmt.Sprintf("dataset path not found: %s", e.Path)
	}
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

// UnsupportedFormatError is returned for a file source that is not a .csv file.
type UnsupportedFormatError struct {
	Path string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported dataset format: %s (expected a directory or a .csv file)", e.Path)
}

// SchemaError is returned when a CSV header lacks the text or label column.
type SchemaError struct {
	Path   string
	Header []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("CSV file %s must contain %q and %q columns, found: [%s]",
		e.Path, ColumnText, ColumnLabel, strings.Join(e.Header, ", "))
}

// ParseError is returned when a label value is not a base-10 integer.
type ParseError struct {
	Path  string
	Line  int
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: invalid label %q: %v", e.Path, e.Line, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
