/*
Package core provides the central logic for topdomains: reading the ranked
domain CSV, turning the domain column into a JavaScript fragment, and the
error taxonomy shared by every component that touches the list.
*/
package core

/*
topdomains — fast tool in Go for exporting and checking top-domain lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
)

// ErrorKind is a coarse classification of a failure. Callers branch on the
// kind rather than on the message or the wrapped error.
type ErrorKind string

const (
	// KindFileNotFound means the input path does not exist.
	KindFileNotFound ErrorKind = "file_not_found"
	// KindMalformedRow means a row had too few fields or broken quoting.
	KindMalformedRow ErrorKind = "malformed_row"
	// KindIO covers every other read/write/create failure.
	KindIO ErrorKind = "io_error"
	// KindEncoding means a field was not valid UTF-8.
	KindEncoding ErrorKind = "encoding_error"
	// KindNetwork is used by the list fetcher.
	KindNetwork ErrorKind = "network"
	// KindInvalidConfig is used by config loading and validation.
	KindInvalidConfig ErrorKind = "invalid_config"
)

// Sentinel causes wrapped inside an ExportError.
var (
	// ErrShortRow is the cause of a malformed_row error for a row that does
	// not reach the configured column.
	ErrShortRow = errors.New("row has too few fields")
	// ErrUnterminatedQuote is the cause of a malformed_row error for a
	// quoted field that is still open at end of input.
	ErrUnterminatedQuote = errors.New("quoted field is not terminated")
	// ErrInvalidUTF8 is the cause of an encoding_error.
	ErrInvalidUTF8 = errors.New("field is not valid UTF-8")
)

// ExportError carries the operation, kind and location of a failure.
// Line is the 1-based input line the failing record started on, or 0 when
// the error is not tied to a row.
type ExportError struct {
	Op        string
	Kind      ErrorKind
	Path      string
	Line      int
	Err       error
	retryable bool
}

// NewError creates an ExportError. The retryable flag is only ever set by
// NewRetryableError.
func NewError(op string, kind ErrorKind, path string, err error) error {
	return &ExportError{Op: op, Kind: kind, Path: path, Err: err}
}

// NewRetryableError creates an ExportError whose condition may clear on a
// later attempt (a 503 from the list host, a reset connection).
func NewRetryableError(op string, kind ErrorKind, path string, err error) error {
	return &ExportError{Op: op, Kind: kind, Path: path, Err: err, retryable: true}
}

// newRowError ties an error to an input line.
func newRowError(op string, kind ErrorKind, path string, line int, err error) error {
	return &ExportError{Op: op, Kind: kind, Path: path, Line: line, Err: err}
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s", e.Path)
		if e.Line > 0 {
			base += fmt.Sprintf(", line=%d", e.Line)
		}
		base += ")"
	} else if e.Line > 0 {
		base += fmt.Sprintf(" (line=%d)", e.Line)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *ExportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether this error was created as retryable.
func (e *ExportError) IsRetryable() bool {
	return e != nil && e.retryable
}

// IsKind reports whether any ExportError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first ExportError in err's chain, or ""
// for nil and foreign errors.
func KindOf(err error) ErrorKind {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRetryable is a helper that checks err's chain for a retryable
// ExportError. Unknown error types are treated as not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	return false
}
