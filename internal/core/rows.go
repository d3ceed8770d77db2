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
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"
)

// newCSVReader configures encoding/csv for the list format: fixed
// delimiter, variable field counts, and lazy quotes so a bare " inside an
// unquoted field is kept as data. Rows shorter than the domain column are
// rejected by the caller, not by the reader.
func newCSVReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// rawRetain is how many raw bytes rawRecorder accumulates before it drops
// those of records already parsed.
const rawRetain = 64 << 10

// rawRecorder keeps the raw bytes read since the start of the current
// record.
type rawRecorder struct {
	r    io.Reader
	buf  []byte
	base int64 // Input offset of buf[0].
}

func (rec *rawRecorder) Read(p []byte) (int, error) {
	n, err := rec.r.Read(p)
	rec.buf = append(rec.buf, p[:n]...)
	return n, err
}

// discard drops the bytes before offset once enough have piled up.
func (rec *rawRecorder) discard(offset int64) {
	if len(rec.buf) < rawRetain {
		return
	}
	rec.buf = append(rec.buf[:0], rec.buf[offset-rec.base:]...)
	rec.base = offset
}

func (rec *rawRecorder) since(offset int64) []byte { return rec.buf[offset-rec.base:] }

// rowReader wraps csv.Reader to surface what lazy parsing hides: the blank
// lines it skips, and a quoted field still open at end of input.
type rowReader struct {
	cr   *csv.Reader
	raw  *rawRecorder
	path string
	// next is the line the following record must start on.
	next int
	// consumed is the input offset at the end of the previous record.
	consumed int64
	// last locates the final field of the previous record.
	last struct {
		start            int64
		line, fieldLine  int
		fieldCol, fields int
	}
}

func newRowReader(r io.Reader, delim rune, path string) *rowReader {
	raw := &rawRecorder{r: r}
	return &rowReader{cr: newCSVReader(raw, delim), raw: raw, path: path, next: 1}
}

func (rr *rowReader) blankLine(line int) error {
	return newRowError("core.read_rows", KindMalformedRow, rr.path, line,
		fmt.Errorf("%w: blank line", ErrShortRow))
}

// atEOF runs the end of input checks.
func (rr *rowReader) atEOF() error {
	// Only skipped blank lines can be consumed without a record.
	if rr.cr.InputOffset() > rr.consumed {
		return rr.blankLine(rr.next)
	}
	if rr.last.fields == 0 {
		return io.EOF
	}
	field := rawField(rr.raw.since(rr.last.start), rr.last.fieldLine-rr.last.line, rr.last.fieldCol)
	if unterminatedQuote(field) {
		return newRowError("core.read_rows", KindMalformedRow, rr.path, rr.last.line, ErrUnterminatedQuote)
	}
	return io.EOF
}

// rawField returns the tail of record from the field that starts on its
// lines-th following line at 1-based byte column col.
func rawField(record []byte, lines, col int) []byte {
	for ; lines > 0; lines-- {
		i := bytes.IndexByte(record, '\n')
		if i < 0 {
			return nil
		}
		record = record[i+1:]
	}
	if col-1 > len(record) {
		return nil
	}
	return record[col-1:]
}

// unterminatedQuote reports whether a raw final field opens a quote that
// never closes. A quote counts as closing when it is followed by a line end
// or the end of input; "" is an escaped quote and any other quote is data.
func unterminatedQuote(field []byte) bool {
	if len(field) == 0 || field[0] != '"' {
		return false
	}
	for i := 1; i < len(field); i++ {
		if field[i] != '"' {
			continue
		}
		if i+1 < len(field) && field[i+1] == '"' {
			i++
			continue
		}
		if i+1 == len(field) || field[i+1] == '\n' || field[i+1] == '\r' {
			return false
		}
	}
	return true
}

// ReadRows yields the rows of r one at a time. Memory stays bounded by the
// longest record. The sequence ends after the first error, which is always
// an *ExportError (malformed_row, encoding_error or io_error). path is only
// used for error context.
func ReadRows(r io.Reader, delim rune, path string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rr := newRowReader(r, delim, path)
		for {
			row, err := rr.read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// LoadRows materializes every row of r before returning.
func LoadRows(r io.Reader, delim rune, path string) ([]Row, error) {
	var rows []Row
	for row, err := range ReadRows(r, delim, path) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowsOf adapts an already loaded slice to the same sequence shape.
func rowsOf(rows []Row) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (rr *rowReader) read() (Row, error) {
	fields, err := rr.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, rr.atEOF()
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Row{}, newRowError("core.read_rows", KindMalformedRow, rr.path, pe.StartLine, err)
		}
		return Row{}, NewError("core.read_rows", KindIO, rr.path, err)
	}
	line, _ := rr.cr.FieldPos(0)
	if line > rr.next {
		return Row{}, rr.blankLine(rr.next)
	}
	last := len(fields) - 1
	fieldLine, fieldCol := rr.cr.FieldPos(last)
	rr.last.start = rr.consumed
	rr.last.line, rr.last.fieldLine, rr.last.fieldCol = line, fieldLine, fieldCol
	rr.last.fields = len(fields)
	rr.next = fieldLine + strings.Count(fields[last], "\n") + 1
	rr.consumed = rr.cr.InputOffset()
	rr.raw.discard(rr.last.start)

	for _, f := range fields {
		if !utf8.ValidString(f) {
			return Row{}, newRowError("core.read_rows", KindEncoding, rr.path, line, ErrInvalidUTF8)
		}
	}
	return Row{Line: line, Fields: fields}, nil
}
