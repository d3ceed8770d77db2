package toplist

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
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/x-stp/topdomains/internal/core"
	"github.com/x-stp/topdomains/internal/metrics"
)

// Index is a membership set over a top-domain list. Domains are stored as
// xxh3-64 hashes of their normalized form, which keeps a million entries at
// a few tens of megabytes. Not safe for concurrent Add; concurrent Contains
// is fine once loading is done.
type Index struct {
	set map[uint64]struct{}
}

// NewIndex builds an index from the given domains.
func NewIndex(domains ...string) *Index {
	ix := &Index{set: make(map[uint64]struct{}, len(domains))}
	for _, d := range domains {
		ix.Add(d)
	}
	return ix
}

// Add inserts a domain and reports whether it was new. Domains that
// normalize to "" are ignored.
func (ix *Index) Add(domain string) bool {
	d := NormalizeDomain(domain)
	if d == "" {
		return false
	}
	h := xxh3.HashString(d)
	if _, ok := ix.set[h]; ok {
		return false
	}
	ix.set[h] = struct{}{}
	return true
}

// Contains reports whether domain is in the list.
func (ix *Index) Contains(domain string) bool {
	d := NormalizeDomain(domain)
	if d == "" {
		return false
	}
	_, ok := ix.set[xxh3.HashString(d)]
	return ok
}

// Len returns the number of distinct domains.
func (ix *Index) Len() int { return len(ix.set) }

// LoadIndex reads the domain column of a ranked CSV into an Index. Errors are
// *core.ExportError values with the same kinds an export reports for the
// same input.
func LoadIndex(ctx context.Context, path string, delim rune, column int, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := core.ValidateDelimiter(delim); err != nil {
		return nil, core.NewError("toplist.load_index", core.KindInvalidConfig, path, err)
	}
	if column < 0 {
		return nil, core.NewError("toplist.load_index", core.KindInvalidConfig, path, fmt.Errorf("column %d is negative", column))
	}

	f, err := core.OpenInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ix := &Index{set: make(map[uint64]struct{}, 1<<16)}
	var n int64
	for row, err := range core.ReadRows(f, delim, path) {
		if err != nil {
			return nil, err
		}
		n++
		if n%core.CancelCheckInterval == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return nil, core.NewError("toplist.load_index", core.KindIO, path, cerr)
			}
		}
		value, ok := row.Field(column)
		if !ok {
			return nil, &core.ExportError{
				Op:   "toplist.load_index",
				Kind: core.KindMalformedRow,
				Path: path,
				Line: row.Line,
				Err:  fmt.Errorf("%w: got %d, need more than %d", core.ErrShortRow, len(row.Fields), column),
			}
		}
		ix.Add(value)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.NewError("toplist.load_index", core.KindIO, path, err)
	}

	metrics.GetMetrics().RecordIndexSize(ix.Len())
	logger.Debug("Index loaded", zap.String("path", path), zap.Int64("rows", n), zap.Int("domains", ix.Len()))
	return ix, nil
}
