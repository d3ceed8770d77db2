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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/x-stp/topdomains/internal/metrics"
	"github.com/x-stp/topdomains/internal/output"
)

// DomainListExporter turns the domain column of a ranked CSV into a
// JavaScript fragment of the form 'a.com', 'b.com', ... in input order.
// Concurrency: a single synchronous pass. Stats are atomic so a progress
// display can read them from another goroutine while Export runs.
type DomainListExporter struct {
	config *ExportConfig
	stats  *ExportStats
	logger *zap.Logger
}

// ExportConfig holds the explicit parameters of an export.
type ExportConfig struct {
	InputPath  string
	OutputPath string
	Delimiter  rune
	// Column is the 0-based field written for each row.
	Column int
	// VarName, when set, wraps the fragment as
	// "export const <VarName> = [...];". Empty keeps the raw fragment.
	VarName string
	// LoadAll reads the whole input into memory before writing, instead of
	// streaming one row at a time. The output is identical.
	LoadAll        bool
	CompressOutput bool
	BufferSize     int
}

// DefaultExportConfig returns the default paths, delimiter and column.
func DefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		InputPath:  DefaultInputPath,
		OutputPath: DefaultOutputPath,
		Delimiter:  DefaultDelimiter,
		Column:     DomainColumn,
		BufferSize: DefaultDiskBufferSize,
	}
}

// ExportStats uses atomic counters so readers never block the export.
type ExportStats struct {
	RowsRead      atomic.Int64
	TokensWritten atomic.Int64
	BytesWritten  atomic.Int64 // Uncompressed fragment bytes.
	BytesOnDisk   atomic.Int64
	Digest        atomic.Uint64 // xxh3-64 of the uncompressed fragment.
	StartTime     atomic.Int64  // Unix nanoseconds when the last Export began.
	Duration      atomic.Int64  // Nanoseconds of the last Export call.
}

// Started returns when the last Export began, or the zero time before the
// first run.
func (s *ExportStats) Started() time.Time {
	ns := s.StartTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// reset clears every counter for a run beginning at start.
func (s *ExportStats) reset(start time.Time) {
	s.RowsRead.Store(0)
	s.TokensWritten.Store(0)
	s.BytesWritten.Store(0)
	s.BytesOnDisk.Store(0)
	s.Digest.Store(0)
	s.Duration.Store(0)
	s.StartTime.Store(start.UnixNano())
}

// NewDomainListExporter validates config and prepares an exporter. A nil
// logger is replaced with a no-op logger.
func NewDomainListExporter(config *ExportConfig, logger *zap.Logger) (*DomainListExporter, error) {
	if config == nil {
		config = DefaultExportConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InputPath == "" {
		return nil, NewError("core.new_exporter", KindInvalidConfig, "", errors.New("input path is empty"))
	}
	if config.OutputPath == "" {
		return nil, NewError("core.new_exporter", KindInvalidConfig, "", errors.New("output path is empty"))
	}
	if config.Column < 0 {
		return nil, NewError("core.new_exporter", KindInvalidConfig, "", fmt.Errorf("column %d is negative", config.Column))
	}
	if err := ValidateDelimiter(config.Delimiter); err != nil {
		return nil, NewError("core.new_exporter", KindInvalidConfig, "", err)
	}

	return &DomainListExporter{
		config: config,
		stats:  &ExportStats{},
		logger: logger,
	}, nil
}

// ValidateDelimiter applies the same rules encoding/csv does to Comma.
func ValidateDelimiter(r rune) error {
	switch {
	case r == 0:
		return errors.New("delimiter is empty")
	case r == '"' || r == '\r' || r == '\n':
		return fmt.Errorf("delimiter %q is not allowed", r)
	case r == 0xFFFD:
		return errors.New("delimiter is the Unicode replacement character")
	}
	return nil
}

// Export runs the transformation. On success the output path holds exactly
// the generated fragment. On any failure the output path is left as it was
// before the call and the returned error is an *ExportError.
func (e *DomainListExporter) Export(ctx context.Context) (err error) {
	m := metrics.GetMetrics()
	done := metrics.MeasureDuration(m.ExportDuration)
	start := time.Now()
	e.stats.reset(start)
	defer func() {
		e.stats.Duration.Store(int64(time.Since(start)))
		done()
		if err != nil {
			m.RecordExportError(string(KindOf(err)))
		}
	}()

	cfg := e.config
	e.logger.Info("Starting export",
		zap.String("input", cfg.InputPath),
		zap.String("output", cfg.OutputPath),
		zap.String("delimiter", string(cfg.Delimiter)),
		zap.Int("column", cfg.Column),
		zap.Bool("load_all", cfg.LoadAll),
		zap.Bool("compress", cfg.CompressOutput))

	in, err := OpenInput(cfg.InputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	adviseSequential(in, e.logger)

	var rows iter.Seq2[Row, error]
	if cfg.LoadAll {
		loaded, err := LoadRows(in, cfg.Delimiter, cfg.InputPath)
		if err != nil {
			return err
		}
		// Input is fully materialized; release it before output is opened.
		in.Close()
		e.logger.Debug("Input loaded", zap.Int("rows", len(loaded)))
		rows = rowsOf(loaded)
	} else {
		rows = ReadRows(in, cfg.Delimiter, cfg.InputPath)
	}

	out, err := output.Create(cfg.OutputPath, &output.Options{
		BufferSize: cfg.BufferSize,
		Compressed: cfg.CompressOutput,
	})
	if err != nil {
		return NewError("core.export", KindIO, cfg.OutputPath, err)
	}
	defer func() {
		if err != nil {
			if aerr := out.Abort(); aerr != nil {
				e.logger.Warn("Failed to discard partial output", zap.String("path", cfg.OutputPath), zap.Error(aerr))
			}
		}
	}()

	if err := e.writeFragment(ctx, rows, out); err != nil {
		return err
	}

	if err := out.Commit(); err != nil {
		return NewError("core.export", KindIO, cfg.OutputPath, err)
	}

	fm := out.GetMetrics()
	e.stats.BytesOnDisk.Store(fm.BytesOnDisk.Load())
	e.stats.Digest.Store(out.Digest())
	m.RecordOutput("export", fm.BytesOnDisk.Load())

	e.logger.Info("Export complete",
		zap.Int64("rows", e.stats.RowsRead.Load()),
		zap.Int64("tokens", e.stats.TokensWritten.Load()),
		zap.Int64("bytes", e.stats.BytesWritten.Load()),
		zap.String("digest", fmt.Sprintf("%016x", e.stats.Digest.Load())),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// writeFragment is the hot loop: one token per row, no per-row allocation
// beyond what the CSV reader does.
func (e *DomainListExporter) writeFragment(ctx context.Context, rows iter.Seq2[Row, error], out *output.File) error {
	cfg := e.config
	m := metrics.GetMetrics()

	if cfg.VarName != "" {
		if err := e.write(out, []byte(WrapperPrefix(cfg.VarName))); err != nil {
			return err
		}
	}

	buf := make([]byte, 0, 256)
	var n int64
	for row, err := range rows {
		if err != nil {
			return err
		}
		n++
		if n%CancelCheckInterval == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return NewError("core.export", KindIO, cfg.InputPath, cerr)
			}
		}
		e.stats.RowsRead.Add(1)
		m.RecordRow()

		value, ok := row.Field(cfg.Column)
		if !ok {
			return newRowError("core.export", KindMalformedRow, cfg.InputPath, row.Line,
				fmt.Errorf("%w: got %d, need more than %d", ErrShortRow, len(row.Fields), cfg.Column))
		}

		buf = AppendToken(buf[:0], value)
		if err := e.write(out, buf); err != nil {
			return err
		}
		e.stats.TokensWritten.Add(1)
		m.RecordToken()
	}

	if err := ctx.Err(); err != nil {
		return NewError("core.export", KindIO, cfg.InputPath, err)
	}

	if cfg.VarName != "" {
		if err := e.write(out, []byte(WrapperSuffix())); err != nil {
			return err
		}
	}
	return nil
}

func (e *DomainListExporter) write(out *output.File, p []byte) error {
	n, err := out.Write(p)
	e.stats.BytesWritten.Add(int64(n))
	if err != nil {
		return NewError("core.export", KindIO, e.config.OutputPath, err)
	}
	return nil
}

// OpenInput maps a missing file to file_not_found and everything else to
// io_error.
func OpenInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError("core.open_input", KindFileNotFound, path, err)
		}
		return nil, NewError("core.open_input", KindIO, path, err)
	}
	return f, nil
}

// GetStats returns the pointer
func (e *DomainListExporter) GetStats() *ExportStats { return e.stats }

// Config returns the configuration the exporter was built with.
func (e *DomainListExporter) Config() *ExportConfig { return e.config }
