/*
Package output writes generated files atomically: bytes go to a temp file
beside the destination, and only a successful Commit renames it into place.
A failed run therefore leaves either the previous file or nothing.
*/
package output

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
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 256 * 1024 // 256KB

	// FileMode is applied to the temp file before it is renamed.
	FileMode os.FileMode = 0o644
)

var (
	// ErrClosed is returned when writing to a committed or aborted file.
	ErrClosed = errors.New("output file closed")
)

// FileMetrics holds counters for one output file. BytesWritten counts
// uncompressed bytes handed to Write; BytesOnDisk is the final file size.
type FileMetrics struct {
	BytesWritten atomic.Int64
	WriteCount   atomic.Int64
	BytesOnDisk  atomic.Int64
	ErrorCount   atomic.Int64
	CommitTime   atomic.Int64 // Unix timestamp in nanoseconds
}

// Options configures a File.
type Options struct {
	BufferSize int
	Compressed bool
}

// DefaultOptions returns the default options for File
func DefaultOptions() *Options {
	return &Options{
		BufferSize: DefaultBufferSize,
		Compressed: false,
	}
}

// File is a buffered, optionally gzipped writer whose content only becomes
// visible at its final path on Commit.
//
// Writer chain: bufWriter -> (gzWriter) -> tmp file. The digest is fed
// before compression so it identifies the logical content.
type File struct {
	tmp       *os.File
	gzWriter  *gzip.Writer
	bufWriter *bufio.Writer
	digest    *xxh3.Hasher
	tmpPath   string
	finalPath string

	mu     sync.Mutex
	closed bool

	metrics FileMetrics
}

// Create opens a temp file in the directory of path, creating the
// directory if needed.
func Create(path string, options *Options) (*File, error) {
	if options == nil {
		options = DefaultOptions()
	}
	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	f := &File{
		tmp:       tmp,
		digest:    xxh3.New(),
		tmpPath:   tmp.Name(),
		finalPath: path,
	}

	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
		if err != nil {
			tmp.Close()
			os.Remove(f.tmpPath)
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		f.gzWriter = gzw
		f.bufWriter = bufio.NewWriterSize(gzw, bufferSize)
	} else {
		f.bufWriter = bufio.NewWriterSize(tmp, bufferSize)
	}

	return f, nil
}

// Write appends p to the file.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	n, err := f.bufWriter.Write(p)
	f.digest.Write(p[:n])
	f.metrics.BytesWritten.Add(int64(n))
	f.metrics.WriteCount.Add(1)
	if err != nil {
		f.metrics.ErrorCount.Add(1)
		return n, fmt.Errorf("failed to write to %s: %w", f.tmpPath, err)
	}
	return n, nil
}

// WriteString appends s to the file.
func (f *File) WriteString(s string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	n, err := f.bufWriter.WriteString(s)
	f.digest.WriteString(s[:n])
	f.metrics.BytesWritten.Add(int64(n))
	f.metrics.WriteCount.Add(1)
	if err != nil {
		f.metrics.ErrorCount.Add(1)
		return n, fmt.Errorf("failed to write to %s: %w", f.tmpPath, err)
	}
	return n, nil
}

// Commit flushes and syncs the temp file and renames it over the final
// path. On any failure the temp file is removed and the final path is left
// untouched. Calling Commit after Commit or Abort is a no-op.
func (f *File) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.finish(); err != nil {
		f.metrics.ErrorCount.Add(1)
		f.tmp.Close()
		os.Remove(f.tmpPath)
		return err
	}

	if err := os.Rename(f.tmpPath, f.finalPath); err != nil {
		f.metrics.ErrorCount.Add(1)
		os.Remove(f.tmpPath)
		return fmt.Errorf("failed to rename %s to %s: %w", f.tmpPath, f.finalPath, err)
	}
	f.metrics.CommitTime.Store(time.Now().UnixNano())
	return nil
}

// finish closes the writer chain in order: bufio -> gzip -> file.
func (f *File) finish() error {
	if err := f.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if f.gzWriter != nil {
		if err := f.gzWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	if err := f.tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", f.tmpPath, err)
	}
	if info, err := f.tmp.Stat(); err == nil {
		f.metrics.BytesOnDisk.Store(info.Size())
	}
	if err := f.tmp.Chmod(FileMode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", f.tmpPath, err)
	}
	if err := f.tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// Abort discards everything written so far.
func (f *File) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	f.tmp.Close()
	if err := os.Remove(f.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", f.tmpPath, err)
	}
	return nil
}

// Digest returns the xxh3-64 hash of the uncompressed bytes written so far.
func (f *File) Digest() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.digest.Sum64()
}

// Path returns the final destination path.
func (f *File) Path() string { return f.finalPath }

// GetMetrics returns the counters for this file.
func (f *File) GetMetrics() *FileMetrics { return &f.metrics }
