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
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"github.com/x-stp/topdomains/internal/client"
	"github.com/x-stp/topdomains/internal/core"
	"github.com/x-stp/topdomains/internal/metrics"
	"github.com/x-stp/topdomains/internal/output"
)

// zipMagic is the local file header signature every zip archive starts with.
var zipMagic = []byte("PK\x03\x04")

// ErrNoCSVEntry is returned when a zipped list holds no .csv file.
var ErrNoCSVEntry = errors.New("archive has no .csv entry")

// FetcherOptions configures a Fetcher. Zero values fall back to the package
// defaults, except Column, which is used as given.
type FetcherOptions struct {
	// Delimiter and Column describe the list layout the download is
	// validated against.
	Delimiter rune
	Column    int
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// RetryInterval is the minimum spacing between attempts. A negative
	// value disables pacing.
	RetryInterval time.Duration
	// MaxBytes caps the response body and the unpacked CSV.
	MaxBytes int64
	// Client defaults to client.GetHTTPClient().
	Client *http.Client
}

// Fetcher downloads ranked lists and stores them as plain CSV.
type Fetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	maxBytes   int64
	delimiter  rune
	column     int
	logger     *zap.Logger
}

// FetchResult describes a stored list.
type FetchResult struct {
	URL      string
	Path     string
	Entry    string // Zip entry name; empty for a plain CSV body.
	Rows     int
	Bytes    int64
	Digest   uint64
	Attempts int
}

// NewFetcher creates a Fetcher. A nil logger is replaced with a no-op logger.
func NewFetcher(opts *FetcherOptions, logger *zap.Logger) *Fetcher {
	if opts == nil {
		opts = &FetcherOptions{Column: core.DomainColumn}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		client:     opts.Client,
		maxRetries: opts.MaxRetries,
		maxBytes:   opts.MaxBytes,
		delimiter:  opts.Delimiter,
		column:     opts.Column,
		logger:     logger,
	}
	if f.client == nil {
		f.client = client.GetHTTPClient()
	}
	if f.maxRetries <= 0 {
		f.maxRetries = core.MaxNetworkRetries
	}
	if f.maxBytes <= 0 {
		f.maxBytes = core.MaxListBytes
	}
	if f.delimiter == 0 {
		f.delimiter = core.DefaultDelimiter
	}
	switch {
	case opts.RetryInterval < 0:
		f.limiter = rate.NewLimiter(rate.Inf, 1)
	case opts.RetryInterval == 0:
		f.limiter = rate.NewLimiter(rate.Every(core.RetryBaseDelay), 1)
	default:
		f.limiter = rate.NewLimiter(rate.Every(opts.RetryInterval), 1)
	}
	return f
}

// Fetch downloads listURL and atomically replaces dest with the CSV it
// contains. Zipped bodies are detected by signature and their first .csv
// entry is stored. The CSV must parse and every row must carry a domain
// column, so a broken download never replaces a good list.
func (f *Fetcher) Fetch(ctx context.Context, listURL, dest string) (*FetchResult, error) {
	m := metrics.GetMetrics()
	defer metrics.MeasureDuration(m.FetchDuration)()

	body, attempts, err := f.download(ctx, listURL)
	if err != nil {
		return nil, err
	}

	data, entry, err := f.unpack(body)
	if err != nil {
		return nil, core.NewError("toplist.fetch", core.KindIO, listURL, err)
	}

	rows, err := countRows(data, f.delimiter, f.column, listURL)
	if err != nil {
		return nil, err
	}

	out, err := output.Create(dest, nil)
	if err != nil {
		return nil, core.NewError("toplist.fetch", core.KindIO, dest, err)
	}
	if _, err := out.Write(data); err != nil {
		out.Abort()
		return nil, core.NewError("toplist.fetch", core.KindIO, dest, err)
	}
	if err := out.Commit(); err != nil {
		return nil, core.NewError("toplist.fetch", core.KindIO, dest, err)
	}

	res := &FetchResult{
		URL:      listURL,
		Path:     dest,
		Entry:    entry,
		Rows:     rows,
		Bytes:    int64(len(data)),
		Digest:   out.Digest(),
		Attempts: attempts,
	}
	m.RecordFetchBytes(res.Bytes)
	f.logger.Info("List stored",
		zap.String("url", listURL),
		zap.String("path", dest),
		zap.String("entry", entry),
		zap.Int("rows", rows),
		zap.Int64("bytes", res.Bytes),
		zap.Int("attempts", attempts))
	return res, nil
}

// download retries retryable failures up to maxRetries times, paced by the
// limiter. It returns the body and the number of attempts made.
func (f *Fetcher) download(ctx context.Context, listURL string) ([]byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries+1; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return nil, attempt - 1, lastErr
			}
			return nil, attempt - 1, core.NewError("toplist.fetch", core.KindNetwork, listURL, err)
		}

		body, err := f.attempt(ctx, listURL, attempt > 1)
		if err == nil {
			return body, attempt, nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			return nil, attempt, err
		}
		f.logger.Warn("List download failed, retrying",
			zap.String("url", listURL),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, f.maxRetries + 1, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, listURL string, retry bool) ([]byte, error) {
	m := metrics.GetMetrics()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, core.NewError("toplist.fetch", core.KindInvalidConfig, listURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		m.RecordFetchAttempt("error", retry)
		if ctx.Err() != nil {
			return nil, core.NewError("toplist.fetch", core.KindNetwork, listURL, err)
		}
		return nil, core.NewRetryableError("toplist.fetch", core.KindNetwork, listURL, err)
	}
	defer resp.Body.Close()
	m.RecordFetchAttempt(strconv.Itoa(resp.StatusCode), retry)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, core.NewRetryableError("toplist.fetch", core.KindNetwork, listURL,
			fmt.Errorf("unexpected status %s", resp.Status))
	default:
		return nil, core.NewError("toplist.fetch", core.KindNetwork, listURL,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, core.NewError("toplist.fetch", core.KindIO, listURL, err)
		}
		if ctx.Err() != nil {
			return nil, core.NewError("toplist.fetch", core.KindNetwork, listURL, err)
		}
		return nil, core.NewRetryableError("toplist.fetch", core.KindNetwork, listURL, err)
	}
	return body, nil
}

var errTooLarge = errors.New("list exceeds size limit")

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", errTooLarge, limit)
	}
	return b, nil
}

// unpack returns body unchanged unless it is a zip archive, in which case
// the first .csv entry is extracted.
func (f *Fetcher) unpack(body []byte) ([]byte, string, error) {
	if !bytes.HasPrefix(body, zipMagic) {
		return body, "", nil
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, "", fmt.Errorf("open zip: %w", err)
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(zf.Name), ".csv") {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", zf.Name, err)
		}
		data, err := readLimited(rc, f.maxBytes)
		rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", zf.Name, err)
		}
		f.logger.Debug("Unpacked list", zap.String("entry", zf.Name), zap.Int("bytes", len(data)))
		return data, zf.Name, nil
	}
	return nil, "", ErrNoCSVEntry
}

// countRows checks that data is a usable list and returns its row count.
func countRows(data []byte, delim rune, column int, source string) (int, error) {
	n := 0
	for row, err := range core.ReadRows(bytes.NewReader(data), delim, source) {
		if err != nil {
			return 0, err
		}
		if _, ok := row.Field(column); !ok {
			return 0, &core.ExportError{
				Op:   "toplist.fetch",
				Kind: core.KindMalformedRow,
				Path: source,
				Line: row.Line,
				Err:  core.ErrShortRow,
			}
		}
		n++
	}
	return n, nil
}
