package toplist

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"github.com/x-stp/topdomains/internal/core"
)

const sampleList = "1,google.com\n2,youtube.com\n3,facebook.com\n"

func zipped(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestFetcher(srv *httptest.Server, retries int) *Fetcher {
	return NewFetcher(&FetcherOptions{
		Column:        core.DomainColumn,
		MaxRetries:    retries,
		RetryInterval: -1,
		Client:        srv.Client(),
	}, nil)
}

func TestFetchPlainCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "top-1m.csv")
	res, err := newTestFetcher(srv, 1).Fetch(context.Background(), srv.URL+"/top-1m.csv", dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sampleList, string(got))
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, "", res.Entry)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, xxh3.HashString(sampleList), res.Digest)
}

func TestFetchZippedList(t *testing.T) {
	body := zipped(t, map[string]string{
		"README.txt": "not a list",
		"top-1m.csv": sampleList,
	}, "README.txt", "top-1m.csv")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "list.csv")
	res, err := newTestFetcher(srv, 1).Fetch(context.Background(), srv.URL+"/top-1m.csv.zip", dest)
	require.NoError(t, err)
	assert.Equal(t, "top-1m.csv", res.Entry)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sampleList, string(got))
}

func TestFetchZipWithoutCSV(t *testing.T) {
	body := zipped(t, map[string]string{"README.txt": "x"}, "README.txt")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv, 1).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "l.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCSVEntry)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	res, err := newTestFetcher(srv, 3).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "l.csv"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv, 2).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "l.csv"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNetwork))
	assert.True(t, core.IsRetryable(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "l.csv")
	require.NoError(t, os.WriteFile(dest, []byte("1,previous.com\n"), 0o644))

	_, err := newTestFetcher(srv, 5).Fetch(context.Background(), srv.URL, dest)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNetwork))
	assert.False(t, core.IsRetryable(err))
	assert.EqualValues(t, 1, calls.Load())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "1,previous.com\n", string(got), "existing list must be kept")
}

func TestFetchRejectsMalformedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newTestFetcher(srv, 1).Fetch(context.Background(), srv.URL, filepath.Join(dir, "l.csv"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindMalformedRow), "got %v", err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchHonorsListLayout(t *testing.T) {
	const semicolons = "1;google.com\n2;youtube.com\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(semicolons))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "l.csv")
	_, err := newTestFetcher(srv, 1).Fetch(context.Background(), srv.URL, dest)
	assert.True(t, core.IsKind(err, core.KindMalformedRow), "comma layout must reject, got %v", err)

	f := NewFetcher(&FetcherOptions{
		Delimiter:     ';',
		Column:        core.DomainColumn,
		RetryInterval: -1,
		Client:        srv.Client(),
	}, nil)
	res, err := f.Fetch(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)

	f = NewFetcher(&FetcherOptions{Delimiter: ';', Column: 2, RetryInterval: -1, Client: srv.Client()}, nil)
	_, err = f.Fetch(context.Background(), srv.URL, dest)
	assert.ErrorIs(t, err, core.ErrShortRow)
}

func TestFetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	f := NewFetcher(&FetcherOptions{MaxRetries: 3, RetryInterval: -1, MaxBytes: 8, Client: srv.Client()}, nil)
	res, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "l.csv"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, core.IsKind(err, core.KindIO), "got %v", err)
	assert.False(t, core.IsRetryable(err))
}
