package output

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topDomains.js")

	f, err := Create(path, &Options{BufferSize: 4})
	require.NoError(t, err)
	_, err = f.Write([]byte("'a.com', "))
	require.NoError(t, err)
	_, err = f.WriteString("'b.com', ")
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "final path must not exist before commit")

	require.NoError(t, f.Commit())
	require.NoError(t, f.Commit(), "second commit is a no-op")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "'a.com', 'b.com', ", string(got))
	assert.Equal(t, []string{"topDomains.js"}, dirEntries(t, dir))

	m := f.GetMetrics()
	assert.EqualValues(t, len(got), m.BytesWritten.Load())
	assert.EqualValues(t, len(got), m.BytesOnDisk.Load())
	assert.EqualValues(t, 2, m.WriteCount.Load())
	assert.NotZero(t, m.CommitTime.Load())
	assert.Equal(t, xxh3.Hash(got), f.Digest())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	_, err = f.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileAbortKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topDomains.js")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	f, err := Create(path, nil)
	require.NoError(t, err)
	_, err = f.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, f.Abort())
	require.NoError(t, f.Abort())
	require.NoError(t, f.Commit(), "commit after abort is a no-op")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
	assert.Equal(t, []string{"topDomains.js"}, dirEntries(t, dir))
}

func TestFileCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "topDomains.js.gz")

	f, err := Create(path, &Options{Compressed: true})
	require.NoError(t, err)
	payload := []byte("'a.com', 'b.com', 'c.com', ")
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Commit())

	raw, err := os.Open(path)
	require.NoError(t, err)
	defer raw.Close()
	zr, err := gzip.NewReader(raw)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Equal(t, payload, plain)
	assert.Equal(t, xxh3.Hash(payload), f.Digest(), "digest covers uncompressed bytes")
	assert.EqualValues(t, len(payload), f.GetMetrics().BytesWritten.Load())
	assert.Equal(t, path, f.Path())
}

func TestFileCommitFailureRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "child"), nil, 0o644))

	f, err := Create(path, nil)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)

	require.Error(t, f.Commit())
	assert.Equal(t, []string{"out"}, dirEntries(t, dir))
	assert.EqualValues(t, 1, f.GetMetrics().ErrorCount.Load())
}
