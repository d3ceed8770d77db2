package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Metrics are process-wide, so these tests assert on deltas and do not run
// in parallel.

func TestRecordersGatedByEnable(t *testing.T) {
	m := GetMetrics()
	DisableMetrics()
	t.Cleanup(DisableMetrics)

	before := testutil.ToFloat64(m.RowsReadTotal)
	m.RecordRow()
	assert.Equal(t, before, testutil.ToFloat64(m.RowsReadTotal), "disabled recorder must not count")

	EnableMetrics()
	require.True(t, IsMetricsEnabled())
	m.RecordRow()
	m.RecordToken()
	assert.Equal(t, before+1, testutil.ToFloat64(m.RowsReadTotal))
}

func TestRecordExportErrorLabels(t *testing.T) {
	m := GetMetrics()
	EnableMetrics()
	t.Cleanup(DisableMetrics)

	malformed := testutil.ToFloat64(m.RowErrorsTotal.WithLabelValues("malformed_row"))
	unknown := testutil.ToFloat64(m.RowErrorsTotal.WithLabelValues("unknown"))

	m.RecordExportError("malformed_row")
	m.RecordExportError("")

	assert.Equal(t, malformed+1, testutil.ToFloat64(m.RowErrorsTotal.WithLabelValues("malformed_row")))
	assert.Equal(t, unknown+1, testutil.ToFloat64(m.RowErrorsTotal.WithLabelValues("unknown")))
}

func TestFetchAndCheckRecorders(t *testing.T) {
	m := GetMetrics()
	EnableMetrics()
	t.Cleanup(DisableMetrics)

	ok := testutil.ToFloat64(m.FetchRequestsTotal.WithLabelValues("200"))
	retries := testutil.ToFloat64(m.FetchRetriesTotal)
	m.RecordFetchAttempt("503", false)
	m.RecordFetchAttempt("200", true)
	assert.Equal(t, ok+1, testutil.ToFloat64(m.FetchRequestsTotal.WithLabelValues("200")))
	assert.Equal(t, retries+1, testutil.ToFloat64(m.FetchRetriesTotal))

	m.RecordFetchBytes(1234)
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.FetchBytes))
	m.RecordIndexSize(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexEntries))
	m.RecordOutput("export", 99)
	assert.Equal(t, 99.0, testutil.ToFloat64(m.OutputBytes.WithLabelValues("export")))

	listed := testutil.ToFloat64(m.CheckedDomainsTotal.WithLabelValues("listed"))
	m.RecordCheck(true)
	m.RecordCheck(false)
	assert.Equal(t, listed+1, testutil.ToFloat64(m.CheckedDomainsTotal.WithLabelValues("listed")))
}

func TestMeasureDuration(t *testing.T) {
	m := GetMetrics()
	EnableMetrics()
	t.Cleanup(DisableMetrics)

	before := testutil.CollectAndCount(m.ExportDuration)
	MeasureDuration(m.ExportDuration)()
	assert.Equal(t, before, testutil.CollectAndCount(m.ExportDuration), "histogram is a single series")

	DisableMetrics()
	MeasureDuration(m.ExportDuration)()
}

func TestSampleProcessRSS(t *testing.T) {
	rss, err := GetMetrics().SampleProcessRSS()
	require.NoError(t, err)
	assert.Positive(t, rss)
}

func TestRegistryGathers(t *testing.T) {
	GetMetrics()
	families, err := Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
