package metrics

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
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     atomic.Bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Export metrics
	RowsReadTotal      prometheus.Counter
	TokensWrittenTotal prometheus.Counter
	RowErrorsTotal     *prometheus.CounterVec
	ExportDuration     prometheus.Histogram
	OutputBytes        *prometheus.GaugeVec

	// Fetch metrics
	FetchRequestsTotal *prometheus.CounterVec
	FetchRetriesTotal  prometheus.Counter
	FetchDuration      prometheus.Histogram
	FetchBytes         prometheus.Gauge

	// Check metrics
	IndexEntries        prometheus.Gauge
	CheckedDomainsTotal *prometheus.CounterVec

	// Process metrics
	ProcessRSSBytes prometheus.Gauge
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled.Store(true)
}

// DisableMetrics turns collection back off. Registered collectors keep
// their values.
func DisableMetrics() {
	metricsEnabled.Store(false)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// Registry exposes the private registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

	return &Metrics{
		RowsReadTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "topdomains_rows_read_total",
				Help: "Total number of input rows read",
			},
		),
		TokensWrittenTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "topdomains_tokens_written_total",
				Help: "Total number of fragment tokens written",
			},
		),
		RowErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topdomains_row_errors_total",
				Help: "Total number of export failures by kind",
			},
			[]string{"kind"},
		),
		ExportDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "topdomains_export_duration_seconds",
				Help:    "Time spent on a full export",
				Buckets: buckets,
			},
		),
		OutputBytes: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "topdomains_output_bytes",
				Help: "Size of the last committed output file",
			},
			[]string{"operation"},
		),

		FetchRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topdomains_fetch_requests_total",
				Help: "Total number of list download attempts",
			},
			[]string{"status"},
		),
		FetchRetriesTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "topdomains_fetch_retries_total",
				Help: "Total number of list download retries",
			},
		),
		FetchDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "topdomains_fetch_duration_seconds",
				Help:    "Time spent downloading the list",
				Buckets: buckets,
			},
		),
		FetchBytes: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "topdomains_fetch_bytes",
				Help: "Size of the last downloaded list body",
			},
		),

		IndexEntries: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "topdomains_index_entries",
				Help: "Distinct domains in the loaded membership index",
			},
		),
		CheckedDomainsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topdomains_checked_domains_total",
				Help: "Domains checked against the index",
			},
			[]string{"result"},
		),

		ProcessRSSBytes: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "topdomains_process_rss_bytes",
				Help: "Resident set size of this process at the last sample",
			},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string, logger *zap.Logger) error {
	if !IsMetricsEnabled() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("Starting metrics server", zap.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server error", zap.Error(err))
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram prometheus.Observer) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		histogram.Observe(time.Since(start).Seconds())
	}
}

// RecordRow counts one input row.
func (m *Metrics) RecordRow() {
	if !IsMetricsEnabled() {
		return
	}
	m.RowsReadTotal.Inc()
}

// RecordToken counts one written token.
func (m *Metrics) RecordToken() {
	if !IsMetricsEnabled() {
		return
	}
	m.TokensWrittenTotal.Inc()
}

// RecordExportError counts an aborted export by error kind.
func (m *Metrics) RecordExportError(kind string) {
	if !IsMetricsEnabled() {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.RowErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordOutput stores the on-disk size of a committed file.
func (m *Metrics) RecordOutput(operation string, size int64) {
	if !IsMetricsEnabled() {
		return
	}
	m.OutputBytes.WithLabelValues(operation).Set(float64(size))
}

// RecordFetchAttempt counts one download attempt by HTTP status or "error".
func (m *Metrics) RecordFetchAttempt(status string, retry bool) {
	if !IsMetricsEnabled() {
		return
	}
	m.FetchRequestsTotal.WithLabelValues(status).Inc()
	if retry {
		m.FetchRetriesTotal.Inc()
	}
}

// RecordFetchBytes stores the size of the last list written by a fetch.
func (m *Metrics) RecordFetchBytes(size int64) {
	if !IsMetricsEnabled() {
		return
	}
	m.FetchBytes.Set(float64(size))
}

// RecordIndexSize stores the number of distinct domains in the loaded index.
func (m *Metrics) RecordIndexSize(n int) {
	if !IsMetricsEnabled() {
		return
	}
	m.IndexEntries.Set(float64(n))
}

// RecordCheck counts one checked domain.
func (m *Metrics) RecordCheck(listed bool) {
	if !IsMetricsEnabled() {
		return
	}
	result := "unlisted"
	if listed {
		result = "listed"
	}
	m.CheckedDomainsTotal.WithLabelValues(result).Inc()
}

// SampleProcessRSS reads the resident set size of the current process and,
// when metrics are enabled, publishes it. It works regardless of the
// enabled flag so the CLI can print it in the final stats.
func (m *Metrics) SampleProcessRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	if IsMetricsEnabled() {
		m.ProcessRSSBytes.Set(float64(mem.RSS))
	}
	return mem.RSS, nil
}
