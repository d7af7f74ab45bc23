// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "scan_outcomes_total",
		Help:      "Processed scan events by outcome.",
	}, []string{"outcome"})

	ScansSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "scans_suppressed_total",
		Help:      "Decode events dropped before processing.",
	}, []string{"reason"})

	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "ledger_writes_total",
		Help:      "Attendance ledger writes by operation.",
	}, []string{"op"})

	LedgerWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qrattend",
		Name:      "ledger_write_duration_seconds",
		Help:      "Latency of MarkAttendance including the backing store round trips.",
		Buckets:   prometheus.DefBuckets,
	})

	ActiveScanners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qrattend",
		Name:      "scanner_sessions_active",
		Help:      "Scan sessions currently holding a camera.",
	})
)
