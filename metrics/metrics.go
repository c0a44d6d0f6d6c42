// Package metrics exposes the pipeline's Prometheus collectors and the
// /metrics listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EmailsScanned counts unseen messages fetched across all mailboxes.
	EmailsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repa_emails_scanned_total",
			Help: "Total number of unseen emails fetched from monitored mailboxes",
		},
	)

	// CandidateListings counts emails that passed the filters and carried
	// at least one listing URL.
	CandidateListings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repa_candidate_listings_total",
			Help: "Total number of emails that yielded listing URLs",
		},
	)

	// AnalysesTotal counts finished analyses by outcome (success, error).
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repa_analyses_total",
			Help: "Total number of listing analyses by outcome",
		},
		[]string{"outcome"},
	)

	// AnalysisDuration observes wall time of one scrape-and-report cycle.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repa_analysis_duration_seconds",
			Help:    "Duration of one listing analysis in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// ScanErrors counts failed mailbox scan iterations.
	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repa_scan_errors_total",
			Help: "Total number of failed mailbox scans",
		},
	)
)

// Serve starts the metrics listener on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
