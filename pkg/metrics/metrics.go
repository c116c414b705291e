// Copyright 2025 Certen Protocol
//
// Prometheus collectors exposed on the admin HTTP surface's /metrics
// endpoint.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every gauge/counter this service exports.
type Registry struct {
	QueueDepth      *prometheus.GaugeVec
	ChainSeq        prometheus.Gauge
	WalletBalanceAR prometheus.Gauge
	SeedingVerified prometheus.Counter
	SeedingFailed   prometheus.Counter
	BundlesUploaded prometheus.Counter
	RecordsUploaded prometheus.Counter
	UploadErrors    prometheus.Counter
}

// New registers every collector against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "attest",
			Name:      "queue_depth",
			Help:      "Number of queue rows by status.",
		}, []string{"status"}),
		ChainSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attest",
			Name:      "chain_seq",
			Help:      "Current chain head sequence number.",
		}),
		WalletBalanceAR: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attest",
			Name:      "wallet_balance_ar",
			Help:      "Last observed wallet balance in AR.",
		}),
		SeedingVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Name:      "seeding_verified_total",
			Help:      "Bundles confirmed seeded on the network.",
		}),
		SeedingFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Name:      "seeding_failed_total",
			Help:      "Bundles that failed to seed within the timeout.",
		}),
		BundlesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Name:      "bundles_uploaded_total",
			Help:      "Bundle-mode uploads that succeeded.",
		}),
		RecordsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Name:      "records_uploaded_total",
			Help:      "Individual records successfully uploaded.",
		}),
		UploadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attest",
			Name:      "upload_errors_total",
			Help:      "Record or bundle upload attempts that failed.",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.ChainSeq, m.WalletBalanceAR,
		m.SeedingVerified, m.SeedingFailed,
		m.BundlesUploaded, m.RecordsUploaded, m.UploadErrors,
	)
	return m
}

// ObserveQueueStats updates the queue depth gauge from a status count
// snapshot. Takes already-split counts so this package does not
// depend on pkg/queue.Counts.
func (m *Registry) ObserveQueueStats(pending, signing, uploading, failed float64) {
	m.QueueDepth.WithLabelValues("pending").Set(pending)
	m.QueueDepth.WithLabelValues("signing").Set(signing)
	m.QueueDepth.WithLabelValues("uploading").Set(uploading)
	m.QueueDepth.WithLabelValues("failed").Set(failed)
}
