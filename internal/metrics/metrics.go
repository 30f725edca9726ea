// Package metrics exposes counters for lifecycle outcomes so operators can
// query degraded and enforcement state programmatically instead of grepping
// logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvisionJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storegrid",
		Subsystem: "provision",
		Name:      "jobs_total",
		Help:      "Provisioning jobs by final result.",
	}, []string{"result"})

	TLSDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storegrid",
		Subsystem: "edge",
		Name:      "tls_degraded_total",
		Help:      "Provisioned tenants left on plain HTTP after failed issuance.",
	})

	Suspensions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storegrid",
		Subsystem: "enforcement",
		Name:      "suspensions_total",
		Help:      "Tenant suspensions by reason.",
	}, []string{"reason"})

	Terminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storegrid",
		Subsystem: "enforcement",
		Name:      "terminations_total",
		Help:      "Irreversible tenant terminations.",
	})

	EnforcementCycle = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "storegrid",
		Subsystem: "enforcement",
		Name:      "cycle_seconds",
		Help:      "Duration of one enforcement sweep over all tenants.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	StagingSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storegrid",
		Subsystem: "staging",
		Name:      "syncs_total",
		Help:      "Staging operations by kind and result.",
	}, []string{"operation", "result"})
)
