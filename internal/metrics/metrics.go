package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the credential authority. Defined in a standalone
// package to avoid import cycles between authority, deploy and HTTP packages.

var (
	MintOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_mint_total",
		Help: "Mints por provider y resultado",
	}, []string{"provider", "outcome"})

	VerifyOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_verify_total",
		Help: "Verificaciones por provider y resultado",
	}, []string{"provider", "outcome"})

	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_admission_total",
		Help: "Decisiones de admisión zero-trust",
	}, []string{"decision", "reason"})

	ScanFindings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_scan_findings_total",
		Help: "Hallazgos del scanner por severidad",
	}, []string{"severity"})

	DeployChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_deploy_checks_total",
		Help: "Resultados de pre-deploy checks",
	}, []string{"result"})

	KeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenforge_key_rotations_total",
		Help: "Rotaciones del root key",
	})

	MintLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenforge_mint_latency_ms",
		Help:    "Latencia de mint en milisegundos",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Register registers all metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		MintOutcomes,
		VerifyOutcomes,
		AdmissionDecisions,
		ScanFindings,
		DeployChecks,
		KeyRotations,
		MintLatency,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
