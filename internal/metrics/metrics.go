// Package metrics define las métricas Prometheus del cliente gpgauth.
// Vive en un paquete propio para que gpgauth y la CLI compartan las mismas
// instancias sin ciclos de import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Operations cuenta operaciones del protocolo por resultado.
	// op: verify | login | stage1 | stage2 | logout | probe | server_key
	// outcome: ok | error
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpgauth_operations_total",
		Help: "Operaciones gpgauth por tipo y resultado",
	}, []string{"op", "outcome"})

	// Errors cuenta errores por kind del protocolo.
	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpgauth_errors_total",
		Help: "Errores gpgauth por operación y kind",
	}, []string{"op", "kind"})

	// RoundTrip mide la latencia de cada request HTTP al servidor.
	RoundTrip = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpgauth_round_trip_ms",
		Help:    "Latencia de round-trips HTTP en milisegundos",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"endpoint"})

	// StatusProbes cuenta resultados del probe de sesión.
	// status: authenticated | mfa_required | unauthenticated
	StatusProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpgauth_status_probes_total",
		Help: "Resultados del probe is-authenticated",
	}, []string{"status"})
)

// Register registra las métricas en reg (o el default si es nil).
// Registrar dos veces no es un error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{Operations, Errors, RoundTrip, StatusProbes} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Observe registra el resultado de una operación. kind vacío = ok.
func Observe(op, kind string) {
	if kind == "" {
		Operations.WithLabelValues(op, "ok").Inc()
		return
	}
	Operations.WithLabelValues(op, "error").Inc()
	Errors.WithLabelValues(op, kind).Inc()
}
