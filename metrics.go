package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	TokenValidations *prometheus.CounterVec
	TokenRotations   *prometheus.CounterVec
	Revocations      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "login_attempts_total",
				Help:      "Login attempts by resulting status.",
			},
			[]string{"status"},
		),
		TokenValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "token_validations_total",
				Help:      "Token validations by kind and result.",
			},
			[]string{"kind", "result"},
		),
		TokenRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "token_rotations_total",
				Help:      "Refresh token rotations by result.",
			},
			[]string{"result"},
		),
		Revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "refresh_revocations_total",
				Help:      "Revoked refresh tokens by scope.",
			},
			[]string{"scope"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.LoginAttempts, m.TokenValidations, m.TokenRotations, m.Revocations)
	}

	return m
}

func (m *Metrics) observeLogin(status LoginStatus) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeValidation(kind TokenKind, err error) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(string(kind), resultLabel(err)).Inc()
}

func (m *Metrics) observeRotation(err error) {
	if m == nil {
		return
	}
	m.TokenRotations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeRevocations(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Revocations.WithLabelValues(scope).Add(float64(n))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if IsInfrastructureError(err) {
		return "error"
	}
	switch TextCodeFromError(err) {
	case TextCodeTokenExpired:
		return "expired"
	case TextCodeTokenRevoked:
		return "revoked"
	case TextCodeStalePermissions:
		return "stale"
	default:
		return "malformed"
	}
}
