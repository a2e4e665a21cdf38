package authcore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus counters. A nil *Metrics records
// nothing.
type Metrics struct {
	login         *prometheus.CounterVec
	otpVerify     *prometheus.CounterVec
	session       *prometheus.CounterVec
	passwordReset *prometheus.CounterVec
	authorize     *prometheus.CounterVec
}

// NewMetrics registers the engine counters on reg. It returns nil when
// metrics are disabled.
func NewMetrics(cfg MetricsConfig, reg prometheus.Registerer) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if reg == nil {
		return nil, errors.New("metrics registerer required")
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	m := &Metrics{
		login:         counter("login_total", "Login attempts by result.", "result"),
		otpVerify:     counter("otp_verify_total", "OTP verifications by flow and result.", "flow", "result"),
		session:       counter("session_total", "Session lifecycle events.", "event"),
		passwordReset: counter("password_reset_total", "Password reset and set attempts by kind and result.", "kind", "result"),
		authorize:     counter("authorize_total", "Authorization decisions by outcome.", "result"),
	}
	for _, c := range []prometheus.Collector{m.login, m.otpVerify, m.session, m.passwordReset, m.authorize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) loginResult(result string) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(result).Inc()
}

func (m *Metrics) otpResult(flow, result string) {
	if m == nil {
		return
	}
	m.otpVerify.WithLabelValues(flow, result).Inc()
}

func (m *Metrics) sessionEvent(event string) {
	if m == nil {
		return
	}
	m.session.WithLabelValues(event).Inc()
}

func (m *Metrics) passwordResult(kind, result string) {
	if m == nil {
		return
	}
	m.passwordReset.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) authorizeResult(result string) {
	if m == nil {
		return
	}
	m.authorize.WithLabelValues(result).Inc()
}

// resultLabel turns an operation error into a bounded label value.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" && !e.Internal() {
		return e.Message
	}
	return KindOf(err).String()
}
