// Package metrics exposes Prometheus collectors for the session core.
package metrics

import (
	"net/http"

	"github.com/jrsteele09/wastekonnect-admin/gate"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records session, gate and login events. It satisfies
// session.Metrics, gate.Metrics and login.Metrics.
type Collector struct {
	sessionChanges *prometheus.CounterVec
	signedIn       prometheus.Gauge
	streamErrors   prometheus.Counter
	subscribeRetry prometheus.Counter
	gateDecisions  *prometheus.CounterVec
	loginAttempts  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wk_admin_session_changes_total",
			Help: "Session notifications applied by the store",
		}, []string{"state"}),
		signedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wk_admin_session_signed_in",
			Help: "1 when the console session is signed in",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wk_admin_session_stream_errors_total",
			Help: "Errors reported by the session notification stream",
		}),
		subscribeRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wk_admin_session_subscribe_retries_total",
			Help: "Retried attempts to subscribe to the identity provider",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wk_admin_gate_decisions_total",
			Help: "Access gate decisions by outcome",
		}, []string{"decision"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wk_admin_login_attempts_total",
			Help: "Login attempts by path, result and error code",
		}, []string{"path", "result", "code"}),
	}

	reg.MustRegister(
		c.sessionChanges,
		c.signedIn,
		c.streamErrors,
		c.subscribeRetry,
		c.gateDecisions,
		c.loginAttempts,
	)
	return c
}

func (c *Collector) SessionChanged(signedIn bool) {
	if signedIn {
		c.sessionChanges.WithLabelValues("signed_in").Inc()
		c.signedIn.Set(1)
		return
	}
	c.sessionChanges.WithLabelValues("signed_out").Inc()
	c.signedIn.Set(0)
}

func (c *Collector) StreamError() {
	c.streamErrors.Inc()
}

func (c *Collector) SubscribeRetry() {
	c.subscribeRetry.Inc()
}

func (c *Collector) GateDecision(d gate.Decision) {
	c.gateDecisions.WithLabelValues(d.String()).Inc()
}

// LoginAttempt records one attempt. Codes are bounded by the provider's taxonomy.
func (c *Collector) LoginAttempt(path login.Path, result login.Result, code identity.ErrorCode) {
	c.loginAttempts.WithLabelValues(string(path), string(result), string(code)).Inc()
}

// Handler returns the HTTP handler Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
