// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

type Metrics struct {
	gatherer prometheus.Gatherer

	ledgerOps         *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	sweepRuns         prometheus.Counter
	sweepConfirmed    prometheus.Counter
	sweepErrors       prometheus.Counter
	inviteConversions *prometheus.CounterVec
	invitesExpired    prometheus.Counter
	notifications     *prometheus.CounterVec
	httpRateLimited   prometheus.Counter
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_confirm_sweeps_total",
			Help:      "Auto-confirmation sweep runs.",
		}),
		sweepConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_confirmed_orders_total",
			Help:      "Orders confirmed by the sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_confirm_errors_total",
			Help:      "Orders the sweeper failed to confirm.",
		}),
		inviteConversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_conversions_total",
			Help:      "Invite to order conversion attempts by outcome.",
		}, []string{"outcome"}),
		invitesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_expired_total",
			Help:      "Invites expired by the expiry job.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by outcome.",
		}, []string{"outcome"}),
		httpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.ledgerOps,
		m.orderTransitions,
		m.sweepRuns,
		m.sweepConfirmed,
		m.sweepErrors,
		m.inviteConversions,
		m.invitesExpired,
		m.notifications,
		m.httpRateLimited,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) LedgerOperation(op string, err error) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SweepCompleted(confirmed, failed int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepConfirmed.Add(float64(confirmed))
	m.sweepErrors.Add(float64(failed))
}

func (m *Metrics) InviteConversion(err error) {
	if m == nil {
		return
	}
	m.inviteConversions.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) InvitesExpired(n int) {
	if m == nil {
		return
	}
	m.invitesExpired.Add(float64(n))
}

func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.httpRateLimited.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
