package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LedgerOperation("hold", nil)
	m.LedgerOperation("hold", errors.New("boom"))
	m.LedgerOperation("hold", nil)
	m.OrderTransition("accepted", "in_progress")
	m.SweepCompleted(3, 1)
	m.SweepCompleted(2, 0)
	m.InvitesExpired(4)
	m.RateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("hold", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("hold", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderTransitions.WithLabelValues("accepted", "in_progress")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepRuns))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.sweepConfirmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepErrors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.invitesExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRateLimited))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LedgerOperation("mint", nil)
		m.OrderTransition("a", "b")
		m.SweepCompleted(1, 1)
		m.InviteConversion(nil)
		m.InvitesExpired(1)
		m.Notification(nil)
		m.RateLimited()
	})
	assert.NotNil(t, m.Handler())
}
