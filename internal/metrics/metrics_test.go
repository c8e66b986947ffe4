package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.Opened("a")
	m.Opened("b")
	m.Closed("a", errors.New("reset"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connCloses.WithLabelValues("error")))

	m.Pending("approval", 3)
	m.Pending("approval", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pending.WithLabelValues("approval")))

	m.TimedOut("question")
	m.TurnFinished("ok", time.Second)
	m.InboundFrame("hook.agent")
	m.OutboundEvent("chat.done")
	m.OutboundEvent("chat.done")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts.WithLabelValues("question")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outbound.WithLabelValues("chat.done")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Opened("a")
		m.Closed("a", nil)
		m.Pending("t", 1)
		m.TimedOut("t")
		m.TurnFinished("ok", 0)
		m.InboundFrame("x")
		m.OutboundEvent("y")
	})
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.InboundFrame("ping")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `whimmy_inbound_frames_total{type="ping"} 1`)
}
