package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveApply("ok", 10*time.Millisecond)
	m.ObserveApply("ok", 20*time.Millisecond)
	m.ObserveApply("VersionConflict", time.Millisecond)
	m.ObserveDelivery(Delivered)
	m.ObserveDelivery(Gone)
	m.AddSubscriptions(3)
	m.AddSubscriptions(-1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.eventsApplied.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.eventsApplied.WithLabelValues("VersionConflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(Gone)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.subscriptions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "automata_events_applied_total")
	require.Contains(t, string(body), "automata_apply_duration_seconds")
}

func TestNil(t *testing.T) {
	var m *Metrics
	m.ObserveApply("ok", time.Second)
	m.ObserveDelivery(Delivered)
	m.AddSubscriptions(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}
