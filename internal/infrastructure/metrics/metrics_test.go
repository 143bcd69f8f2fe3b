package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageReceived("t")
		m.DecodeError("t")
		m.BroadcastDelivered("detectionUpdate", 3)
		m.BroadcastFailed()
		m.SetConnections(2)
		m.NotificationSent("startup", true)
		m.SetBinLevel("dry", 50)
		m.BinAlert("dry")
		m.LedgerOperation("redeem", "ok")
		m.LedgerPersistFailed("redeem")
		m.StorageError("redis")
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.DecodeError("smartbin/detection")
	m.DecodeError("smartbin/detection")
	m.NotificationSent("bin_full", false)
	m.BroadcastDelivered("binStatus", 4)
	m.SetConnections(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decodeErrors.WithLabelValues("smartbin/detection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("bin_full", "failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("binStatus")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.wsConnections))
}

func TestHandlerAndWrap(t *testing.T) {
	m := NewMetrics()
	wrapped := m.WrapHandler("/api/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/stats", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "http_requests_total")
}
