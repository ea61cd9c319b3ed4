package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg, reg)

	m.RecordForwarding("created")
	m.RecordForwarding("created")
	m.RecordForwarding("existing")
	m.RecordWebhook("created", "ok")
	m.RecordSlotClaim("no_availability")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ForwardingRequests.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardingRequests.WithLabelValues("existing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlotClaims.WithLabelValues("no_availability")))
}

func TestMetrics_HTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg, reg)
	m.RecordCharge("GBP")

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mailroom_charges_created_total{currency="GBP"} 1`)
}
