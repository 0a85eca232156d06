package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/queue"
)

func TestCollectorsExposeMetricsOverHTTP(t *testing.T) {
	c := New()
	c.IncMonitorNotRegistered()
	c.IncHandlerTimeout(queue.KindMonitor)
	c.IncEventsFlushed(3)
	c.SetQueueDepth(queue.KindEvent, 7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "sentinela_executor_monitor_not_registered_total 1")
	assert.Contains(t, body, `sentinela_executor_handler_timeouts_total{kind="monitor"} 1`)
	assert.Contains(t, body, "sentinela_eventbus_events_flushed_total 3")
	assert.Contains(t, body, `sentinela_queue_depth{kind="event"} 7`)
}

func TestRecordMonitorRun(t *testing.T) {
	c := New()
	c.RecordMonitorRun("search", "success", 0)
	c.IncAlertRecomputed()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `sentinela_monitor_runs_total{kind="search",outcome="success"} 1`)
	assert.Contains(t, body, "sentinela_alert_recomputed_total 1")
}
