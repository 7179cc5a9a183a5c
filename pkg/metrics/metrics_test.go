package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Handler_ExposesRecordedMetrics(t *testing.T) {
	// Arrange
	RecordTick("c1", 5*time.Millisecond, false, "")
	SetTickCount("c1", 42)
	RecordCommand("c1", "heal", true, time.Microsecond)
	SetQueueDepth("c1", 3)
	RecordSnapshotGeneration("c1", true, 2*time.Millisecond)
	SetSnapshotSubscribers("c1", "m1", 2)
	SetContainerStateCounts(map[string]int{"Running": 1, "Stopped": 2})
	SetEntityCount("c1", 7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	// Act
	Handler().ServeHTTP(rec, req)

	// Assert
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "forgeloop_tick_current")
	assert.Contains(t, body, "forgeloop_command_queue_depth")
	assert.Contains(t, body, "forgeloop_snapshot_generations_total")
	assert.Contains(t, body, "forgeloop_container_state")
}

func Test_RecordTick_RecordsOverrunAndFailureLabels(t *testing.T) {
	// Arrange
	RecordTick("c2", time.Second, true, "SystemFailure")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	// Act
	Handler().ServeHTTP(rec, req)

	// Assert
	body := rec.Body.String()
	assert.Contains(t, body, `forgeloop_tick_overruns_total{container_id="c2"}`)
	assert.Contains(t, body, `forgeloop_tick_failures_total{container_id="c2",kind="SystemFailure"}`)
}
