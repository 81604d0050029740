package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.stepsDispatchedTotal)
	assert.NotNil(t, collector.budgetDenialsTotal)
	assert.NotNil(t, collector.repliesIngestedTotal)
	assert.NotNil(t, collector.ghostsDetectedTotal)
	assert.NotNil(t, collector.acquirePagesTotal)
	assert.NotNil(t, collector.tickDuration)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordStepDispatched(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordStepDispatched("email", "completed", 500*time.Millisecond)
	collector.RecordStepDispatched("voice", "failed", 2*time.Second)

	count := testutil.CollectAndCount(collector.stepsDispatchedTotal)
	assert.Greater(t, count, 0)

	durCount := testutil.CollectAndCount(collector.dispatchDuration)
	assert.Greater(t, durCount, 0)
}

func TestCollector_RecordBudgetDenial(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordBudgetDenial("campaign", "daily")
	collector.RecordBudgetDenial("tenant", "hourly")

	count := testutil.CollectAndCount(collector.budgetDenialsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordConversationMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordReplyIngested("email", "interested")
	collector.RecordStateTransition("awaiting_reply", "engaged")
	collector.RecordGhostDetected("tenant-1")
	collector.RecordReEngagement("tenant-1")
	collector.RecordMeetingBooked("tenant-1")

	assert.Greater(t, testutil.CollectAndCount(collector.repliesIngestedTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.stateTransitionsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.ghostsDetectedTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.reEngagementsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.meetingsBookedTotal), 0)
}

func TestCollector_RecordAcquisitionMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordAcquirePage("apollo", "ok")
	collector.RecordLeadImported("apollo")
	collector.RecordLeadRejected("apollo", "below_threshold")
	collector.RecordAcquireError("apollo")

	assert.Greater(t, testutil.CollectAndCount(collector.acquirePagesTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.leadsImportedTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.leadsRejectedTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.acquireErrorsTotal), 0)
}

func TestCollector_RecordTick(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordTick("dispatch", 2*time.Second, 120)

	assert.Greater(t, testutil.CollectAndCount(collector.tickDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.leadsScannedTotal), 0)
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordCacheHit("redis")
	collector.RecordCacheMiss("redis")

	hitCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, hitCount, 0)

	missCount := testutil.CollectAndCount(collector.cacheMisses)
	assert.Greater(t, missCount, 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordDBConnections("postgres", 10, 5)

	openCount := testutil.CollectAndCount(collector.dbConnectionsOpen)
	assert.Greater(t, openCount, 0)

	idleCount := testutil.CollectAndCount(collector.dbConnectionsIdle)
	assert.Greater(t, idleCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordStepDispatched("email", "completed", 200*time.Millisecond)
			collector.RecordCacheHit("redis")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.httpRequestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.stepsDispatchedTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(100))
}
