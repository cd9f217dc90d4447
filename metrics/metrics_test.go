package metrics

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStoreHealth(t *testing.T) {
	RecordStoreHealth(true, 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(storeUp))
	assert.Equal(t, 7.0, testutil.ToFloat64(storedTemplates))

	// a failed check keeps the last known template count
	RecordStoreHealth(false, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(storeUp))
	assert.Equal(t, 7.0, testutil.ToFloat64(storedTemplates))
}

func TestRecordStoreOperation(t *testing.T) {
	before := testutil.ToFloat64(storeOperations.WithLabelValues("memory", "get", OutcomeFailure))
	RecordStoreOperation("memory", "get", time.Millisecond, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(storeOperations.WithLabelValues("memory", "get", OutcomeFailure)))
}

func TestRecordHTTPRequest(t *testing.T) {
	RecordHTTPRequest("GET", "/api/v1/templates/:id", 404, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/templates/:id", "404")))
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(activeSessions))
}
