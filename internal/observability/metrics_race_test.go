package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// NewMetrics uses a private registry, so concurrent construction must not collide.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.registry)
			assert.NotNil(t, m.PANNs)
		})
	}
	wg.Wait()
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.PANNs.RecordInference(metrics.WrapperAudioTagging, 20*time.Millisecond, nil)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `panns_inference_total{status="success",wrapper="audio_tagging"} 1`)
}
