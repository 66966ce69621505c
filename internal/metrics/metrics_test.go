package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(Requests)
			m.Inc("unknown")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, m.Get(Requests))
	assert.EqualValues(t, 0, m.Get(Failures))
	assert.EqualValues(t, 0, m.Get("unknown"))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Inc(Attempts)
	m.Inc(Attempts)
	m.Register("cache", func() any { return map[string]int{"size": 3} })

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Counters map[string]int64 `json:"counters"`
		Cache    map[string]int   `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body.Counters[Attempts])
	assert.Equal(t, 3, body.Cache["size"])
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(Requests)
	m.Register("x", func() any { return 1 })
	assert.Zero(t, m.Get(Requests))
	assert.Empty(t, m.Snapshot())
}
