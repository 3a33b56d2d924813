package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")

	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	handler, pattern = mux.Handler(&http.Request{URL: &url.URL{Path: "/metrics"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /metrics to be set")
	assert.Equal(t, "GET /metrics", pattern)
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric("NumActiveClients")
	su.Run()
	defer su.Stop()

	su.Incr("NumActiveClients")
	su.Incr("NumActiveClients")
	su.Decr("NumActiveClients")

	assert.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

		var vars map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &vars); err != nil {
			return false
		}
		return vars["NumActiveClients"] == float64(1)
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		return strings.Contains(rr.Body.String(), `lanchat_stat{name="NumActiveClients"} 1`)
	}, time.Second, 10*time.Millisecond, "expected prometheus gauge to mirror the expvar counter")
}

func TestStatsUpdater_IndependentInstances(t *testing.T) {
	// registering the same metric on two updaters must not collide
	a := NewStatsUpdater(http.NewServeMux())
	b := NewStatsUpdater(http.NewServeMux())
	assert.NotPanics(t, func() {
		a.RegisterMetric("NumBroadcasts")
		b.RegisterMetric("NumBroadcasts")
	})
}
