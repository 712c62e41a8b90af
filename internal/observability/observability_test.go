package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	p := NewPrometheus()
	m := p.Metrics

	m.LogBatches.Inc()
	m.LogBatches.Inc()
	m.PoolsRejected.Inc("ignored_pair")
	m.PoolsRejected.Inc("exotic_pair")
	m.PoolsRejected.Inc("ignored_pair")
	m.SessionsOpen.Inc()
	m.SessionsOpen.Inc()
	m.SessionsOpen.Dec()
	m.SessionsClosed.Inc("take-profit")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.logBatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.poolsRejected.WithLabelValues("ignored_pair")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.poolsRejected.WithLabelValues("exotic_pair")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionsClosed.WithLabelValues("take-profit")))
}

func TestPrometheus_Handler(t *testing.T) {
	p := NewPrometheus()
	p.Metrics.PoolsDetected.Inc()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clmm_sniper_pools_detected_total 1")
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	assert.NotPanics(t, func() {
		m.LogBatches.Inc()
		m.PoolsRejected.Inc("x")
		m.SessionsOpen.Inc()
		m.SessionsOpen.Dec()
	})
}

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	hm := NewHealthMonitor(time.Minute)
	hm.Register("rpc", PingCheck(func(context.Context) error { return nil }, time.Second))
	hm.Register("ws", FlagCheck(func() bool { return false }, "disconnected"))

	sh := hm.Check(context.Background())
	assert.Equal(t, StatusDegraded, sh.Status)
	require.Contains(t, sh.Components, "ws")
	assert.Equal(t, "disconnected", sh.Components["ws"].Message)

	hm.Register("rpc", PingCheck(func(context.Context) error { return errors.New("down") }, time.Second))
	sh = hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, sh.Status)

	rpc, ok := hm.ComponentStatus("rpc")
	require.True(t, ok)
	assert.Equal(t, "down", rpc.Message)
}

func TestStaleCheck(t *testing.T) {
	var last time.Time
	check := StaleCheck(func() time.Time { return last }, time.Minute)

	h := check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "no log batches received yet", h.Message)

	last = time.Now().Add(-10 * time.Second)
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	last = time.Now().Add(-5 * time.Minute)
	h = check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "last log batch")
}

func TestHealthMonitor_StartStop(t *testing.T) {
	hm := NewHealthMonitor(10 * time.Millisecond)
	hm.Register("ok", FlagCheck(func() bool { return true }, ""))

	done := make(chan struct{})
	go func() {
		hm.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := hm.ComponentStatus("ok")
		return ok
	}, time.Second, 5*time.Millisecond)

	hm.Stop()
	hm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestOpsMux_Routes(t *testing.T) {
	hm := NewHealthMonitor(time.Minute)
	hm.Register("rpc", PingCheck(func(context.Context) error { return errors.New("timeout") }, time.Second))

	var stopped []string
	allStopped := false
	srv := httptest.NewServer(NewOpsMux(OpsHandlers{
		Health:   hm,
		Stats:    func() any { return map[string]int{"open": 2} },
		Sessions: func() any { return []string{"a", "b"} },
		Metrics:  NewPrometheus().Handler(),
		StopSession: func(id string) bool {
			stopped = append(stopped, id)
			return id == "a"
		},
		StopAll: func() { allStopped = true },
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var sh SystemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sh))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, StatusUnhealthy, sh.Status)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 2, stats["open"])

	resp, err = http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	var sessions []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	resp.Body.Close()
	assert.Equal(t, []string{"a", "b"}, sessions)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/control/stop?id=a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/control/stop?id=a", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	var stopResp map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stopResp))
	resp.Body.Close()
	assert.Equal(t, true, stopResp["found"])
	assert.Equal(t, []string{"a"}, stopped)

	resp, err = http.Post(srv.URL+"/control/stop", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/control/stop-all", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, allStopped)
}

func TestOpsMux_HealthWithoutMonitor(t *testing.T) {
	rec := httptest.NewRecorder()
	NewOpsMux(OpsHandlers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
