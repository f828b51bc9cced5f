package rest

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arohanajit/distributed-file-system/internal/cluster"
	"github.com/arohanajit/distributed-file-system/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupRouterTest(t *testing.T) (*cluster.Registry, *metrics.PrometheusMetrics, *httptest.Server) {
	promReg := prometheus.NewRegistry()
	pm := metrics.NewPrometheusMetrics(promReg)
	reg := cluster.NewRegistry(cluster.WithRecorder(pm))

	router := NewRouter(RouterConfig{
		Registry:       reg,
		Metrics:        pm,
		MetricsHandler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Logger:         zaptest.NewLogger(t),
		RequestTimeout: time.Second,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return reg, pm, server
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	_, _, server := setupRouterTest(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ConcurrentJoins(t *testing.T) {
	reg, pm, server := setupRouterTest(t)
	const n = 50

	var wg sync.WaitGroup
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := []byte(fmt.Sprintf(`{"host":"10.0.1.%d","port":9000}`, i))
			resp, err := http.Post(server.URL+"/cluster/nodes", "application/json", bytes.NewReader(body))
			if err != nil {
				t.Errorf("POST failed: %v", err)
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Equal(t, http.StatusCreated, status)
	}
	assert.Len(t, reg.ListNodes(), n)
	assert.Equal(t, float64(n), testutil.ToFloat64(pm.ClusterNodesTotal))
	assert.Equal(t, float64(n), testutil.ToFloat64(pm.ClusterNodesActive))
	assert.Equal(t, float64(n), testutil.ToFloat64(pm.RegistryOperations.WithLabelValues(cluster.OpAddNode, "ok")))
}
