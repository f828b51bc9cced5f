package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arohanajit/distributed-file-system/internal/cluster"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupClusterHandlerTest(t *testing.T) (*cluster.Registry, *mux.Router) {
	reg := cluster.NewRegistry()
	handler := NewClusterHandler(reg, zaptest.NewLogger(t), 0)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return reg, router
}

func doRequest(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestClusterHandler_AddNode(t *testing.T) {
	reg, router := setupClusterHandlerTest(t)
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.9", Port: 9000}))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "Valid node", body: `{"host":"10.0.0.1","port":9000}`, wantStatus: http.StatusCreated},
		{name: "Duplicate node", body: `{"host":"10.0.0.9","port":9000}`, wantStatus: http.StatusConflict},
		{name: "Empty host", body: `{"host":"","port":9000}`, wantStatus: http.StatusBadRequest},
		{name: "Port out of range", body: `{"host":"10.0.0.1","port":70000}`, wantStatus: http.StatusBadRequest},
		{name: "Unknown field", body: `{"invalid":"json"}`, wantStatus: http.StatusBadRequest},
		{name: "Malformed JSON", body: `{"host":`, wantStatus: http.StatusBadRequest},
		{name: "Trailing object", body: `{"host":"10.0.0.2","port":9000} {"host":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "Trailing garbage", body: `{"host":"10.0.0.3","port":9000} {"host":"x"} garbage`, wantStatus: http.StatusBadRequest},
		{name: "Trailing whitespace", body: "{\"host\":\"10.0.0.4\",\"port\":9000}\n", wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodPost, "/cluster/nodes", []byte(tt.body))
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}

	assert.Equal(t, 3, reg.Len())
	assert.False(t, reg.IsNodeActive(cluster.Address{Host: "10.0.0.2", Port: 9000}))
	assert.False(t, reg.IsNodeActive(cluster.Address{Host: "10.0.0.3", Port: 9000}))
}

func TestClusterHandler_AddNodeResponse(t *testing.T) {
	_, router := setupClusterHandlerTest(t)

	rr := doRequest(router, http.MethodPost, "/cluster/nodes", []byte(`{"host":"10.0.0.1","port":9000}`))
	require.Equal(t, http.StatusCreated, rr.Code)

	var node cluster.NodeRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&node))
	assert.Equal(t, cluster.NodeRecord{Address: cluster.Address{Host: "10.0.0.1", Port: 9000}, Active: true}, node)
}

func TestClusterHandler_RemoveNode(t *testing.T) {
	reg, router := setupClusterHandlerTest(t)
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.1", Port: 9000}))

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "Remove existing node", path: "/cluster/nodes/10.0.0.1/9000", wantStatus: http.StatusNoContent},
		{name: "Remove same node again", path: "/cluster/nodes/10.0.0.1/9000", wantStatus: http.StatusNotFound},
		{name: "Non-numeric port", path: "/cluster/nodes/10.0.0.1/http", wantStatus: http.StatusBadRequest},
		{name: "Port zero", path: "/cluster/nodes/10.0.0.1/0", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodDelete, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}

	assert.Equal(t, 0, reg.Len())
}

func TestClusterHandler_ListNodes(t *testing.T) {
	reg, router := setupClusterHandlerTest(t)

	rr := doRequest(router, http.MethodGet, "/cluster/nodes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.2", Port: 9000}))
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.1", Port: 9000}))
	require.NoError(t, reg.SetNodeActive(cluster.Address{Host: "10.0.0.2", Port: 9000}, false))

	rr = doRequest(router, http.MethodGet, "/cluster/nodes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `[
		{"address":{"host":"10.0.0.1","port":9000},"active":true},
		{"address":{"host":"10.0.0.2","port":9000},"active":false}
	]`, rr.Body.String())
}

func TestClusterHandler_GetNode(t *testing.T) {
	reg, router := setupClusterHandlerTest(t)
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.1", Port: 9000}))

	rr := doRequest(router, http.MethodGet, "/cluster/nodes/10.0.0.1/9000", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"address":{"host":"10.0.0.1","port":9000},"active":true}`, rr.Body.String())

	rr = doRequest(router, http.MethodGet, "/cluster/nodes/10.0.0.2/9000", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClusterHandler_IsNodeActive(t *testing.T) {
	reg, router := setupClusterHandlerTest(t)
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.1", Port: 9000}))
	require.NoError(t, reg.AddNode(cluster.Address{Host: "10.0.0.2", Port: 9000}))
	require.NoError(t, reg.SetNodeActive(cluster.Address{Host: "10.0.0.2", Port: 9000}, false))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "Active node", path: "/cluster/nodes/10.0.0.1/9000/active", wantStatus: http.StatusOK, wantBody: `{"active":true}`},
		{name: "Inactive node", path: "/cluster/nodes/10.0.0.2/9000/active", wantStatus: http.StatusOK, wantBody: `{"active":false}`},
		{name: "Unknown node", path: "/cluster/nodes/10.0.0.3/9000/active", wantStatus: http.StatusOK, wantBody: `{"active":false}`},
		{name: "Invalid port", path: "/cluster/nodes/10.0.0.1/abc/active", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestClusterHandler_Scenario(t *testing.T) {
	_, router := setupClusterHandlerTest(t)

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/cluster/nodes", []byte(`{"host":"10.0.0.1","port":9000}`)).Code)
	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/cluster/nodes", []byte(`{"host":"10.0.0.2","port":9000}`)).Code)
	require.Equal(t, http.StatusNoContent, doRequest(router, http.MethodDelete, "/cluster/nodes/10.0.0.1/9000", nil).Code)

	rr := doRequest(router, http.MethodGet, "/cluster/nodes", nil)
	assert.JSONEq(t, `[{"address":{"host":"10.0.0.2","port":9000},"active":true}]`, rr.Body.String())

	rr = doRequest(router, http.MethodGet, "/cluster/nodes/10.0.0.1/9000/active", nil)
	assert.JSONEq(t, `{"active":false}`, rr.Body.String())
}
