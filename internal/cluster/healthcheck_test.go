package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPHealthChecker_Check(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	hc := NewHTTPHealthChecker(&http.Client{Timeout: time.Second})

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "Healthy node", address: strings.TrimPrefix(healthy.URL, "http://")},
		{name: "Unhealthy status", address: strings.TrimPrefix(failing.URL, "http://"), wantErr: true},
		{name: "Unreachable node", address: "127.0.0.1:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hc.Check(context.Background(), tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPHealthChecker_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewHTTPHealthChecker(nil).Check(ctx, strings.TrimPrefix(server.URL, "http://"))
	assert.Error(t, err)
}
