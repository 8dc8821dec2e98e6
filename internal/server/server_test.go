package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Duskaraa/Plots-Manager/internal/server"
)

func newTestServer(t *testing.T, status server.StatusFunc, opts ...server.Option) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := server.New(":0", reg, status, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "test_hits_total 1"))
}

func TestServer_Status(t *testing.T) {
	ts := newTestServer(t, func() server.Status {
		return server.Status{
			Ready:     true,
			Loaded:    []string{"plots"},
			Pending:   map[string]int{"runtime": 1},
			Listeners: map[string]int{"tick": 2},
		}
	})
	resp, body := get(t, ts.URL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st server.Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.True(t, st.Ready)
	assert.Equal(t, []string{"plots"}, st.Loaded)
	assert.Equal(t, 1, st.Pending["runtime"])
	assert.Equal(t, 2, st.Listeners["tick"])
}

func TestServer_StatusNotMountedWithoutProvider(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := get(t, ts.URL+"/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RequestsAreTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	ts := newTestServer(t, func() server.Status { return server.Status{} }, server.WithTracerProvider(tp))

	get(t, ts.URL+"/status")
	get(t, ts.URL+"/metrics")

	require.Eventually(t, func() bool { return len(sr.Ended()) == 2 }, 2*time.Second, 10*time.Millisecond)
	var names []string
	for _, sp := range sr.Ended() {
		names = append(names, sp.Name())
	}
	assert.ElementsMatch(t, []string{"GET /status", "GET /metrics"}, names)
}
