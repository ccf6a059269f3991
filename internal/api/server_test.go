package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/packcam/internal/capture"
	"github.com/banshee-data/packcam/internal/evidence"
	"github.com/banshee-data/packcam/internal/fsutil"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/order"
	"github.com/banshee-data/packcam/internal/testutil"
)

type testEnv struct {
	server *Server
	orch   *capture.Orchestrator
	store  *evidence.Store
	fs     *fsutil.MemoryFileSystem
}

func setupTestServer(t *testing.T, slots int) *testEnv {
	t.Helper()
	monitoring.SetLogger(nil)

	ev := testutil.NewEvidence(t, time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local))
	rig, _ := testutil.NewSimulatedRig(t, ev.Store, ev.Clock, slots, time.Second)
	orch := capture.New(ev.Store, rig, nil, capture.Options{Countdown: 0, Clock: ev.Clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	server := NewServer(orch, ev.Store, Status{
		UpstreamConnected: func() bool { return true },
		Subscribers:       func() int { return 2 },
		Cameras:           rig.Len,
	})
	return &testEnv{server: server, orch: orch, store: ev.Store, fs: ev.FS}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(e.server.ServeMux(), method, target)
}

func (e *testEnv) captureOrder(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.orch.Submit(order.ID(id)))
	require.Eventually(t, func() bool {
		cur := e.orch.Current()
		return cur != nil && string(cur.Order) == id && !e.orch.Busy()
	}, 2*time.Second, time.Millisecond)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestShowStatus(t *testing.T) {
	env := setupTestServer(t, 2)

	w := env.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	decode(t, w, &got)
	assert.Equal(t, "idle", got["state"])
	assert.Equal(t, true, got["upstream_connected"])
	assert.Equal(t, float64(2), got["subscribers"])
	assert.Equal(t, float64(2), got["cameras"])
	assert.NotContains(t, got, "session")

	env.captureOrder(t, "AB12CD34EF56GH")
	w = env.do(t, http.MethodGet, "/api/status")
	decode(t, w, &got)
	assert.Equal(t, "previewing", got["state"])
	session := got["session"].(map[string]any)
	assert.Equal(t, "AB12CD34EF56GH", session["order_no"])

	w = env.do(t, http.MethodPost, "/api/status")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
}

func TestRetake(t *testing.T) {
	env := setupTestServer(t, 3)

	// Nothing captured yet.
	w := env.do(t, http.MethodPost, "/api/retake?slot=1")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, "/api/retake-all")
	assert.Equal(t, http.StatusConflict, w.Code)

	env.captureOrder(t, "AB12CD34EF56GH")

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing slot", http.MethodPost, "/api/retake", http.StatusBadRequest},
		{"non-numeric slot", http.MethodPost, "/api/retake?slot=two", http.StatusBadRequest},
		{"zero slot", http.MethodPost, "/api/retake?slot=0", http.StatusBadRequest},
		{"unknown slot", http.MethodPost, "/api/retake?slot=9", http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/retake?slot=1", http.StatusMethodNotAllowed},
		{"retake all wrong method", http.MethodGet, "/api/retake-all", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w = env.do(t, http.MethodPost, "/api/retake?slot=2")
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return env.orch.Stats().Summary().Retakes == 1 && !env.orch.Busy()
	}, 2*time.Second, time.Millisecond)

	w = env.do(t, http.MethodPost, "/api/retake-all")
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return env.orch.Stats().Summary().Retakes == 2 && !env.orch.Busy()
	}, 2*time.Second, time.Millisecond)
}

func TestOrders(t *testing.T) {
	env := setupTestServer(t, 2)

	w := env.do(t, http.MethodGet, "/api/orders")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":[]}`, w.Body.String())

	env.captureOrder(t, "ZZ12CD34EF56GH")
	env.captureOrder(t, "AB12CD34EF56GH")
	// An empty folder is not evidence.
	require.NoError(t, env.fs.MkdirAll("/evidence/EMPTY000000000A", 0o755))

	w = env.do(t, http.MethodGet, "/api/orders")
	assert.JSONEq(t, `{"orders":["AB12CD34EF56GH","ZZ12CD34EF56GH"]}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/orders/ab12cd34ef56gh")
	require.Equal(t, http.StatusOK, w.Code)
	var resp OrderResponse
	decode(t, w, &resp)
	assert.Equal(t, "AB12CD34EF56GH", string(resp.OrderNo))
	require.Len(t, resp.Images, 2)
	assert.Equal(t, 1, resp.Images[0].Slot)
	assert.Equal(t, "/evidence/AB12CD34EF56GH/cam1_20260304_100000.jpg", resp.Images[0].Path)
	assert.Equal(t, 2, resp.Images[1].Slot)

	w = env.do(t, http.MethodGet, "/api/orders/NOPE00000000000")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/orders/..")
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestShowImage(t *testing.T) {
	env := setupTestServer(t, 1)
	env.captureOrder(t, "AB12CD34EF56GH")

	w := env.do(t, http.MethodGet, "/api/orders/AB12CD34EF56GH/images/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}), "JPEG SOI marker")

	w = env.do(t, http.MethodGet, "/api/orders/AB12CD34EF56GH/images/3")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/orders/AB12CD34EF56GH/images/x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsAndChart(t *testing.T) {
	env := setupTestServer(t, 2)
	env.captureOrder(t, "AB12CD34EF56GH")

	w := env.do(t, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var sum capture.Summary
	decode(t, w, &sum)
	assert.Equal(t, 1, sum.Sessions)
	require.Len(t, sum.Slots, 2)
	assert.Equal(t, 1, sum.Slots[0].Successes)

	w = env.do(t, http.MethodGet, "/debug/capture-chart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "Captures per camera")
	assert.Contains(t, body, "cam1")
	assert.Contains(t, body, echartsAssetsPrefix)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	out := buf.String()
	assert.Contains(t, out, "418")
	assert.Contains(t, out, "GET")
	assert.Contains(t, out, "/api/status?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	assert.True(t, strings.Contains(statusCodeColor(200), colorBoldGreen))
	assert.True(t, strings.Contains(statusCodeColor(304), colorYellow))
	assert.True(t, strings.Contains(statusCodeColor(404), colorBoldRed))
	assert.True(t, strings.Contains(statusCodeColor(503), colorBoldRed))
	assert.Equal(t, "100", statusCodeColor(100))
}
