package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/history"
	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

type fakeLister struct {
	list  []history.Summary
	err   error
	limit int
}

func (f *fakeLister) Recent(_ context.Context, limit int) ([]history.Summary, error) {
	f.limit = limit
	return f.list, f.err
}

var _ session.Renderer = (*Server)(nil)

func newTestServer(t *testing.T, hist SessionLister) (*Server, *httptest.Server) {
	t.Helper()
	web := fstest.MapFS{"index.html": {Data: []byte("<h1>reflowdash</h1>")}}
	s := New(DefaultConfig(), hist, web, zap.NewNop().Sugar())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		s.clientsMu.RLock()
		defer s.clientsMu.RUnlock()
		return len(s.clients) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketBroadcast(t *testing.T) {
	s, ts := newTestServer(t, nil)
	conn := dial(t, s, ts)

	snap := readFrame(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	assert.Empty(t, snap.Points)

	s.Reset("RAMP SPEED TEST")
	s.Status(session.Status{Profile: "RAMP SPEED TEST", Mode: telemetry.ModeReflow, Heat: 80, Fan: 0})
	s.Plot(telemetry.Sample{Time: 1, Actual: 31.5, Mode: telemetry.ModeReflow})
	s.Console("# Time,  Temp0")

	f := readFrame(t, conn)
	assert.Equal(t, "reset", f.Type)
	assert.Equal(t, "RAMP SPEED TEST", f.Profile)

	f = readFrame(t, conn)
	assert.Equal(t, "status", f.Type)
	assert.Equal(t, "Profile: RAMP SPEED TEST; Mode: REFLOW; Heat:  80; Fan:   0", f.Title)

	f = readFrame(t, conn)
	assert.Equal(t, "sample", f.Type)
	require.NotNil(t, f.Sample)
	assert.Equal(t, 31.5, f.Sample.Actual)

	f = readFrame(t, conn)
	assert.Equal(t, "console", f.Type)
	assert.Equal(t, "# Time,  Temp0", f.Line)
}

func TestLateClientGetsSnapshot(t *testing.T) {
	s, ts := newTestServer(t, nil)

	s.Reset("old")
	s.Plot(telemetry.Sample{Time: 1})
	s.Reset("bake")
	s.Status(session.Status{Profile: "bake", Mode: telemetry.ModeBake, Heat: 10})
	s.Plot(telemetry.Sample{Time: 1, Actual: 40})
	s.Plot(telemetry.Sample{Time: 2, Actual: 41})

	conn := dial(t, s, ts)
	snap := readFrame(t, conn)

	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "bake", snap.Profile)
	require.Len(t, snap.Points, 2)
	assert.Equal(t, 41.0, snap.Points[1].Actual)
	require.NotNil(t, snap.Status)
	assert.Equal(t, telemetry.ModeBake, snap.Status.Mode)
}

func TestSessionsEndpoint(t *testing.T) {
	ended := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	hist := &fakeLister{list: []history.Summary{{ID: "a", Profile: "bake", Ended: ended, Samples: 12, PeakActual: 120}}}
	_, ts := newTestServer(t, hist)

	res, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, recentSessionsLimit, hist.limit)

	var got []history.Summary
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 120.0, got[0].PeakActual)
}

func TestSessionsEndpointLimitAndEmpty(t *testing.T) {
	hist := &fakeLister{}
	_, ts := newTestServer(t, hist)

	res, err := http.Get(ts.URL + "/api/sessions?limit=5")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, 5, hist.limit)
	var got []history.Summary
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSessionsEndpointErrors(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	_, ts = newTestServer(t, &fakeLister{err: errors.New("database is locked")})
	res, err = http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestConfigEndpoint(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.cfg.path = t.TempDir() + "/config.yaml"

	res, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	assert.Contains(t, body, "automation")

	res, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{"automation":{"profiles":3}}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 3, s.cfg.Automation.Profiles)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/config", nil)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestIndexServed(t *testing.T) {
	_, ts := newTestServer(t, nil)
	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
