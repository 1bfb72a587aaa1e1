package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)
	routes := NewHTTPServer(f.ctrl, "127.0.0.1:0").Routes()

	rec, out := serve(t, routes, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "online", out["status"])
	assert.Equal(t, false, out["running"])
	assert.Equal(t, true, out["handle_valid"])
	assert.Equal(t, h.String(), out["hwnd"])
	assert.Equal(t, "ExampleApp — Main", out["title"])

	lp, ok := out["loop"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "idle", lp["phase"])
}

func TestConnectRoute(t *testing.T) {
	f := newFixture(t)
	routes := NewHTTPServer(f.ctrl, "").Routes()

	rec, out := serve(t, routes, http.MethodPost, "/connect", `{"gameId":"exampleApp"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "exampleApp")

	f.openMain()
	rec, out = serve(t, routes, http.MethodPost, "/connect", `{"gameId":"exampleApp"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "ExampleApp — Main", out["title"])

	rec, _ = serve(t, routes, http.MethodPost, "/connect", `{"gameId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteRoute(t *testing.T) {
	f := newFixture(t)
	routes := NewHTTPServer(f.ctrl, "").Routes()

	rec, out := serve(t, routes, http.MethodPost, "/actions/execute", `{"type":"key","key":"z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "no target connected")

	f.connect(t)
	rec, out = serve(t, routes, http.MethodPost, "/actions/execute", `{"type":"key","key":"z","duration":0.001}`)
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Equal(t, true, out["success"])

	rec, _ = serve(t, routes, http.MethodPost, "/actions/execute", `{"type":"text"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, routes, http.MethodPost, "/actions/execute", `{"type":"gamepad","key":"A"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestLoopRoutes(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	routes := NewHTTPServer(f.ctrl, "").Routes()

	_, out := serve(t, routes, http.MethodPost, "/bot/start", "")
	assert.Equal(t, "started", out["status"])
	_, out = serve(t, routes, http.MethodPost, "/loop/start", "")
	assert.Equal(t, "already_running", out["status"])

	rec, out := serve(t, routes, http.MethodPost, "/bot/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", out["status"])
}

func TestSnapshotRoute(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	routes := NewHTTPServer(f.ctrl, "").Routes()

	rec, out := serve(t, routes, http.MethodGet, "/actions/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["image"])
	assert.EqualValues(t, 200, out["width"])
}

func TestWindowsAndLaunchRoutes(t *testing.T) {
	f := newFixture(t)
	f.openMain()
	routes := NewHTTPServer(f.ctrl, "").Routes()

	_, out := serve(t, routes, http.MethodGet, "/windows", "")
	windows, ok := out["windows"].([]interface{})
	require.True(t, ok)
	assert.Len(t, windows, 1)

	rec, _ := serve(t, routes, http.MethodPost, "/launch", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, routes, http.MethodPost, "/launch", `{"path":"C:\\Games\\osu!.exe"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{`C:\Games\osu!.exe`}, f.launched)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	routes := NewHTTPServer(f.ctrl, "").Routes()

	rec, out := serve(t, routes, http.MethodOptions, "/connect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
