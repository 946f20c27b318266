package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/piterpentester/dronemosaic/internal/api"
	"github.com/piterpentester/dronemosaic/internal/dashboard"
	"github.com/piterpentester/dronemosaic/internal/drone"
	"github.com/piterpentester/dronemosaic/internal/video"
	"github.com/piterpentester/dronemosaic/internal/view"
)

// MockController is a mock for the Controller interface
type MockController struct {
	mock.Mock
	onChange func()
}

func (m *MockController) Page() view.Page {
	return m.Called().Get(0).(view.Page)
}

func (m *MockController) OnChange(fn func()) {
	m.onChange = fn
}

func (m *MockController) RequestDroneList() {
	m.Called()
}

func (m *MockController) ConnectDrone(ctx context.Context, id, ip string) error {
	return m.Called(ctx, id, ip).Error(0)
}

func (m *MockController) StartStream(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockController) StopStream(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockController) StartAllStreams(ctx context.Context) []dashboard.Outcome {
	return m.Called(ctx).Get(0).([]dashboard.Outcome)
}

func (m *MockController) StopAllStreams(ctx context.Context) []dashboard.Outcome {
	return m.Called(ctx).Get(0).([]dashboard.Outcome)
}

func (m *MockController) ShowDroneDetails(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockController) CloseDetails() {
	m.Called()
}

func (m *MockController) Frame(id string) ([]byte, error) {
	args := m.Called(id)
	frame, _ := args.Get(0).([]byte)
	return frame, args.Error(1)
}

// MockWebSocketConn is a mock for WebSocket connection behavior
type MockWebSocketConn struct {
	mock.Mock
	// WriteFunc allows custom implementation of the Write method
	WriteFunc func(data []byte) (int, error)
}

func (m *MockWebSocketConn) Write(data []byte) (int, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(data)
	}
	args := m.Called(data)
	return args.Int(0), args.Error(1)
}

func (m *MockWebSocketConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockBackend is a mock for the REST API used by the status subcommand
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ListDrones(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockBackend) ConnectDrone(ctx context.Context, id, ip string) error {
	return m.Called(ctx, id, ip).Error(0)
}

func (m *MockBackend) StartStream(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBackend) StopStream(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBackend) DroneInfo(ctx context.Context, id string) (drone.Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(drone.Record), args.Error(1)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func samplePage() view.Page {
	return view.Render(view.State{
		Connection: view.StatusConnected,
		Drones:     []drone.Record{{DroneID: "tello-1"}},
	})
}

func TestBroadcast(t *testing.T) {
	ctrl := &MockController{}
	srv := newUIServer(ctrl, testLogger())

	// Setup mock WebSocket connections
	mockConn1 := &MockWebSocketConn{}
	mockConn2 := &MockWebSocketConn{}
	srv.clients[mockConn1] = true
	srv.clients[mockConn2] = true

	page := samplePage()
	data, err := json.Marshal(page)
	assert.NoError(t, err)

	// Mock expectations
	mockConn1.On("Write", data).Return(len(data), nil)
	mockConn2.On("Write", data).Return(0, errors.New("write error")).On("Close").Return(nil)

	srv.broadcast(page)

	srv.clientsMu.Lock()
	_, exists1 := srv.clients[mockConn1]
	_, exists2 := srv.clients[mockConn2]
	srv.clientsMu.Unlock()

	assert.True(t, exists1, "mockConn1 should remain registered")
	assert.False(t, exists2, "mockConn2 should be removed after a failed write")

	mockConn1.AssertExpectations(t)
	mockConn2.AssertExpectations(t)
}

func TestBroadcastToMultipleClients(t *testing.T) {
	srv := newUIServer(&MockController{}, testLogger())

	mockConns := make([]*MockWebSocketConn, 5)
	for i := range mockConns {
		mockConns[i] = &MockWebSocketConn{}
		mockConns[i].On("Write", mock.Anything).Return(0, nil)
		srv.clients[mockConns[i]] = true
	}

	srv.broadcast(samplePage())

	assert.Equal(t, len(mockConns), srv.clientCount(), "All clients should remain registered")
	for _, mockConn := range mockConns {
		mockConn.AssertExpectations(t)
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	srv := newUIServer(&MockController{}, testLogger())

	// This should not panic with no clients
	srv.broadcast(samplePage())

	assert.Zero(t, srv.clientCount())
}

func TestBroadcastWithJsonError(t *testing.T) {
	srv := newUIServer(&MockController{}, testLogger())

	mockConn := &MockWebSocketConn{}
	mockConn.WriteFunc = func(data []byte) (int, error) {
		t.Error("Write should not be called when there's a JSON marshal error")
		return 0, nil
	}
	srv.clients[mockConn] = true

	// Replace json.Marshal with a function that always fails
	oldMarshal := jsonMarshal
	jsonMarshal = func(v interface{}) ([]byte, error) {
		return nil, errors.New("forced marshal error")
	}
	defer func() { jsonMarshal = oldMarshal }()

	srv.broadcast(samplePage())

	assert.Equal(t, 1, srv.clientCount(), "Client should remain registered")
}

func TestPumpBroadcastsAfterChange(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("Page").Return(samplePage())
	srv := newUIServer(ctrl, testLogger())
	require.NotNil(t, ctrl.onChange, "server should subscribe to controller changes")

	written := make(chan []byte, 4)
	mockConn := &MockWebSocketConn{WriteFunc: func(data []byte) (int, error) {
		written <- data
		return len(data), nil
	}}
	srv.clients[mockConn] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.pump(ctx, 10*time.Millisecond)

	// Several changes in a row coalesce into at most a couple of pages.
	ctrl.onChange()
	ctrl.onChange()
	ctrl.onChange()

	select {
	case data := <-written:
		var page view.Page
		require.NoError(t, json.Unmarshal(data, &page))
		assert.Equal(t, "Connected", page.Connection.Label)
		require.Len(t, page.Cards, 1)
		assert.Equal(t, "tello-1", page.Cards[0].DroneID)
	case <-time.After(time.Second):
		t.Fatal("no page broadcast after a change")
	}
}

func TestWsHandler(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("Page").Return(samplePage())
	srv := newUIServer(ctrl, testLogger())

	server := httptest.NewServer(srv.routes(nil))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", "http://localhost/")
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}

	// The current page is pushed as soon as the browser connects.
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))
	var page view.Page
	require.NoError(t, json.Unmarshal([]byte(msg), &page))
	assert.Equal(t, "connected", page.Connection.Class)
	assert.Equal(t, 1, srv.clientCount(), "Client should be registered")

	ws.Close()

	assert.Eventually(t, func() bool { return srv.clientCount() == 0 },
		time.Second, 10*time.Millisecond, "Client should be removed after disconnect")
}

func TestGetDashboardHTML(t *testing.T) {
	html := getDashboardHTML()
	assert.Contains(t, strings.ToLower(html), "<!doctype html>", "Should contain DOCTYPE")
	assert.Contains(t, strings.ToLower(html), "<html", "Should contain HTML tag")
	assert.Contains(t, html, "Drone Mosaic Dashboard", "Should contain dashboard title")
	assert.Contains(t, html, "new WebSocket", "Should open the page WebSocket")
	for _, id := range []string{"connection-status", "drone-cards", "video-container", "drone-modal", "notification"} {
		assert.Contains(t, html, `id="`+id+`"`)
	}
}

func TestIndexAndHealthRoutes(t *testing.T) {
	srv := newUIServer(&MockController{}, testLogger())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics"))
	})
	mux := srv.routes(metrics)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/", http.StatusOK, "Drone Mosaic Dashboard"},
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "# metrics"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestMetricsRouteDisabled(t *testing.T) {
	mux := newUIServer(&MockController{}, testLogger()).routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) actionResult {
	t.Helper()
	var res actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestConnectAction(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("ConnectDrone", mock.Anything, "tello-1", "192.168.10.1").Return(nil)
	ctrl.On("ConnectDrone", mock.Anything, "", "").Return(dashboard.ErrEmptyDroneID)
	mux := newUIServer(ctrl, testLogger()).routes(nil)

	rec := httptest.NewRecorder()
	body := `{"drone_id":"tello-1","ip_address":"192.168.10.1"}`
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/connect", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResult(t, rec).OK)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/connect", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/connect", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctrl.AssertExpectations(t)
}

func TestDroneActions(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("StartStream", mock.Anything, "tello-1").Return(nil)
	ctrl.On("StopStream", mock.Anything, "tello-1").Return(&api.APIError{Status: 404, Message: "Drone not found"})
	ctrl.On("StartStream", mock.Anything, "tello-2").Return(dashboard.ErrSuperseded)
	ctrl.On("ShowDroneDetails", mock.Anything, "tello-1").Return(&api.TransportError{Op: "info", Err: errors.New("timeout")})
	ctrl.On("CloseDetails").Return()
	ctrl.On("RequestDroneList").Return()
	mux := newUIServer(ctrl, testLogger()).routes(nil)

	tests := []struct {
		method  string
		path    string
		status  int
		ok      bool
		message string
	}{
		{http.MethodPost, "/actions/drones/tello-1/start_stream", http.StatusOK, true, ""},
		{http.MethodPost, "/actions/drones/tello-1/stop_stream", http.StatusBadGateway, false, "Drone not found"},
		{http.MethodPost, "/actions/drones/tello-2/start_stream", http.StatusConflict, false, dashboard.ErrSuperseded.Error()},
		{http.MethodGet, "/actions/drones/tello-1/details", http.StatusBadGateway, false, ""},
		{http.MethodPost, "/actions/details/close", http.StatusOK, true, ""},
		{http.MethodPost, "/actions/refresh", http.StatusOK, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			res := decodeResult(t, rec)
			assert.Equal(t, tt.ok, res.OK)
			if tt.message != "" {
				assert.Equal(t, tt.message, res.Message)
			}
		})
	}

	ctrl.AssertExpectations(t)
}

func TestFanoutActions(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("StartAllStreams", mock.Anything).Return([]dashboard.Outcome{
		{DroneID: "a"},
		{DroneID: "b", Err: errors.New("boom")},
	})
	ctrl.On("StopAllStreams", mock.Anything).Return([]dashboard.Outcome{})
	mux := newUIServer(ctrl, testLogger()).routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/streams/start_all", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var outcomes []outcomeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcomes))
	assert.Equal(t, []outcomeView{{DroneID: "a", OK: true}, {DroneID: "b", Error: "boom"}}, outcomes)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/streams/stop_all", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	ctrl.AssertExpectations(t)
}

func TestFrameRoute(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	ctrl := &MockController{}
	ctrl.On("Frame", "tello-1").Return(jpeg, nil)
	ctrl.On("Frame", "tello-2").Return(nil, dashboard.ErrNoSurface)
	ctrl.On("Frame", "tello-3").Return(nil, video.ErrNoFrame)
	mux := newUIServer(ctrl, testLogger()).routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames/tello-1?seq=3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpeg, rec.Body.Bytes())

	for _, id := range []string{"tello-2", "tello-3"} {
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}

func intPtr(v int) *int { return &v }

func TestPrintStatus(t *testing.T) {
	temp := 42.5
	backend := &MockBackend{}
	backend.On("ListDrones", mock.Anything).Return([]string{"tello-1", "tello-2"}, nil)
	backend.On("DroneInfo", mock.Anything, "tello-1").Return(drone.Record{
		DroneID:     "tello-1",
		Battery:     intPtr(87),
		Temperature: &temp,
		Height:      120,
		FlightTime:  35,
		WiFiSignal:  drone.NewSignal("90"),
	}, nil)
	backend.On("DroneInfo", mock.Anything, "tello-2").Return(drone.Record{}, &api.TransportError{Op: "info", Err: errors.New("timeout")})

	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), backend, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "BATTERY")
	for _, want := range []string{"tello-1", "Connected", "87%", "42.5°C", "120cm", "35s", "90"} {
		assert.Contains(t, lines[1], want)
	}
	assert.Contains(t, lines[2], "tello-2")
	assert.Contains(t, lines[2], "unavailable (transport)")
	backend.AssertExpectations(t)
}

func TestPrintStatusNoDrones(t *testing.T) {
	backend := &MockBackend{}
	backend.On("ListDrones", mock.Anything).Return([]string{}, nil)

	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), backend, &out))
	assert.Equal(t, view.NoDronesMessage+"\n", out.String())
}

func TestPrintStatusListFailure(t *testing.T) {
	backend := &MockBackend{}
	backend.On("ListDrones", mock.Anything).Return(nil, &api.APIError{Status: 500, Message: "down"})

	err := printStatus(context.Background(), backend, &bytes.Buffer{})
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "down", apiErr.Message)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{backend: "https://drones.example:8443", addr: ":9090", probe: true})
	require.NoError(t, err)

	assert.Equal(t, "https://drones.example:8443", cfg.Backend.URL)
	assert.Equal(t, ":9090", cfg.UI.Addr)
	assert.True(t, cfg.Probe.Enabled)
	channelURL, err := cfg.ChannelURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://drones.example:5000", channelURL)

	_, err = loadConfig(options{backend: "ftp://drones.example"})
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  url: http://10.0.0.5:5000\n  channel_port: 5001\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, validateCommand([]string{"-config", path}, &out))
	assert.Contains(t, out.String(), "config OK")
	assert.Contains(t, out.String(), "ws://10.0.0.5:5001")

	err := validateCommand([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out)
	assert.Error(t, err)
}

func TestDisplayAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", displayAddr(":8080"))
	assert.Equal(t, "0.0.0.0:8080", displayAddr("0.0.0.0:8080"))
}
