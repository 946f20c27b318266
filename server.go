package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/piterpentester/dronemosaic/internal/api"
	"github.com/piterpentester/dronemosaic/internal/dashboard"
	"github.com/piterpentester/dronemosaic/internal/video"
	"github.com/piterpentester/dronemosaic/internal/view"
)

// pageConn is the part of a browser WebSocket connection the broadcaster needs.
// *websocket.Conn satisfies it; tests substitute mocks.
type pageConn interface {
	Write([]byte) (int, error)
	Close() error
}

// Controller is what the web UI drives.
type Controller interface {
	Page() view.Page
	OnChange(func())
	RequestDroneList()
	ConnectDrone(ctx context.Context, id, ip string) error
	StartStream(ctx context.Context, id string) error
	StopStream(ctx context.Context, id string) error
	StartAllStreams(ctx context.Context) []dashboard.Outcome
	StopAllStreams(ctx context.Context) []dashboard.Outcome
	ShowDroneDetails(ctx context.Context, id string) error
	CloseDetails()
	Frame(id string) ([]byte, error)
}

// uiServer pushes rendered pages to every open browser tab and turns browser
// actions into controller calls.
type uiServer struct {
	ctrl   Controller
	logger *log.Logger

	clientsMu sync.Mutex
	clients   map[pageConn]bool

	dirty chan struct{}
}

// newUIServer returns a server that re-renders whenever ctrl reports a change.
func newUIServer(ctrl Controller, logger *log.Logger) *uiServer {
	s := &uiServer{
		ctrl:    ctrl,
		logger:  logger,
		clients: make(map[pageConn]bool),
		dirty:   make(chan struct{}, 1),
	}
	ctrl.OnChange(s.markDirty)
	return s
}

// markDirty schedules a broadcast; repeated calls before the next one coalesce.
func (s *uiServer) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// jsonMarshal is a variable to allow mocking json.Marshal in tests
var jsonMarshal = json.Marshal

// broadcast sends the given page to all connected browsers.
// It handles client disconnections by cleaning up closed connections.
func (s *uiServer) broadcast(page view.Page) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	data, err := jsonMarshal(page)
	if err != nil {
		s.logger.Printf("Error marshaling page: %v", err)
		return
	}
	for c := range s.clients {
		if _, err := c.Write(data); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

// pump re-renders and broadcasts after state changes, at most once per interval.
func (s *uiServer) pump(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}
		s.broadcast(s.ctrl.Page())
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// wsHandler registers a browser, sends it the current page and keeps it
// registered until the browser goes away.
func (s *uiServer) wsHandler(ws *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[ws] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
		ws.Close()
	}()

	if data, err := jsonMarshal(s.ctrl.Page()); err == nil {
		s.clientsMu.Lock()
		_, err = ws.Write(data)
		s.clientsMu.Unlock()
		if err != nil {
			return
		}
	}

	// Browsers never send anything; Receive returns when they disconnect.
	var discard string
	for {
		if err := websocket.Message.Receive(ws, &discard); err != nil {
			return
		}
	}
}

// clientCount returns the number of registered browsers.
func (s *uiServer) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// routes builds the dashboard's HTTP handler.
//
// Parameters:
//   - metrics: Handler mounted at /metrics; nil leaves the endpoint out
//
// Returns:
//   - *http.ServeMux: The page, /ws, action, frame and health routes
func (s *uiServer) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(getDashboardHTML()))
	})
	mux.Handle("/ws", websocket.Handler(s.wsHandler))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("POST /actions/connect", s.handleConnect)
	mux.HandleFunc("POST /actions/refresh", func(w http.ResponseWriter, _ *http.Request) {
		s.ctrl.RequestDroneList()
		writeResult(w, nil)
	})
	mux.HandleFunc("POST /actions/drones/{id}/start_stream", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, s.ctrl.StartStream(detached(r), r.PathValue("id")))
	})
	mux.HandleFunc("POST /actions/drones/{id}/stop_stream", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, s.ctrl.StopStream(detached(r), r.PathValue("id")))
	})
	mux.HandleFunc("/actions/drones/{id}/details", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, s.ctrl.ShowDroneDetails(detached(r), r.PathValue("id")))
	})
	mux.HandleFunc("POST /actions/details/close", func(w http.ResponseWriter, _ *http.Request) {
		s.ctrl.CloseDetails()
		writeResult(w, nil)
	})
	mux.HandleFunc("POST /actions/streams/start_all", func(w http.ResponseWriter, r *http.Request) {
		writeOutcomes(w, s.ctrl.StartAllStreams(detached(r)))
	})
	mux.HandleFunc("POST /actions/streams/stop_all", func(w http.ResponseWriter, r *http.Request) {
		writeOutcomes(w, s.ctrl.StopAllStreams(detached(r)))
	})
	mux.HandleFunc("GET /frames/{id}", s.handleFrame)
	return mux
}

// detached keeps backend calls running when the browser abandons the request.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type connectAction struct {
	DroneID   string `json:"drone_id"`
	IPAddress string `json:"ip_address"`
}

// handleConnect decodes the connect form and forwards it to the controller.
func (s *uiServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var a connectAction
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeResult(w, s.ctrl.ConnectDrone(detached(r), a.DroneID, a.IPAddress))
}

// handleFrame serves the last frame drawn for a drone as JPEG.
func (s *uiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.ctrl.Frame(r.PathValue("id"))
	switch {
	case errors.Is(err, dashboard.ErrNoSurface), errors.Is(err, video.ErrNoFrame):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

type actionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// writeResult maps a controller error onto an HTTP status and JSON body.
func writeResult(w http.ResponseWriter, err error) {
	res := actionResult{OK: err == nil}
	status := http.StatusOK
	if err != nil {
		res.Message = err.Error()
		var apiErr *api.APIError
		switch {
		case errors.Is(err, dashboard.ErrEmptyDroneID):
			status = http.StatusBadRequest
		case errors.Is(err, dashboard.ErrSuperseded):
			status = http.StatusConflict
		case errors.As(err, &apiErr):
			status = http.StatusBadGateway
			res.Message = apiErr.Message
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, res)
}

type outcomeView struct {
	DroneID string `json:"drone_id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// writeOutcomes reports a fan-out as one JSON entry per drone.
func writeOutcomes(w http.ResponseWriter, outcomes []dashboard.Outcome) {
	out := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		v := outcomeView{DroneID: o.DroneID, OK: o.Err == nil}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
