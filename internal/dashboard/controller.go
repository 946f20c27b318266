// Package dashboard is the dashboard client: it coordinates the push channel,
// the backend REST API and the rendered view, and is the only owner of the
// drone registry and video surfaces.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/piterpentester/dronemosaic/internal/channel"
	"github.com/piterpentester/dronemosaic/internal/drone"
	"github.com/piterpentester/dronemosaic/internal/metrics"
	"github.com/piterpentester/dronemosaic/internal/notify"
	"github.com/piterpentester/dronemosaic/internal/video"
	"github.com/piterpentester/dronemosaic/internal/view"
)

var (
	// ErrEmptyDroneID is returned when a drone id is required but blank.
	ErrEmptyDroneID = errors.New("drone id is required")
	// ErrSuperseded is returned when a stream response arrived after a newer
	// start/stop call for the same drone and was therefore not applied.
	ErrSuperseded = errors.New("superseded by a newer stream request")
	// ErrNoSurface is returned when a drone has no open video surface.
	ErrNoSurface = errors.New("no video surface for drone")
)

// API is the subset of the backend REST API the dashboard calls.
type API interface {
	ConnectDrone(ctx context.Context, id, ip string) error
	StartStream(ctx context.Context, id string) error
	StopStream(ctx context.Context, id string) error
	DroneInfo(ctx context.Context, id string) (drone.Record, error)
}

// Channel is the open push channel.
type Channel interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Runner is a push channel that can be served until its context ends.
type Runner interface {
	Channel
	RunWithReconnect(ctx context.Context, delay time.Duration) error
}

// DialFunc prepares a push channel that reports to h.
type DialFunc func(url string, h channel.Handler) (Runner, error)

// Settings are the tunables taken from configuration.
type Settings struct {
	VideoWidth     int
	VideoHeight    int
	FanoutLimit    int
	ReconnectDelay time.Duration
	DismissAfter   time.Duration
}

type surfaceEntry struct {
	surface   *video.Surface
	fps       video.FPSCounter
	fpsValue  int
	latencyMs int
	frames    uint64
}

// Controller is the dashboard client.
type Controller struct {
	api      API
	dial     DialFunc
	settings Settings
	metrics  *metrics.Metrics
	logger   *log.Logger
	notes    *notify.Notifier
	now      func() time.Time

	mu       sync.Mutex
	ch       Channel
	status   view.ConnectionStatus
	order    []string
	drones   []drone.Record
	surfaces map[string]*surfaceEntry
	streams  []string
	seq      map[string]uint64
	addrs    map[string]string
	links    map[string]view.Link
	details  *drone.Record
	form     view.Form

	listenersMu sync.Mutex
	listeners   []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithDialer replaces the Socket.IO channel constructor.
func WithDialer(d DialFunc) Option {
	return func(c *Controller) { c.dial = d }
}

// WithClock replaces time.Now for latency and FPS computation.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithNotifyOptions passes options through to the notifier.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(c *Controller) {
		c.notes = notify.New(c.settings.DismissAfter, c.changed, opts...)
	}
}

func defaultDial(logger *log.Logger) DialFunc {
	return func(url string, h channel.Handler) (Runner, error) {
		return channel.New(url, h, channel.WithLogger(logger))
	}
}

// New returns a controller that issues REST calls through api.
func New(api API, settings Settings, opts ...Option) *Controller {
	if settings.VideoWidth <= 0 {
		settings.VideoWidth = 640
	}
	if settings.VideoHeight <= 0 {
		settings.VideoHeight = 480
	}
	if settings.FanoutLimit <= 0 {
		settings.FanoutLimit = 4
	}
	if settings.DismissAfter <= 0 {
		settings.DismissAfter = 5 * time.Second
	}
	c := &Controller{
		api:      api,
		settings: settings,
		logger:   log.New(os.Stderr, "[dashboard] ", log.LstdFlags|log.Lmicroseconds),
		now:      time.Now,
		status:   view.StatusDisconnected,
		surfaces: make(map[string]*surfaceEntry),
		seq:      make(map[string]uint64),
		addrs:    make(map[string]string),
		links:    make(map[string]view.Link),
	}
	c.notes = notify.New(settings.DismissAfter, c.changed)
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = defaultDial(c.logger)
	}
	return c
}

// OnChange registers fn to be called after every visible state change.
func (c *Controller) OnChange(fn func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) changed() {
	c.listenersMu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Connect opens the push channel at url and serves it until ctx is done. With a
// zero reconnect delay a lost or failed channel ends the call with an error.
func (c *Controller) Connect(ctx context.Context, url string) error {
	c.setStatus(view.StatusConnecting)

	r, err := c.dial(url, c)
	if err != nil {
		c.setStatus(view.StatusDisconnected)
		c.ShowNotification("Invalid push channel address", notify.KindError)
		return err
	}
	c.mu.Lock()
	c.ch = r
	c.mu.Unlock()

	err = r.RunWithReconnect(ctx, c.settings.ReconnectDelay)
	c.setStatus(view.StatusDisconnected)
	if err != nil {
		c.logger.Printf("push channel %s: %v", url, err)
		c.ShowNotification("Lost connection to the drone backend", notify.KindError)
	}
	return err
}

func (c *Controller) setStatus(s view.ConnectionStatus) {
	c.mu.Lock()
	same := c.status == s
	c.status = s
	c.mu.Unlock()
	if !same {
		c.changed()
	}
}

// Status returns the push channel indicator state.
func (c *Controller) Status() view.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnConnect implements channel.Handler.
func (c *Controller) OnConnect() {
	c.logger.Printf("push channel connected")
	c.setStatus(view.StatusConnected)
	c.RequestDroneList()
}

// OnRedial implements channel.Redialer.
func (c *Controller) OnRedial() {
	c.setStatus(view.StatusConnecting)
}

// OnDisconnect implements channel.Handler.
func (c *Controller) OnDisconnect(err error) {
	c.logger.Printf("push channel disconnected: %v", err)
	c.setStatus(view.StatusDisconnected)
}

type droneConnectedEvent struct {
	DroneID string `json:"drone_id"`
}

type videoFrameEvent struct {
	DroneID   string  `json:"drone_id"`
	Frame     string  `json:"frame"`
	Timestamp float64 `json:"timestamp"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// OnEvent implements channel.Handler.
func (c *Controller) OnEvent(name string, payload json.RawMessage) {
	switch name {
	case "drone_connected":
		var ev droneConnectedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Printf("bad drone_connected payload: %v", err)
		}
		c.logger.Printf("drone connected: %s", ev.DroneID)
		c.RequestDroneList()
	case "drone_list":
		var raw []json.RawMessage
		if err := json.Unmarshal(payload, &raw); err != nil {
			c.logger.Printf("bad drone_list payload: %v", err)
			return
		}
		// One unreadable record must not hide the rest of the fleet.
		list := make([]drone.Record, 0, len(raw))
		for i, item := range raw {
			var d drone.Record
			if err := json.Unmarshal(item, &d); err != nil {
				c.logger.Printf("drone_list entry %d skipped: %v", i, err)
				continue
			}
			list = append(list, d)
		}
		c.UpdateDroneList(list)
	case "video_frame":
		var ev videoFrameEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.metrics.FrameDropped()
			c.logger.Printf("bad video_frame payload: %v", err)
			return
		}
		c.HandleVideoFrame(ev.DroneID, ev.Frame, ev.Timestamp)
	case "error":
		var ev errorEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.Message == "" {
			ev.Message = string(payload)
		}
		c.logger.Printf("socket error: %s", ev.Message)
		c.ShowNotification("An error occurred: "+ev.Message, notify.KindError)
	}
}

// RequestDroneList asks the backend to push a fresh drone list. It does
// nothing while the channel is closed.
func (c *Controller) RequestDroneList() {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil || !ch.Connected() {
		return
	}
	if err := ch.Emit("request_drone_list", nil); err != nil {
		c.logger.Printf("request_drone_list: %v", err)
	}
}

// UpdateDroneList replaces the registry with list. Every entry gets a card, in
// list order; stream operations address each distinct id once.
func (c *Controller) UpdateDroneList(list []drone.Record) {
	c.mu.Lock()
	c.drones = append([]drone.Record(nil), list...)
	c.order = make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, d := range list {
		if !seen[d.DroneID] {
			seen[d.DroneID] = true
			c.order = append(c.order, d.DroneID)
		}
	}
	n := len(c.order)
	c.mu.Unlock()

	c.metrics.SetDronesKnown(n)
	c.changed()
}

// DroneIDs returns the registry's ids in list order.
func (c *Controller) DroneIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// ShowNotification replaces the visible notification.
func (c *Controller) ShowNotification(message string, kind notify.Kind) {
	note := c.notes.Show(message, kind)
	c.metrics.Notification(string(note.Kind))
}

// State snapshots everything the renderer needs.
func (c *Controller) State() view.State {
	c.mu.Lock()
	s := view.State{
		Connection: c.status,
		Drones:     append([]drone.Record(nil), c.drones...),
		Streams:    make([]view.Stream, 0, len(c.streams)),
		Links:      make(map[string]view.Link, len(c.links)),
		Form:       c.form,
	}
	for _, id := range c.streams {
		e := c.surfaces[id]
		s.Streams = append(s.Streams, view.Stream{
			DroneID:   id,
			FPS:       e.fpsValue,
			LatencyMs: e.latencyMs,
			Frames:    e.frames,
		})
	}
	for id, l := range c.links {
		s.Links[id] = l
	}
	if c.details != nil {
		d := *c.details
		s.Details = &d
	}
	c.mu.Unlock()

	if n, ok := c.notes.Current(); ok {
		s.Notification = &n
	}
	return s
}

// Page renders the current state.
func (c *Controller) Page() view.Page {
	return view.Render(c.State())
}

// Close releases every video surface and clears the notification.
func (c *Controller) Close() {
	c.mu.Lock()
	entries := make([]*surfaceEntry, 0, len(c.surfaces))
	for _, e := range c.surfaces {
		entries = append(entries, e)
	}
	c.surfaces = make(map[string]*surfaceEntry)
	c.streams = nil
	c.mu.Unlock()

	for _, e := range entries {
		e.surface.Close()
	}
	c.metrics.SetSurfacesActive(0)
	c.notes.Dismiss()
}
