// Package view maps the dashboard's state to render instructions. It performs no
// I/O, so every rule about what the operator sees is testable without a browser.
package view

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/piterpentester/dronemosaic/internal/drone"
	"github.com/piterpentester/dronemosaic/internal/notify"
)

// ConnectionStatus is the push channel indicator state.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// NoDronesMessage is shown in place of the card grid when the registry is empty.
const NoDronesMessage = "No drones connected"

// Battery colors by charge band.
const (
	BatteryHealthy = "#27ae60"
	BatteryLow     = "#f39c12"
	BatteryEmpty   = "#e74c3c"
)

// State is everything the renderer needs, snapshotted by the controller.
type State struct {
	Connection   ConnectionStatus
	Drones       []drone.Record
	Streams      []Stream
	Links        map[string]Link
	Notification *notify.Notification
	Details      *drone.Record
	Form         Form
}

// Stream is the display state of one open video surface.
type Stream struct {
	DroneID   string
	FPS       int
	LatencyMs int
	Frames    uint64
}

// Link is the last reachability probe result for a drone.
type Link struct {
	Alive     bool
	LatencyMs int
	Loss      float64
}

// Form holds the connect form's input values.
type Form struct {
	DroneID string `json:"drone_id"`
	DroneIP string `json:"drone_ip"`
}

// Page is the complete render instruction pushed to every browser tab.
type Page struct {
	Connection   Indicator         `json:"connection"`
	Cards        []Card            `json:"cards"`
	Placeholder  string            `json:"placeholder,omitempty"`
	Videos       []VideoPanel      `json:"videos"`
	Notification *NotificationView `json:"notification,omitempty"`
	Modal        *Modal            `json:"modal,omitempty"`
	Form         Form              `json:"form"`
}

// Indicator is the connection badge: CSS class and label.
type Indicator struct {
	Class string `json:"class"`
	Label string `json:"label"`
}

// Card is one drone's summary tile with every value already formatted.
type Card struct {
	ElementID    string `json:"element_id"`
	DroneID      string `json:"drone_id"`
	Status       string `json:"status"`
	StatusLabel  string `json:"status_label"`
	Battery      string `json:"battery"`
	BatteryColor string `json:"battery_color"`
	Temperature  string `json:"temperature"`
	Height       string `json:"height"`
	FlightTime   string `json:"flight_time"`
	WiFiSignal   string `json:"wifi_signal"`
	Link         string `json:"link,omitempty"`
}

// VideoPanel is the overlay of one video surface and the URL of its last frame.
type VideoPanel struct {
	ElementID string `json:"element_id"`
	DroneID   string `json:"drone_id"`
	FPS       string `json:"fps"`
	Latency   string `json:"latency"`
	Frames    uint64 `json:"frames"`
	FrameURL  string `json:"frame_url"`
}

// NotificationView is the visible notification with its color and animation phase.
type NotificationView struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Color   string `json:"color"`
	Phase   string `json:"phase"`
}

// Modal is the drone details dialog.
type Modal struct {
	Title string     `json:"title"`
	Rows  []ModalRow `json:"rows"`
}

// ModalRow is one labelled line of the details dialog.
type ModalRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Render builds the page for s.
func Render(s State) Page {
	p := Page{
		Connection: ConnectionIndicator(s.Connection),
		Cards:      make([]Card, 0, len(s.Drones)),
		Videos:     make([]VideoPanel, 0, len(s.Streams)),
		Form:       s.Form,
	}

	streaming := make(map[string]bool, len(s.Streams))
	for _, st := range s.Streams {
		streaming[st.DroneID] = true
		p.Videos = append(p.Videos, RenderVideo(st))
	}

	for _, d := range s.Drones {
		card := RenderCard(d, streaming[d.DroneID])
		if l, ok := s.Links[d.DroneID]; ok {
			card.Link = LinkText(l)
		}
		p.Cards = append(p.Cards, card)
	}
	if len(s.Drones) == 0 {
		p.Placeholder = NoDronesMessage
	}

	if n := s.Notification; n != nil {
		p.Notification = &NotificationView{
			ID:      n.ID,
			Message: n.Message,
			Kind:    string(n.Kind),
			Color:   n.Kind.Color(),
			Phase:   string(n.Phase),
		}
	}
	if s.Details != nil {
		m := RenderDetails(*s.Details)
		p.Modal = &m
	}
	return p
}

// ConnectionIndicator returns the class and label for the channel status.
func ConnectionIndicator(status ConnectionStatus) Indicator {
	switch status {
	case StatusConnected:
		return Indicator{Class: string(StatusConnected), Label: "Connected"}
	case StatusConnecting:
		return Indicator{Class: string(StatusConnecting), Label: "Connecting..."}
	default:
		return Indicator{Class: string(StatusDisconnected), Label: "Disconnected"}
	}
}

// BatteryColor picks the color band for a charge level.
func BatteryColor(level int) string {
	switch {
	case level > 50:
		return BatteryHealthy
	case level > 20:
		return BatteryLow
	default:
		return BatteryEmpty
	}
}

// RenderCard renders one drone card. A drone reporting no (or zero) battery is
// shown in the error state.
func RenderCard(d drone.Record, streaming bool) Card {
	level := d.BatteryLevel()
	c := Card{
		ElementID:    "drone-" + d.DroneID,
		DroneID:      d.DroneID,
		Status:       "connected",
		StatusLabel:  "Connected",
		Battery:      fmt.Sprintf("%d%%", level),
		BatteryColor: BatteryColor(level),
		Temperature:  "N/A",
		Height:       fmt.Sprintf("%dcm", d.Height),
		FlightTime:   fmt.Sprintf("%ds", d.FlightTime),
		WiFiSignal:   d.WiFiSignal.String(),
	}
	if level == 0 {
		c.Status, c.StatusLabel = "error", "Error"
	}
	if streaming {
		c.Status, c.StatusLabel = "streaming", "Streaming"
	}
	if d.Temperature != nil && *d.Temperature != 0 {
		c.Temperature = formatFloat(*d.Temperature) + "°C"
	}
	return c
}

// RenderVideo renders the overlay of one video surface.
func RenderVideo(st Stream) VideoPanel {
	return VideoPanel{
		ElementID: "video-" + st.DroneID,
		DroneID:   st.DroneID,
		FPS:       fmt.Sprintf("%d FPS", st.FPS),
		Latency:   fmt.Sprintf("%dms", st.LatencyMs),
		Frames:    st.Frames,
		FrameURL:  fmt.Sprintf("/frames/%s?seq=%d", url.PathEscape(st.DroneID), st.Frames),
	}
}

// RenderDetails renders the details modal for a full telemetry snapshot.
func RenderDetails(d drone.Record) Modal {
	temp := "N/A"
	if d.Temperature != nil {
		temp = formatFloat(*d.Temperature) + "°C"
	}
	battery := "N/A"
	if d.Battery != nil {
		battery = fmt.Sprintf("%d%%", *d.Battery)
	}
	return Modal{
		Title: "Drone details: " + d.DroneID,
		Rows: []ModalRow{
			{Label: "Battery", Value: battery},
			{Label: "Temperature", Value: temp},
			{Label: "Height", Value: fmt.Sprintf("%dcm", d.Height)},
			{Label: "Flight time", Value: fmt.Sprintf("%d seconds", d.FlightTime)},
			{Label: "WiFi signal", Value: d.WiFiSignal.String()},
			{Label: "Speed (X/Y/Z)", Value: fmt.Sprintf("%s/%s/%s cm/s",
				formatFloat(d.Speed[0]), formatFloat(d.Speed[1]), formatFloat(d.Speed[2]))},
		},
	}
}

// LinkText summarizes a probe result for the card.
func LinkText(l Link) string {
	if !l.Alive {
		return "unreachable"
	}
	return fmt.Sprintf("%dms, %.0f%% loss", l.LatencyMs, l.Loss)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
