package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piterpentester/dronemosaic/internal/drone"
	"github.com/piterpentester/dronemosaic/internal/notify"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestEmptyListRendersPlaceholder(t *testing.T) {
	p := Render(State{Connection: StatusConnected})
	assert.Empty(t, p.Cards)
	assert.Equal(t, NoDronesMessage, p.Placeholder)
	assert.Equal(t, Indicator{Class: "connected", Label: "Connected"}, p.Connection)
}

func TestCardCountMatchesList(t *testing.T) {
	drones := []drone.Record{{DroneID: "A"}, {DroneID: "B"}, {DroneID: "C"}}
	p := Render(State{Drones: drones})
	require.Len(t, p.Cards, 3)
	assert.Empty(t, p.Placeholder)
	for i, c := range p.Cards {
		assert.Equal(t, drones[i].DroneID, c.DroneID)
		assert.Equal(t, "drone-"+drones[i].DroneID, c.ElementID)
	}
}

func TestHealthyBatteryCard(t *testing.T) {
	p := Render(State{Drones: []drone.Record{{DroneID: "A", Battery: intPtr(80)}}})
	require.Len(t, p.Cards, 1)
	c := p.Cards[0]
	assert.Equal(t, "80%", c.Battery)
	assert.Equal(t, BatteryHealthy, c.BatteryColor)
	assert.Equal(t, "connected", c.Status)
	assert.Equal(t, "N/A", c.Temperature)
	assert.Equal(t, "N/A", c.WiFiSignal)
	assert.Equal(t, "0cm", c.Height)
	assert.Equal(t, "0s", c.FlightTime)
}

func TestBatteryColorBands(t *testing.T) {
	assert.Equal(t, BatteryHealthy, BatteryColor(51))
	assert.Equal(t, BatteryLow, BatteryColor(50))
	assert.Equal(t, BatteryLow, BatteryColor(21))
	assert.Equal(t, BatteryEmpty, BatteryColor(20))
	assert.Equal(t, BatteryEmpty, BatteryColor(0))
}

func TestMissingBatteryIsErrorState(t *testing.T) {
	c := RenderCard(drone.Record{DroneID: "A"}, false)
	assert.Equal(t, "error", c.Status)
	assert.Equal(t, "0%", c.Battery)
	assert.Equal(t, BatteryEmpty, c.BatteryColor)

	c = RenderCard(drone.Record{DroneID: "A", Battery: intPtr(0)}, false)
	assert.Equal(t, "error", c.Status)
}

func TestStreamingOverridesStatus(t *testing.T) {
	s := State{
		Drones:  []drone.Record{{DroneID: "A", Battery: intPtr(30)}, {DroneID: "B", Battery: intPtr(90)}},
		Streams: []Stream{{DroneID: "A", FPS: 29, LatencyMs: 120, Frames: 7}},
	}
	p := Render(s)
	assert.Equal(t, "streaming", p.Cards[0].Status)
	assert.Equal(t, "Streaming", p.Cards[0].StatusLabel)
	assert.Equal(t, "connected", p.Cards[1].Status)

	require.Len(t, p.Videos, 1)
	v := p.Videos[0]
	assert.Equal(t, "video-A", v.ElementID)
	assert.Equal(t, "29 FPS", v.FPS)
	assert.Equal(t, "120ms", v.Latency)
	assert.Equal(t, "/frames/A?seq=7", v.FrameURL)
}

func TestStreamWithoutRegistryEntryStillRenders(t *testing.T) {
	p := Render(State{Streams: []Stream{{DroneID: "ghost"}}})
	assert.Equal(t, NoDronesMessage, p.Placeholder)
	require.Len(t, p.Videos, 1)
	assert.Equal(t, "0 FPS", p.Videos[0].FPS)
	assert.Equal(t, "0ms", p.Videos[0].Latency)
}

func TestCardTelemetryFormatting(t *testing.T) {
	d := drone.Record{
		DroneID:     "A",
		Battery:     intPtr(15),
		Temperature: floatPtr(41.5),
		Height:      120,
		FlightTime:  42,
		WiFiSignal:  drone.NewSignal("90"),
	}
	c := RenderCard(d, false)
	assert.Equal(t, "41.5°C", c.Temperature)
	assert.Equal(t, "120cm", c.Height)
	assert.Equal(t, "42s", c.FlightTime)
	assert.Equal(t, "90", c.WiFiSignal)
	assert.Equal(t, BatteryEmpty, c.BatteryColor)
}

func TestLinkShownOnCard(t *testing.T) {
	s := State{
		Drones: []drone.Record{{DroneID: "A", Battery: intPtr(70)}, {DroneID: "B", Battery: intPtr(70)}},
		Links: map[string]Link{
			"A": {Alive: true, LatencyMs: 12, Loss: 25},
			"B": {Alive: false},
		},
	}
	p := Render(s)
	assert.Equal(t, "12ms, 25% loss", p.Cards[0].Link)
	assert.Equal(t, "unreachable", p.Cards[1].Link)
}

func TestDetailsModal(t *testing.T) {
	d := drone.Record{
		DroneID:     "A",
		Battery:     intPtr(64),
		Temperature: floatPtr(38),
		Height:      80,
		FlightTime:  12,
		WiFiSignal:  drone.NewSignal("77"),
		Speed:       [3]float64{1, -2, 0.5},
	}
	p := Render(State{Details: &d})
	require.NotNil(t, p.Modal)
	assert.Equal(t, "Drone details: A", p.Modal.Title)
	assert.Contains(t, p.Modal.Rows, ModalRow{Label: "Battery", Value: "64%"})
	assert.Contains(t, p.Modal.Rows, ModalRow{Label: "Temperature", Value: "38°C"})
	assert.Contains(t, p.Modal.Rows, ModalRow{Label: "Speed (X/Y/Z)", Value: "1/-2/0.5 cm/s"})
}

func TestNotificationView(t *testing.T) {
	n := notify.Notification{ID: "id", Message: "boom", Kind: notify.KindError, Phase: notify.PhaseVisible}
	p := Render(State{Notification: &n})
	require.NotNil(t, p.Notification)
	assert.Equal(t, "#e74c3c", p.Notification.Color)
	assert.Equal(t, "visible", p.Notification.Phase)
}

func TestConnectionIndicator(t *testing.T) {
	assert.Equal(t, "Connecting...", ConnectionIndicator(StatusConnecting).Label)
	assert.Equal(t, "disconnected", ConnectionIndicator("").Class)
}
