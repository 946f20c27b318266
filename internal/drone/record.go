// Package drone holds the telemetry snapshot the backend reports for a single drone.
package drone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Record is a point-in-time telemetry snapshot for one drone.
// Optional readings are pointers so that "absent" and "zero" stay distinguishable.
type Record struct {
	DroneID     string     `json:"drone_id"`              // Unique drone identifier
	Battery     *int       `json:"battery,omitempty"`     // Charge level 0-100, nil when unknown
	Temperature *float64   `json:"temperature,omitempty"` // Degrees Celsius, nil when unknown
	Height      int        `json:"height"`                // Height in cm
	FlightTime  int        `json:"flight_time"`           // Flight time in seconds
	WiFiSignal  Signal     `json:"wifi_signal"`           // Signal/noise ratio as reported
	Speed       [3]float64 `json:"speed"`                 // X/Y/Z speed in cm/s
}

// BatteryLevel returns the battery percentage, treating an unknown level as 0.
func (r Record) BatteryLevel() int {
	if r.Battery == nil {
		return 0
	}
	return *r.Battery
}

// UnmarshalJSON accepts any JSON number for the integer readings and rounds it,
// since firmware versions differ in whether they report 80 or 80.0.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Battery    *json.Number `json:"battery"`
		Height     json.Number  `json:"height"`
		FlightTime json.Number  `json:"flight_time"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rec := Record(aux.plain)

	var err error
	if aux.Battery != nil {
		level, convErr := roundNumber(*aux.Battery)
		if convErr != nil {
			return fmt.Errorf("battery: %w", convErr)
		}
		rec.Battery = &level
	}
	if rec.Height, err = roundNumber(aux.Height); err != nil {
		return fmt.Errorf("height: %w", err)
	}
	if rec.FlightTime, err = roundNumber(aux.FlightTime); err != nil {
		return fmt.Errorf("flight_time: %w", err)
	}
	*r = rec
	return nil
}

func roundNumber(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// Signal is the wifi signal reading. Depending on firmware the backend sends it
// either as a number or as a string, and sometimes not at all.
type Signal struct {
	raw string
	set bool
}

// NewSignal builds a Signal from its textual form.
func NewSignal(s string) Signal {
	return Signal{raw: s, set: true}
}

// Valid reports whether a reading was present.
func (s Signal) Valid() bool {
	return s.set && s.raw != ""
}

// String returns the reading as text, or "N/A" when absent.
func (s Signal) String() string {
	if !s.Valid() {
		return "N/A"
	}
	return s.raw
}

// UnmarshalJSON accepts a JSON string, number or null.
func (s *Signal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Signal{}
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = NewSignal(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("wifi_signal: expected string or number, got %s", data)
	}
	*s = NewSignal(n.String())
	return nil
}

// MarshalJSON writes numeric readings back as numbers and everything else as strings.
func (s Signal) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(s.raw, 64); err == nil {
		return []byte(s.raw), nil
	}
	return json.Marshal(s.raw)
}
