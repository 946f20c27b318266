// Package main contains the web interface components for the drone dashboard.
// It serves the HTML, CSS, and JavaScript for the real-time monitoring interface.
package main

import _ "embed"

// dashboardHTML contains the embedded HTML, CSS, and JavaScript for the dashboard.
// It's embedded at compile time using the go:embed directive.
//
// The page only draws what the server renders: it receives complete pages over
// the /ws WebSocket and posts operator actions back to /actions/...
// - Green battery: more than 50% charge
// - Orange battery: more than 20% charge
// - Red battery: 20% or less, or unknown
//
//go:embed dashboard.html
var dashboardHTML string

// getDashboardHTML returns the embedded HTML content for the dashboard.
//
// Returns:
//   - string: The complete HTML, CSS, and JavaScript for the dashboard
func getDashboardHTML() string {
	return dashboardHTML
}
