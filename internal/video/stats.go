package video

import (
	"math"
	"time"
)

// FPSCounter estimates frames per second over windows of at least one second.
type FPSCounter struct {
	frames      int
	windowStart time.Time
}

// Tick records one drawn frame at now. When the current window has lasted at
// least a second it returns the rounded rate for that window and starts a new one;
// otherwise ok is false.
func (c *FPSCounter) Tick(now time.Time) (fps int, ok bool) {
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.frames++

	elapsed := now.Sub(c.windowStart)
	if elapsed < time.Second {
		return 0, false
	}
	fps = int(math.Round(float64(c.frames) / elapsed.Seconds()))
	c.frames = 0
	c.windowStart = now
	return fps, true
}

// Frames returns the frames counted in the open window.
func (c *FPSCounter) Frames() int {
	return c.frames
}

// Latency returns now minus a unix-seconds timestamp, rounded to the nearest millisecond.
func Latency(now time.Time, timestamp float64) int {
	nowMs := float64(now.UnixMicro()) / 1e3
	return int(math.Round(nowMs - timestamp*1e3))
}
