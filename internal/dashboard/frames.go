package dashboard

import (
	"sort"

	"github.com/piterpentester/dronemosaic/internal/probe"
	"github.com/piterpentester/dronemosaic/internal/video"
	"github.com/piterpentester/dronemosaic/internal/view"
)

// HandleVideoFrame hands a pushed frame to the drone's video surface. Frames for
// drones without a surface are dropped without notice.
func (c *Controller) HandleVideoFrame(id, frame string, timestamp float64) {
	c.metrics.FrameReceived()

	c.mu.Lock()
	e := c.surfaces[id]
	c.mu.Unlock()
	if e == nil {
		c.metrics.FrameDropped()
		return
	}
	e.surface.Submit(frame, timestamp)
}

// frameDrawn runs on the surface's worker once a frame is on screen.
func (c *Controller) frameDrawn(e *surfaceEntry, r video.DrawResult) {
	if r.Err != nil {
		c.metrics.FrameDropped()
		c.logger.Printf("frame for %s not drawn: %v", r.DroneID, r.Err)
		return
	}
	now := c.now()

	c.mu.Lock()
	if c.surfaces[r.DroneID] != e {
		// The surface was replaced or closed while this frame decoded.
		c.mu.Unlock()
		return
	}
	e.latencyMs = video.Latency(now, r.Timestamp)
	if fps, ok := e.fps.Tick(now); ok {
		e.fpsValue = fps
	}
	e.frames = r.Seq
	latency := e.latencyMs
	c.mu.Unlock()

	c.metrics.ObserveFrameLatency(float64(latency) / 1000)
	c.changed()
}

// Frame returns the last frame drawn on id's surface as JPEG.
func (c *Controller) Frame(id string) ([]byte, error) {
	c.mu.Lock()
	e := c.surfaces[id]
	c.mu.Unlock()
	if e == nil {
		return nil, ErrNoSurface
	}
	return e.surface.Snapshot()
}

// ProbeTargets lists the registry's drones that were connected with an explicit address.
func (c *Controller) ProbeTargets() []probe.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	var targets []probe.Target
	for _, id := range c.order {
		if addr, ok := c.addrs[id]; ok {
			targets = append(targets, probe.Target{DroneID: id, Addr: addr})
		}
	}
	return targets
}

// ApplyProbe records a round of reachability results.
func (c *Controller) ApplyProbe(results []probe.Result) {
	if len(results) == 0 {
		return
	}
	c.mu.Lock()
	for _, r := range results {
		c.links[r.DroneID] = view.Link{Alive: r.Alive, LatencyMs: r.LatencyMs, Loss: r.PacketLoss}
	}
	c.mu.Unlock()

	for _, r := range results {
		c.metrics.SetProbeRTT(r.DroneID, r.LatencyMs)
	}
	c.changed()
}

// StreamIDs returns the ids with open surfaces, sorted.
func (c *Controller) StreamIDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.surfaces))
	for id := range c.surfaces {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}
