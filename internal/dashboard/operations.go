package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/piterpentester/dronemosaic/internal/api"
	"github.com/piterpentester/dronemosaic/internal/notify"
	"github.com/piterpentester/dronemosaic/internal/video"
	"github.com/piterpentester/dronemosaic/internal/view"
)

// Outcome is the result of one drone's call in a fan-out.
type Outcome struct {
	DroneID string
	Err     error
}

// failureMessage returns the backend's message for application errors and
// generic for everything else.
func failureMessage(err error, generic string) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return generic
}

// ConnectDrone asks the backend to connect drone id at the optional ip. A blank
// id is rejected before any request is made. On success the connect form is
// cleared and a fresh drone list is requested.
func (c *Controller) ConnectDrone(ctx context.Context, id, ip string) error {
	id, ip = strings.TrimSpace(id), strings.TrimSpace(ip)

	c.mu.Lock()
	c.form = view.Form{DroneID: id, DroneIP: ip}
	c.mu.Unlock()

	if id == "" {
		c.ShowNotification("Please enter a drone ID", notify.KindError)
		return ErrEmptyDroneID
	}

	err := c.api.ConnectDrone(ctx, id, ip)
	c.metrics.APICall("connect", api.Outcome(err))
	if err != nil {
		c.logger.Printf("connect drone %s: %v", id, err)
		c.ShowNotification(failureMessage(err, "Failed to connect drone"), notify.KindError)
		return err
	}

	c.mu.Lock()
	c.form = view.Form{}
	if ip != "" {
		c.addrs[id] = ip
	} else {
		delete(c.addrs, id)
		delete(c.links, id)
	}
	c.mu.Unlock()

	c.ShowNotification(fmt.Sprintf("Drone %s connected", id), notify.KindSuccess)
	c.RequestDroneList()
	return nil
}

// nextToken issues a new stream request token for id, invalidating older ones.
func (c *Controller) nextToken(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq[id]++
	return c.seq[id]
}

func (c *Controller) isCurrent(id string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq[id] == token
}

// StartStream asks the backend to start streaming id and opens its video surface.
// The surface is keyed by id alone, so it does not require id to be in the registry.
func (c *Controller) StartStream(ctx context.Context, id string) error {
	return c.streamCall(ctx, id, true)
}

// StopStream asks the backend to stop streaming id and closes its video surface.
func (c *Controller) StopStream(ctx context.Context, id string) error {
	return c.streamCall(ctx, id, false)
}

func (c *Controller) streamCall(ctx context.Context, id string, start bool) error {
	if id == "" {
		return ErrEmptyDroneID
	}
	op, call, verb := "stop_stream", c.api.StopStream, "stop"
	if start {
		op, call, verb = "start_stream", c.api.StartStream, "start"
	}

	token := c.nextToken(id)
	err := call(ctx, id)
	c.metrics.APICall(op, api.Outcome(err))

	if !c.isCurrent(id, token) {
		c.metrics.StaleResponse()
		c.logger.Printf("%s %s: response superseded (err=%v)", op, id, err)
		if err != nil {
			return err
		}
		return ErrSuperseded
	}

	if err != nil {
		c.logger.Printf("%s %s: %v", op, id, err)
		c.ShowNotification(failureMessage(err, fmt.Sprintf("Failed to %s stream", verb)), notify.KindError)
		return err
	}

	if start {
		c.openSurface(id)
		c.ShowNotification(fmt.Sprintf("Started stream for %s", id), notify.KindSuccess)
	} else {
		c.closeSurface(id)
		c.ShowNotification(fmt.Sprintf("Stopped stream for %s", id), notify.KindSuccess)
	}
	return nil
}

// StartAllStreams starts every known drone's stream, at most FanoutLimit at a time.
func (c *Controller) StartAllStreams(ctx context.Context) []Outcome {
	return c.fanout(ctx, c.StartStream)
}

// StopAllStreams stops every known drone's stream, at most FanoutLimit at a time.
func (c *Controller) StopAllStreams(ctx context.Context) []Outcome {
	return c.fanout(ctx, c.StopStream)
}

func (c *Controller) fanout(ctx context.Context, fn func(context.Context, string) error) []Outcome {
	ids := c.DroneIDs()
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(c.settings.FanoutLimit)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = Outcome{DroneID: id, Err: fn(ctx, id)}
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		c.logger.Printf("fan-out over %d drones: %d failed", len(ids), failed)
	}
	return outcomes
}

// ShowDroneDetails fetches id's full telemetry and opens the details modal.
func (c *Controller) ShowDroneDetails(ctx context.Context, id string) error {
	rec, err := c.api.DroneInfo(ctx, id)
	c.metrics.APICall("info", api.Outcome(err))
	if err != nil {
		c.logger.Printf("drone info %s: %v", id, err)
		c.ShowNotification("Failed to fetch drone details", notify.KindError)
		return err
	}
	if rec.DroneID == "" {
		rec.DroneID = id
	}

	c.mu.Lock()
	c.details = &rec
	c.mu.Unlock()
	c.changed()
	return nil
}

// CloseDetails closes the details modal.
func (c *Controller) CloseDetails() {
	c.mu.Lock()
	open := c.details != nil
	c.details = nil
	c.mu.Unlock()
	if open {
		c.changed()
	}
}

func (c *Controller) openSurface(id string) {
	e := &surfaceEntry{}
	e.surface = video.NewSurface(id, c.settings.VideoWidth, c.settings.VideoHeight,
		func(r video.DrawResult) { c.frameDrawn(e, r) })

	c.mu.Lock()
	old := c.surfaces[id]
	c.surfaces[id] = e
	c.streams = appendUnique(removeID(c.streams, id), id)
	n := len(c.surfaces)
	c.mu.Unlock()

	if old != nil {
		old.surface.Close()
	}
	c.metrics.SetSurfacesActive(n)
	c.changed()
}

func (c *Controller) closeSurface(id string) {
	c.mu.Lock()
	old := c.surfaces[id]
	delete(c.surfaces, id)
	c.streams = removeID(c.streams, id)
	n := len(c.surfaces)
	c.mu.Unlock()

	if old != nil {
		old.surface.Close()
	}
	c.metrics.SetSurfacesActive(n)
	c.changed()
}

// Streaming reports whether id has an open video surface.
func (c *Controller) Streaming(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.surfaces[id]
	return ok
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
