// Package video owns the per-drone drawing targets and the frame statistics
// shown over them.
package video

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"golang.org/x/image/draw"
)

// ErrNoFrame is returned by Snapshot before the first frame was drawn.
var ErrNoFrame = errors.New("no frame drawn yet")

// DrawResult reports the completion of one submitted frame.
type DrawResult struct {
	DroneID   string
	Timestamp float64 // capture time, unix seconds
	Seq       uint64  // frames drawn on the surface so far
	Err       error
}

type frameJob struct {
	payload   string
	timestamp float64
}

// Surface is the drawable target of one drone's live stream. Frames are decoded
// and drawn on the surface's own goroutine; if frames arrive faster than they
// decode, only the newest undecoded frame is kept.
type Surface struct {
	droneID string
	onDrawn func(DrawResult)

	submitMu sync.Mutex
	pending  chan frameJob
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mu     sync.Mutex
	canvas *image.RGBA
	drawn  uint64
}

// NewSurface creates a width x height surface and starts its draw worker.
// onDrawn may be nil.
func NewSurface(droneID string, width, height int, onDrawn func(DrawResult)) *Surface {
	s := &Surface{
		droneID: droneID,
		onDrawn: onDrawn,
		pending: make(chan frameJob, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		canvas:  image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	go s.run()
	return s
}

// DroneID returns the drone the surface belongs to.
func (s *Surface) DroneID() string {
	return s.droneID
}

// Bounds returns the drawing area.
func (s *Surface) Bounds() image.Rectangle {
	return s.canvas.Bounds()
}

// Submit queues a base64 encoded image for drawing. It never blocks.
func (s *Surface) Submit(payload string, timestamp float64) {
	job := frameJob{payload: payload, timestamp: timestamp}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.pending <- job:
		return
	default:
	}
	// Drop the stale frame still waiting for the worker.
	select {
	case <-s.pending:
	default:
	}
	select {
	case s.pending <- job:
	default:
	}
}

func (s *Surface) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case job := <-s.pending:
			err := s.draw(job.payload)
			s.mu.Lock()
			seq := s.drawn
			s.mu.Unlock()
			if s.onDrawn != nil {
				s.onDrawn(DrawResult{DroneID: s.droneID, Timestamp: job.timestamp, Seq: seq, Err: err})
			}
		}
	}
}

func (s *Surface) draw(payload string) error {
	img, err := DecodeFrame(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.ApproxBiLinear.Scale(s.canvas, s.canvas.Bounds(), img, img.Bounds(), draw.Src, nil)
	s.drawn++
	return nil
}

// DecodeFrame decodes a base64 JPEG or PNG, with or without a data URL prefix.
func DecodeFrame(payload string) (image.Image, error) {
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 frame: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Frames returns how many frames have been drawn.
func (s *Surface) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawn
}

// Snapshot encodes the current canvas as JPEG.
func (s *Surface) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawn == 0 {
		return nil, ErrNoFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.canvas, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close stops the draw worker and waits for it to exit. Pending frames are discarded.
func (s *Surface) Close() {
	s.once.Do(func() {
		s.submitMu.Lock()
		close(s.done)
		s.submitMu.Unlock()
	})
	<-s.stopped
}
