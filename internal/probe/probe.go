// Package probe checks that drones connected by explicit address still answer
// ICMP echo requests, and reports round trip and packet loss per drone.
package probe

import (
	"context"
	"sync"
	"time"

	ping "github.com/prometheus-community/pro-bing"
)

// Pinger is an interface that defines the methods required for pinging hosts.
// It exists so tests can replace pro-bing.
type Pinger interface {
	// Run executes the ping process
	Run() error
	// Statistics returns the collected ping statistics
	Statistics() *ping.Statistics
	// SetPrivileged sets whether the pinger requires privileged mode
	SetPrivileged(bool)
}

// Target is a drone with a known network address.
type Target struct {
	DroneID string
	Addr    string
}

// Result is the reachability of one target, cumulative over every round.
type Result struct {
	DroneID    string
	Alive      bool    // Whether the drone answered in the last round
	LatencyMs  int     // Average round-trip time of the last round, 0 when down
	PacketLoss float64 // Cumulative loss percentage (0-100)
}

// hostStats tracks the total number of packets sent and received to one address.
type hostStats struct {
	sent int
	recv int
}

// NewPinger builds a Pinger for addr; replaceable in tests.
type NewPinger func(addr string, count int) (Pinger, error)

func defaultPinger(addr string, count int) (Pinger, error) {
	p, err := ping.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	p.Count = count
	p.Timeout = time.Duration(count) * time.Second
	return p, nil
}

// Prober pings targets in parallel every interval.
type Prober struct {
	interval   time.Duration
	count      int
	privileged bool
	newPinger  NewPinger

	mu    sync.Mutex
	stats map[string]*hostStats
}

// Option configures a Prober.
type Option func(*Prober)

// WithPinger replaces the pro-bing constructor.
func WithPinger(fn NewPinger) Option {
	return func(p *Prober) { p.newPinger = fn }
}

// New returns a Prober sending count echo requests per target per round.
func New(interval time.Duration, count int, privileged bool, opts ...Option) *Prober {
	p := &Prober{
		interval:   interval,
		count:      count,
		privileged: privileged,
		newPinger:  defaultPinger,
		stats:      make(map[string]*hostStats),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe pings one target and folds the round into its cumulative loss.
func (p *Prober) Probe(t Target) Result {
	res := Result{DroneID: t.DroneID, PacketLoss: 100.0}
	pinger, err := p.newPinger(t.Addr, p.count)
	if err != nil {
		return res
	}
	pinger.SetPrivileged(p.privileged)

	if err := pinger.Run(); err != nil {
		return res
	}
	stats := pinger.Statistics()

	p.mu.Lock()
	hs := p.stats[t.Addr]
	if hs == nil {
		hs = &hostStats{}
		p.stats[t.Addr] = hs
	}
	hs.sent += stats.PacketsSent
	hs.recv += stats.PacketsRecv
	totalSent, totalRecv := hs.sent, hs.recv
	p.mu.Unlock()

	if totalSent > 0 {
		res.PacketLoss = 100.0 * float64(totalSent-totalRecv) / float64(totalSent)
	}
	res.Alive = stats.PacketsRecv > 0
	if res.Alive {
		res.LatencyMs = int(stats.AvgRtt.Milliseconds())
	}
	return res
}

// Round probes every target in parallel and returns results in target order.
func (p *Prober) Round(targets []Target) []Result {
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			results[i] = p.Probe(t)
		}(i, t)
	}
	wg.Wait()
	return results
}

// Forget drops the cumulative stats of addresses not in keep.
func (p *Prober) Forget(keep []Target) {
	live := make(map[string]bool, len(keep))
	for _, t := range keep {
		live[t.Addr] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr := range p.stats {
		if !live[addr] {
			delete(p.stats, addr)
		}
	}
}

// Run probes the targets returned by targets every interval and passes each round's
// results to report, until ctx is done.
func (p *Prober) Run(ctx context.Context, targets func() []Target, report func([]Result)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		current := targets()
		p.Forget(current)
		if len(current) > 0 {
			report(p.Round(current))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
