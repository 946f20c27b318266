// Package main implements a multi-drone monitoring dashboard. It connects to a
// drone backend over its REST API and Socket.IO push channel, decodes the live
// video each drone streams, and serves a web interface that receives real-time
// updates via WebSockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piterpentester/dronemosaic/internal/api"
	"github.com/piterpentester/dronemosaic/internal/config"
	"github.com/piterpentester/dronemosaic/internal/dashboard"
	"github.com/piterpentester/dronemosaic/internal/metrics"
	"github.com/piterpentester/dronemosaic/internal/probe"
	"github.com/piterpentester/dronemosaic/internal/view"
)

const usage = `usage: dronemosaic [run|status|validate] [flags]

  run       serve the dashboard (default)
  status    print the drones the backend knows about and exit
  validate  check a configuration file and exit
`

// main is the entry point of the application.
// It dispatches to a subcommand; without one the dashboard server is started.
func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "status":
		err = statusCommand(args, os.Stdout)
	case "validate":
		err = validateCommand(args, os.Stdout)
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	backend    string
	addr       string
	probe      bool
}

// newFlagSet declares the flags every subcommand accepts.
func newFlagSet(name string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&o.backend, "backend", "", "Drone backend base URL (overrides backend.url)")
	fs.StringVar(&o.addr, "addr", "", "Dashboard listen address (overrides ui.addr)")
	fs.BoolVar(&o.probe, "probe", false, "Ping drones connected with an IP address")
	return fs
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.backend != "" {
		cfg.Backend.URL = o.backend
	}
	if o.addr != "" {
		cfg.UI.Addr = o.addr
	}
	if o.probe {
		cfg.Probe.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runCommand serves the dashboard until SIGINT or SIGTERM.
//
// Parameters:
//   - args: Command-line arguments after the subcommand name
//
// Returns:
//   - error: Any configuration or listener failure; nil after a clean shutdown
func runCommand(args []string) error {
	var o options
	if err := newFlagSet("run", &o).Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	channelURL, err := cfg.ChannelURL()
	if err != nil {
		return fmt.Errorf("channel url: %w", err)
	}

	client, err := api.NewClient(cfg.Backend.URL, cfg.Backend.Timeout())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	logger := log.New(os.Stderr, "[ui] ", log.LstdFlags)

	ctrl := dashboard.New(client, dashboard.Settings{
		VideoWidth:     cfg.Video.Width,
		VideoHeight:    cfg.Video.Height,
		FanoutLimit:    cfg.Streams.FanoutLimit,
		ReconnectDelay: cfg.Backend.Reconnect(),
		DismissAfter:   cfg.Notifications.DismissAfter,
	}, dashboard.WithMetrics(metrics.New(reg)))
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newUIServer(ctrl, logger)
	var metricsHandler http.Handler
	if cfg.MetricsEnabled() {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	httpServer := &http.Server{
		Addr:              cfg.UI.Addr,
		Handler:           srv.routes(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.pump(ctx, 100*time.Millisecond)
	go func() {
		if err := ctrl.Connect(ctx, channelURL); err != nil {
			logger.Printf("push channel %s closed: %v", channelURL, err)
		}
	}()
	if cfg.Probe.Enabled {
		prober := probe.New(cfg.Probe.Interval, cfg.Probe.Count, cfg.Probe.Privileged)
		go prober.Run(ctx, ctrl.ProbeTargets, ctrl.ApplyProbe)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Server running at http://%s (backend %s, channel %s)", displayAddr(cfg.UI.Addr), cfg.Backend.URL, channelURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// displayAddr turns a bare ":port" listen address into a clickable host.
func displayAddr(addr string) string {
	if addr != "" && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// droneSource is what the status subcommand reads from the backend.
type droneSource interface {
	ListDrones(ctx context.Context) ([]string, error)
	dashboard.API
}

// statusCommand prints one table row per drone the backend holds, then exits.
func statusCommand(args []string, out io.Writer) error {
	var o options
	if err := newFlagSet("status", &o).Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	client, err := api.NewClient(cfg.Backend.URL, cfg.Backend.Timeout())
	if err != nil {
		return err
	}
	ctx := context.Background()
	if timeout := cfg.Backend.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return printStatus(ctx, client, out)
}

// printStatus writes one row per drone, formatted the way the dashboard cards are.
func printStatus(ctx context.Context, src droneSource, out io.Writer) error {
	ids, err := src.ListDrones(ctx)
	if err != nil {
		return fmt.Errorf("list drones: %w", err)
	}
	if len(ids) == 0 {
		_, err := fmt.Fprintln(out, view.NoDronesMessage)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRONE\tSTATUS\tBATTERY\tTEMPERATURE\tHEIGHT\tFLIGHT TIME\tWIFI")
	for _, id := range ids {
		rec, err := src.DroneInfo(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\tunavailable (%s)\t\t\t\t\t\n", id, api.Outcome(err))
			continue
		}
		if rec.DroneID == "" {
			rec.DroneID = id
		}
		c := view.RenderCard(rec, false)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.DroneID, c.StatusLabel, c.Battery, c.Temperature, c.Height, c.FlightTime, c.WiFiSignal)
	}
	return tw.Flush()
}

// validateCommand loads and checks the configuration without dialling anything.
func validateCommand(args []string, out io.Writer) error {
	var o options
	if err := newFlagSet("validate", &o).Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	channelURL, err := cfg.ChannelURL()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config OK: backend %s, channel %s, ui %s, metrics %t, probe %t\n",
		cfg.Backend.URL, channelURL, cfg.UI.Addr, cfg.MetricsEnabled(), cfg.Probe.Enabled)
	return nil
}
