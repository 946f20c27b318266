// Package channel implements the client side of the backend's push channel:
// Socket.IO events carried over an Engine.IO WebSocket transport.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// ErrNotConnected is returned by Emit while the channel is not open.
var ErrNotConnected = errors.New("push channel not connected")

// Handler receives channel lifecycle changes and server-pushed events.
// Calls arrive on the channel's read goroutine, one at a time.
type Handler interface {
	// OnConnect fires once the namespace handshake completes.
	OnConnect()
	// OnDisconnect fires when an established channel is lost.
	OnDisconnect(err error)
	// OnEvent delivers a pushed event and its first argument.
	OnEvent(name string, payload json.RawMessage)
}

// Redialer is optionally implemented by a Handler that wants to know when a
// lost channel is about to be dialled again.
type Redialer interface {
	OnRedial()
}

// Client is a push channel connection to one backend.
type Client struct {
	endpoint string
	origin   string
	handler  Handler
	logger   *log.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New prepares a client for the channel at rawURL (ws:// or wss://). When the URL
// has no path the Socket.IO default /socket.io/ is used.
func New(rawURL string, h Handler, opts ...Option) (*Client, error) {
	endpoint, origin, err := socketURL(rawURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint: endpoint,
		origin:   origin,
		handler:  h,
		logger:   log.New(os.Stderr, "[channel] ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func socketURL(rawURL string) (endpoint, origin string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse channel url: %w", err)
	}
	originScheme := "http"
	switch u.Scheme {
	case "ws":
	case "wss":
		originScheme = "https"
	default:
		return "", "", fmt.Errorf("channel url %q: scheme must be ws or wss", rawURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), originScheme + "://" + u.Host + "/", nil
}

// Connected reports whether the channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends an event to the server. A nil payload sends the bare event name.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.send(conn, frame)
}

func (c *Client) send(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.Message.Send(conn, frame)
}

// Run dials the channel and serves it until the connection drops or ctx is done.
// It returns nil only when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	cfg, err := websocket.NewConfig(c.endpoint, c.origin)
	if err != nil {
		return err
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = c.serve(conn)

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	if ctx.Err() != nil {
		err = nil
	}
	if wasConnected {
		c.handler.OnDisconnect(err)
	}
	return err
}

// RunWithReconnect keeps the channel up, redialling delay after every loss.
// A non-positive delay behaves like Run.
func (c *Client) RunWithReconnect(ctx context.Context, delay time.Duration) error {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delay <= 0 {
			return err
		}
		c.logger.Printf("channel lost: %v (retrying in %s)", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if r, ok := c.handler.(Redialer); ok {
			r.OnRedial()
		}
	}
}

func (c *Client) serve(conn *websocket.Conn) error {
	var frame string
	if err := websocket.Message.Receive(conn, &frame); err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	p, err := parsePacket(frame)
	if err != nil || p.engine != engineOpen {
		return fmt.Errorf("expected open packet, got %q", frame)
	}
	var info openInfo
	if err := json.Unmarshal(p.data, &info); err != nil {
		return fmt.Errorf("decode open packet: %w", err)
	}
	// Server pings every PingInterval; missing one plus PingTimeout means the link is gone.
	var idle time.Duration
	if info.PingInterval > 0 {
		idle = time.Duration(info.PingInterval+info.PingTimeout) * time.Millisecond
	}

	if err := c.send(conn, connectFrame()); err != nil {
		return fmt.Errorf("send namespace connect: %w", err)
	}

	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read: %w", err)
		}
		p, err := parsePacket(frame)
		if err != nil {
			c.logger.Printf("ignoring malformed frame %q: %v", frame, err)
			continue
		}
		if done, err := c.dispatch(conn, p); done {
			return err
		}
	}
}

func (c *Client) dispatch(conn *websocket.Conn, p packet) (bool, error) {
	switch p.engine {
	case enginePing:
		if err := c.send(conn, pongFrame()); err != nil {
			return true, fmt.Errorf("send pong: %w", err)
		}
		return false, nil
	case engineClose:
		return true, errors.New("server closed the transport")
	case engineMessage:
	default:
		return false, nil
	}

	switch p.socket {
	case socketConnect:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.handler.OnConnect()
	case socketDisconnect:
		return true, errors.New("server disconnected the namespace")
	case socketConnectError:
		payload := p.data
		if len(payload) == 0 {
			payload = json.RawMessage(`{"message":"connection refused"}`)
		}
		c.handler.OnEvent("error", payload)
	case socketEvent:
		c.handler.OnEvent(p.event, p.payload())
	}
	return false, nil
}

// Close tears down the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
