// Package api is a thin client for the drone backend's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/piterpentester/dronemosaic/internal/drone"
)

// APIError is an application-level failure: the backend answered with a
// non-2xx status. Message is the backend's own text and is shown verbatim.
type APIError struct {
	Status  int
	Message string
}

// Error includes the backend's message when it sent one.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// TransportError wraps failures that never produced a usable response:
// dial errors, timeouts, unreadable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client talks to /api/drones on the backend.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a client for the backend rooted at baseURL.
// A zero timeout leaves requests unbounded.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

type connectRequest struct {
	IPAddress *string `json:"ip_address"`
}

// ConnectDrone asks the backend to connect drone id, optionally at ip.
// An empty ip is sent as null so the backend uses the drone's default address.
func (c *Client) ConnectDrone(ctx context.Context, id, ip string) error {
	body := connectRequest{}
	if ip != "" {
		body.IPAddress = &ip
	}
	return c.do(ctx, "connect", http.MethodPost, droneURL(id, "connect"), body, nil)
}

// StartStream asks the backend to begin pushing id's video frames.
func (c *Client) StartStream(ctx context.Context, id string) error {
	return c.do(ctx, "start_stream", http.MethodPost, droneURL(id, "start_stream"), nil, nil)
}

// StopStream asks the backend to stop pushing id's video frames.
func (c *Client) StopStream(ctx context.Context, id string) error {
	return c.do(ctx, "stop_stream", http.MethodPost, droneURL(id, "stop_stream"), nil, nil)
}

// DroneInfo fetches the full telemetry snapshot of one drone.
func (c *Client) DroneInfo(ctx context.Context, id string) (drone.Record, error) {
	var rec drone.Record
	err := c.do(ctx, "info", http.MethodGet, droneURL(id, "info"), nil, &rec)
	return rec, err
}

// ListDrones returns the ids the backend currently holds a connection to.
func (c *Client) ListDrones(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.do(ctx, "list", http.MethodGet, "/api/drones", nil, &ids)
	return ids, err
}

func droneURL(id, action string) string {
	return "/api/drones/" + url.PathEscape(id) + "/" + action
}

type messageBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	target := c.base.ResolveReference(ref)

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg messageBody
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg.Message}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Outcome classifies err for metrics: "ok", "rejected" or "transport".
func Outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "rejected"
	default:
		return "transport"
	}
}
