// Package client is the worker-side library for the spellbook
// coordination server. Client is a thin typed HTTP wrapper over the
// endpoints; Helper binds one (swarm, packet) identity and checkpoints
// every report to disk before it goes on the wire, so a crashed worker
// can always reconstruct what it last claimed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spellbook-dev/spellbook/api"
)

// DefaultTimeout bounds every request. The server is on loopback; a call
// that takes longer than this is stuck, not slow.
const DefaultTimeout = 10 * time.Second

// Client calls the coordination endpoints. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL,
// e.g. "http://127.0.0.1:7432".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSwarm starts a new swarm.
func (c *Client) CreateSwarm(ctx context.Context, req api.CreateSwarmRequest) (*api.CreateSwarmResponse, error) {
	var resp api.CreateSwarmResponse
	if err := c.post(ctx, "/swarm/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterWorker announces a worker for one packet of the swarm.
func (c *Client) RegisterWorker(ctx context.Context, swarmID string, req api.RegisterWorkerRequest) (*api.RegisterWorkerResponse, error) {
	var resp api.RegisterWorkerResponse
	if err := c.post(ctx, "/swarm/"+swarmID+"/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportProgress reports per-task progress for a packet.
func (c *Client) ReportProgress(ctx context.Context, swarmID string, req api.ProgressRequest) (*api.ProgressResponse, error) {
	var resp api.ProgressResponse
	if err := c.post(ctx, "/swarm/"+swarmID+"/progress", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportComplete reports that a packet finished all of its tasks.
func (c *Client) ReportComplete(ctx context.Context, swarmID string, req api.CompleteRequest) (*api.CompleteResponse, error) {
	var resp api.CompleteResponse
	if err := c.post(ctx, "/swarm/"+swarmID+"/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportError reports a task failure and returns the server's retry
// advice.
func (c *Client) ReportError(ctx context.Context, swarmID string, req api.ErrorReportRequest) (*api.ErrorReportResponse, error) {
	var resp api.ErrorReportResponse
	if err := c.post(ctx, "/swarm/"+swarmID+"/error", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat pings worker liveness.
func (c *Client) Heartbeat(ctx context.Context, swarmID string, packetID int) (*api.HeartbeatResponse, error) {
	var resp api.HeartbeatResponse
	if err := c.post(ctx, "/swarm/"+swarmID+"/heartbeat", api.HeartbeatRequest{PacketID: packetID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus fetches the computed view of one swarm.
func (c *Client) GetStatus(ctx context.Context, swarmID string) (*api.SwarmStatusResponse, error) {
	var resp api.SwarmStatusResponse
	if err := c.get(ctx, "/swarm/"+swarmID+"/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return apiErrorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

// drainClose empties the body so the transport can reuse the connection.
func drainClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, 4096)
	_ = body.Close()
}
