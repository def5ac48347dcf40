package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/internal/server"
	"github.com/spellbook-dev/spellbook/internal/testutil"
)

// startServer runs a coordination server on an OS-assigned loopback port
// and returns a client pointed at it.
func startServer(t *testing.T) *Client {
	t.Helper()
	srv, err := server.NewServer(server.ServerConfig{
		Addr:  "127.0.0.1:0",
		Store: testutil.NewStore(t),
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))
		require.ErrorIs(t, <-errCh, http.ErrServerClosed)
	})
	return New(srv.Endpoint())
}

func createSwarm(t *testing.T, c *Client) string {
	t.Helper()
	created, err := c.CreateSwarm(context.Background(), api.CreateSwarmRequest{
		Feature:      "user-auth",
		ManifestPath: "manifests/user-auth.yaml",
	})
	require.NoError(t, err)
	return created.SwarmID
}

func TestClient_CreateSwarm(t *testing.T) {
	c := startServer(t)

	created, err := c.CreateSwarm(context.Background(), api.CreateSwarmRequest{
		Feature:      "user-auth",
		ManifestPath: "manifests/user-auth.yaml",
		AutoMerge:    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.SwarmID)
	assert.NotEmpty(t, created.Endpoint)
	assert.True(t, created.AutoMerge)
	assert.True(t, created.NotifyOnComplete)
}

func TestClient_WorkerLifecycle(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()
	swarmID := createSwarm(t, c)

	reg, err := c.RegisterWorker(ctx, swarmID, api.RegisterWorkerRequest{
		PacketID:   1,
		PacketName: "auth-api",
		TasksTotal: 2,
		Worktree:   "/work/auth-api",
	})
	require.NoError(t, err)
	assert.True(t, reg.Acknowledged)
	assert.Equal(t, "registered", reg.WorkerStatus)
	assert.Equal(t, "running", reg.SwarmStatus)

	prog, err := c.ReportProgress(ctx, swarmID, api.ProgressRequest{
		PacketID:       1,
		TaskID:         "task-1",
		TaskName:       "add endpoint",
		Status:         "completed",
		TasksCompleted: 1,
		TasksTotal:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, prog.TasksCompleted)

	hb, err := c.Heartbeat(ctx, swarmID, 1)
	require.NoError(t, err)
	assert.True(t, hb.Acknowledged)

	done, err := c.ReportComplete(ctx, swarmID, api.CompleteRequest{
		PacketID:     1,
		FinalCommit:  "abc1234",
		TestsPassed:  true,
		ReviewPassed: true,
	})
	require.NoError(t, err)
	assert.True(t, done.SwarmComplete)

	status, err := c.GetStatus(ctx, swarmID)
	require.NoError(t, err)
	assert.Equal(t, "complete", status.Status)
	assert.Equal(t, 1, status.Workers.Complete)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestClient_ReportError(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()
	swarmID := createSwarm(t, c)

	_, err := c.RegisterWorker(ctx, swarmID, api.RegisterWorkerRequest{
		PacketID: 1, PacketName: "auth-api", TasksTotal: 2, Worktree: "/w",
	})
	require.NoError(t, err)

	resp, err := c.ReportError(ctx, swarmID, api.ErrorReportRequest{
		PacketID:  1,
		TaskID:    "task-1",
		ErrorType: "network_error",
		Message:   "connection reset",
	})
	require.NoError(t, err)
	assert.True(t, resp.RetryScheduled)
	require.NotNil(t, resp.RetryInSeconds)
	assert.Equal(t, 30, *resp.RetryInSeconds)
}

func TestClient_NotFound(t *testing.T) {
	c := startServer(t)

	_, err := c.GetStatus(context.Background(), "swarm-20260101-000000-abc123")

	require.Error(t, err)
	assert.True(t, IsNotFound(err), "got %v", err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, api.CodeNotFound, apiErr.Code)
	assert.NotEmpty(t, apiErr.Message)
}

func TestClient_Conflict(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()
	swarmID := createSwarm(t, c)

	req := api.RegisterWorkerRequest{
		PacketID: 1, PacketName: "auth-api", TasksTotal: 2, Worktree: "/w",
	}
	_, err := c.RegisterWorker(ctx, swarmID, req)
	require.NoError(t, err)

	_, err = c.RegisterWorker(ctx, swarmID, req)
	require.Error(t, err)
	assert.True(t, IsConflict(err), "got %v", err)
	assert.False(t, IsNotFound(err))
}

func TestClient_ValidationDetails(t *testing.T) {
	c := startServer(t)
	swarmID := createSwarm(t, c)

	_, err := c.RegisterWorker(context.Background(), swarmID, api.RegisterWorkerRequest{
		PacketID: 1, PacketName: "Bad Name!", TasksTotal: 2, Worktree: "/w",
	})

	require.Error(t, err)
	assert.True(t, IsValidation(err), "got %v", err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeValidationError, apiErr.Code)
	assert.Contains(t, apiErr.Details, "packet_name")
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.Health(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Message, "bad gateway")
}

func TestClient_ConnectionRefused(t *testing.T) {
	c := New("http://127.0.0.1:1", WithTimeout(time.Second))

	_, err := c.Health(context.Background())

	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "/health")
}
