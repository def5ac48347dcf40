package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/internal/store"
	"github.com/spellbook-dev/spellbook/internal/testutil"
)

// Full-stack scenarios over a live TCP server: real listener, broker
// wake-ups, SSE consumed while workers report.

type e2eEnv struct {
	t     *testing.T
	srv   *Server
	store *store.Store
}

func newE2E(t *testing.T) *e2eEnv {
	t.Helper()
	s, broker := testutil.NewStoreWithBroker(t)
	srv, err := NewServer(ServerConfig{
		Addr:         "127.0.0.1:0",
		Store:        s,
		Broker:       broker,
		PollInterval: 50 * time.Millisecond,
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
	return &e2eEnv{t: t, srv: srv, store: s}
}

// post sends a JSON body and decodes the response into out when the status
// matches; on mismatch it fails with the response body for context.
func (e *e2eEnv) post(path, body string, wantStatus int, out any) {
	e.t.Helper()
	resp, err := http.Post(e.srv.Endpoint()+path, "application/json", strings.NewReader(body))
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, wantStatus, resp.StatusCode, "body: %s", raw)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(raw, out))
	}
}

func (e *e2eEnv) get(path string, wantStatus int, out any) {
	e.t.Helper()
	resp, err := http.Get(e.srv.Endpoint() + path)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, wantStatus, resp.StatusCode, "body: %s", raw)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(raw, out))
	}
}

func (e *e2eEnv) createSwarm() string {
	e.t.Helper()
	var created api.CreateSwarmResponse
	e.post("/swarm/create",
		`{"feature": "user-auth", "manifest_path": "manifests/user-auth.yaml"}`,
		http.StatusCreated, &created)
	return created.SwarmID
}

func (e *e2eEnv) register(swarmID string, packetID, tasksTotal int) {
	e.t.Helper()
	body := fmt.Sprintf(
		`{"packet_id": %d, "packet_name": "packet-%d", "tasks_total": %d, "worktree": "/work/p%d"}`,
		packetID, packetID, tasksTotal, packetID)
	e.post("/swarm/"+swarmID+"/register", body, http.StatusCreated, nil)
}

func (e *e2eEnv) progress(swarmID string, packetID, done, total int) {
	e.t.Helper()
	body := fmt.Sprintf(
		`{"packet_id": %d, "task_id": "task-%d", "task_name": "step %d",
		  "status": "completed", "tasks_completed": %d, "tasks_total": %d}`,
		packetID, done, done, done, total)
	e.post("/swarm/"+swarmID+"/progress", body, http.StatusOK, nil)
}

func (e *e2eEnv) complete(swarmID string, packetID int) api.CompleteResponse {
	e.t.Helper()
	var resp api.CompleteResponse
	body := fmt.Sprintf(
		`{"packet_id": %d, "final_commit": "abc1234", "tests_passed": true, "review_passed": true}`,
		packetID)
	e.post("/swarm/"+swarmID+"/complete", body, http.StatusOK, &resp)
	return resp
}

// terminalEventNames drains the event stream of a finished swarm.
func (e *e2eEnv) terminalEventNames(swarmID string) []string {
	e.t.Helper()
	resp, err := http.Get(e.srv.Endpoint() + "/swarm/" + swarmID + "/events")
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(e.t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return eventNames(parseSSE(e.t, string(raw)))
}

// === Scenarios ===

func TestE2E_SingleWorkerHappyPath(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()

	e.register(swarmID, 1, 3)
	e.progress(swarmID, 1, 1, 3)
	e.progress(swarmID, 1, 2, 3)
	e.progress(swarmID, 1, 3, 3)
	result := e.complete(swarmID, 1)

	assert.True(t, result.SwarmComplete)
	assert.Equal(t, 0, result.RemainingWorkers)

	assert.Equal(t,
		[]string{"worker_registered", "progress", "progress", "progress",
			"worker_complete", "all_complete"},
		e.terminalEventNames(swarmID))

	var status api.SwarmStatusResponse
	e.get("/swarm/"+swarmID+"/status", http.StatusOK, &status)
	assert.Equal(t, "complete", status.Status)
	assert.NotNil(t, status.CompletedAt)
	assert.Equal(t, 3, status.Tasks.Completed)
	assert.Equal(t, 3, status.Tasks.Total)
	assert.Equal(t, 1, status.Workers.Complete)
}

func TestE2E_TwoWorkerFanIn(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()

	e.register(swarmID, 1, 2)
	e.register(swarmID, 2, 2)

	first := e.complete(swarmID, 1)
	assert.False(t, first.SwarmComplete)
	assert.Equal(t, 1, first.RemainingWorkers)

	second := e.complete(swarmID, 2)
	assert.True(t, second.SwarmComplete)
	assert.Equal(t, 0, second.RemainingWorkers)

	names := e.terminalEventNames(swarmID)
	require.NotEmpty(t, names)
	allComplete := 0
	for _, n := range names {
		if n == "all_complete" {
			allComplete++
		}
	}
	assert.Equal(t, 1, allComplete, "all_complete fires exactly once: %v", names)
	assert.Equal(t, "all_complete", names[len(names)-1], "fan-in event comes last")
}

func TestE2E_RecoverableErrorSchedulesRetry(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()
	e.register(swarmID, 1, 3)

	var resp api.ErrorReportResponse
	e.post("/swarm/"+swarmID+"/error",
		`{"packet_id": 1, "task_id": "task-2", "error_type": "rate_limit",
		  "message": "429 from provider", "recoverable": false}`,
		http.StatusOK, &resp)

	assert.True(t, resp.RetryScheduled)
	require.NotNil(t, resp.RetryInSeconds)
	assert.Equal(t, 30, *resp.RetryInSeconds)

	var status api.SwarmStatusResponse
	e.get("/swarm/"+swarmID+"/status", http.StatusOK, &status)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 0, status.Workers.Failed, "recoverable errors do not fail the worker")
}

func TestE2E_NonRecoverableErrorFailsWorker(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()
	e.register(swarmID, 1, 3)

	var resp api.ErrorReportResponse
	e.post("/swarm/"+swarmID+"/error",
		`{"packet_id": 1, "task_id": "task-2", "error_type": "syntax_error",
		  "message": "parse failure", "recoverable": true}`,
		http.StatusOK, &resp)

	assert.False(t, resp.RetryScheduled)
	assert.Nil(t, resp.RetryInSeconds)

	var status api.SwarmStatusResponse
	e.get("/swarm/"+swarmID+"/status", http.StatusOK, &status)
	assert.Equal(t, "failed", status.Status)
	assert.Equal(t, 1, status.Workers.Failed)

	names := e.terminalEventNames(swarmID)
	assert.Contains(t, names, "worker_error")
	assert.NotContains(t, names, "all_complete")
}

func TestE2E_InvalidRegistrationLeavesNoTrace(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()

	var errResp api.ErrorResponse
	e.post("/swarm/"+swarmID+"/register",
		`{"packet_id": 1, "packet_name": "Bad Name!", "tasks_total": 0, "worktree": ""}`,
		http.StatusUnprocessableEntity, &errResp)

	assert.Equal(t, api.CodeValidationError, errResp.Code)
	assert.Contains(t, errResp.Details, "packet_name")
	assert.Contains(t, errResp.Details, "tasks_total")
	assert.Contains(t, errResp.Details, "worktree")

	events, err := e.store.GetEvents(context.Background(), swarmID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestE2E_StreamResumeDeliversOnlyNewer(t *testing.T) {
	e := newE2E(t)
	swarmID := e.createSwarm()
	e.register(swarmID, 1, 2)
	e.progress(swarmID, 1, 1, 2)

	// First connection reads two events, then disconnects.
	resp, err := http.Get(e.srv.Endpoint() + "/swarm/" + swarmID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lastSeen int64
	events := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && events < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			lastSeen, err = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
			require.NoError(t, err)
		}
		if strings.HasPrefix(line, "event: ") {
			events++
		}
	}
	require.NoError(t, resp.Body.Close())
	require.Positive(t, lastSeen)

	e.complete(swarmID, 1)

	// Resume replays only what the first connection never saw.
	resp2, err := http.Get(e.srv.Endpoint() + "/swarm/" + swarmID + "/events?since_event_id=" +
		strconv.FormatInt(lastSeen, 10))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	raw, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)

	records := parseSSE(t, string(raw))
	require.Equal(t, []string{"worker_complete", "all_complete"}, eventNames(records))
	for _, r := range records {
		assert.Greater(t, r.ID, lastSeen)
	}
}

// Arbitrary invalid registrations are rejected with 422 and leave the
// event log untouched.
func TestE2E_InvalidRegistrationProperty(t *testing.T) {
	h, s := newTestHandler(t)
	swarmID := createSwarm(t, h)

	rapid.Check(t, func(rt *rapid.T) {
		req := api.RegisterWorkerRequest{
			PacketID:   1,
			PacketName: "auth-api",
			TasksTotal: 5,
			Worktree:   "/w",
		}
		// Break at least one field.
		broken := rapid.SliceOfNDistinct(rapid.IntRange(0, 3), 1, 4, rapid.ID[int]).Draw(rt, "broken")
		for _, f := range broken {
			switch f {
			case 0:
				req.PacketID = rapid.IntRange(-10, 0).Draw(rt, "packet_id")
			case 1:
				req.PacketName = rapid.SampledFrom([]string{"", "Bad Name", "UPPER", "under_score", "semi;colon"}).Draw(rt, "packet_name")
			case 2:
				req.TasksTotal = rapid.SampledFrom([]int{-5, 0, 1001, 99999}).Draw(rt, "tasks_total")
			case 3:
				req.Worktree = ""
			}
		}

		body, err := json.Marshal(req)
		require.NoError(rt, err)
		w := postJSON(t, h, "/swarm/"+swarmID+"/register", string(body))
		require.Equal(rt, http.StatusUnprocessableEntity, w.Code)

		events, err := s.GetEvents(context.Background(), swarmID, 0)
		require.NoError(rt, err)
		require.Empty(rt, events)
	})
}
