package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/observability"
)

// reviewGraph asks one question, pauses, then logs the answer.
func reviewGraph() *graph.Graph {
	b := graph.New()
	b.Task("propose", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		return domain.NewPatch().Set(domain.FieldReviewQuestions, []domain.Question{
			{ID: "ship", Text: "Ship it?", Options: []string{"yes", "no"}, Recommended: "yes"},
		}), nil
	}).Writes(domain.FieldReviewQuestions).Go("review")

	b.Barrier("review", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		return nil, nil
	}).Reads(domain.FieldReviewQuestions).Go("ship")

	b.Task("ship", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		answers, _, err := domain.Decode[map[string]string](s, domain.FieldReviewAnswers)
		if err != nil {
			return nil, err
		}
		return domain.NewPatch().Info("ship=%s", answers["ship"]), nil
	})
	return b.MustBuild()
}

type harness struct {
	engine  *conduit.Engine
	server  *httptest.Server
	streams *StreamManager
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewNop()
	streams := NewStreamManager(logger)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	eng, err := conduit.New(
		conduit.WithGraph(reviewGraph()),
		conduit.WithLifecycleHooks(streams.Hooks()),
		conduit.WithLifecycleHooks(metrics.Hooks()),
	)
	require.NoError(t, err)

	handler, err := NewHandler(eng,
		WithStreams(streams),
		WithMetrics(reg),
		WithVersion("1.2.3\n"),
		WithPollInterval(20*time.Millisecond),
		WithLogger(logger),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &harness{engine: eng, server: srv, streams: streams, reg: reg}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) start(t *testing.T) string {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/runs", `{"input": {"task": "predict price"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var ref RunRef
	require.NoError(t, json.Unmarshal(body, &ref))
	require.NotEmpty(t, ref.RunID)

	rec, err := h.engine.Wait(context.Background(), ref.RunID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingApproval, rec.Status)
	return ref.RunID
}

func TestServer_RunLifecycle(t *testing.T) {
	h := newHarness(t)
	runID := h.start(t)

	resp, body := h.do(t, http.MethodGet, "/runs/"+runID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec domain.RunRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, domain.StatusAwaitingApproval, rec.Status)
	assert.Equal(t, "review", rec.CurrentNode)

	resp, body = h.do(t, http.MethodGet, "/runs/"+runID+"/review", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs domain.ReviewSession
	require.NoError(t, json.Unmarshal(body, &rs))
	require.Len(t, rs.Questions, 1)
	assert.Equal(t, "ship", rs.Questions[0].ID)

	resp, body = h.do(t, http.MethodPost, "/runs/"+runID+"/resume", `{"approved": true, "answers": {"ship": "no"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	final, err := h.engine.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "ship=no", final.Log[len(final.Log)-1].Message)

	resp, _ = h.do(t, http.MethodPost, "/runs/"+runID+"/resume", `{"approved": true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"runs": ["`+runID+`"]}`, string(body))

	resp, _ = h.do(t, http.MethodDelete, "/runs/"+runID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/runs/"+runID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Cancel(t *testing.T) {
	h := newHarness(t)
	runID := h.start(t)

	resp, body := h.do(t, http.MethodPost, "/runs/"+runID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var ref RunRef
	require.NoError(t, json.Unmarshal(body, &ref))
	assert.Equal(t, domain.StatusCancelled, ref.Status)
}

func TestServer_Errors(t *testing.T) {
	h := newHarness(t)
	runID := h.start(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{name: "unknown run", method: http.MethodGet, path: "/runs/nope", code: http.StatusNotFound},
		{name: "unknown review", method: http.MethodGet, path: "/runs/nope/review", code: http.StatusNotFound},
		{name: "start without input", method: http.MethodPost, path: "/runs", body: `{}`, code: http.StatusBadRequest},
		{name: "approval without flag", method: http.MethodPost, path: "/runs/" + runID + "/resume", body: `{"answers": {}}`, code: http.StatusBadRequest},
		{name: "approval wrong type", method: http.MethodPost, path: "/runs/" + runID + "/resume", body: `{"approved": "yes"}`, code: http.StatusBadRequest},
		{name: "answer not an option", method: http.MethodPost, path: "/runs/" + runID + "/resume", body: `{"approved": true, "answers": {"ship": "maybe"}}`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, string(body))
			assert.Contains(t, string(body), `"error"`)
		})
	}

	// A rejected approval leaves the run resumable.
	rec, err := h.engine.GetStatus(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingApproval, rec.Status)
}

func TestServer_Introspection(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status": "ok"}`, string(body))

	resp, body = h.do(t, http.MethodGet, "/info", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"app": "conduit-http", "version": "1.2.3", "api_version": "1.0.0"}`, string(body))

	resp, body = h.do(t, http.MethodGet, "/graph", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var topo domain.Topology
	require.NoError(t, json.Unmarshal(body, &topo))
	assert.Equal(t, "propose", topo.Entry)
	assert.Len(t, topo.Nodes, 3)

	resp, body = h.do(t, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "openapi: 3.0.3")

	h.start(t)
	resp, body = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `conduit_node_visits_total{node="propose"} 1`)
}

func TestServer_CORS(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodOptions, "/runs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func readEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		events = append(events, line)
		if strings.HasPrefix(line, "event: end") {
			break
		}
	}
	return events
}

func TestSubscribeEvents_StreamsDiffsUntilTerminal(t *testing.T) {
	h := newHarness(t)
	runID := h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/runs/"+runID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	done := make(chan []string)
	go func() { done <- readEvents(t, resp.Body) }()

	require.Eventually(t, func() bool { return h.streams.Subscribers(runID) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.engine.Resume(context.Background(), runID, domain.Approval{Approved: true}))

	var events []string
	select {
	case events = <-done:
	case <-ctx.Done():
		t.Fatal("stream did not end")
	}

	joined := strings.Join(events, "\n")
	assert.Contains(t, joined, "event: ping")
	assert.Contains(t, joined, `"status":"awaiting_approval"`)
	assert.Contains(t, joined, `"status":"completed"`)
	assert.Contains(t, joined, "ship=yes")
	assert.Contains(t, joined, "event: end\ndata: completed")
}

func TestSubscribeEvents_Watch(t *testing.T) {
	h := newHarness(t)
	runID := h.start(t)
	require.NoError(t, h.engine.Cancel(context.Background(), runID))

	resp, body := h.do(t, http.MethodGet, "/runs/"+runID+"/events?watch=status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := string(body)
	assert.Contains(t, out, `"status":"cancelled"`)
	assert.NotContains(t, out, `"fields"`)
	assert.NotContains(t, out, `"history"`)
	assert.Contains(t, out, "event: end\ndata: cancelled")
}

func TestStreamManager(t *testing.T) {
	sm := NewStreamManager(logging.NewNop())
	ch, cancel := sm.Subscribe("run-1")
	assert.Equal(t, 1, sm.Subscribers("run-1"))

	sm.Broadcast("run-1", "node_leave")
	sm.Broadcast("run-2", "node_leave")
	assert.Equal(t, "node_leave", <-ch)

	// Overflow is dropped instead of blocking.
	for i := 0; i < 20; i++ {
		sm.Broadcast("run-1", "x")
	}
	assert.Len(t, ch, 10)

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("run-1"))
}
