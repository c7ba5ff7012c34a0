package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
	"git.home.fjellstad.io/blog/blogpipe/internal/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func daemonConfig(secret string) config.DaemonConfig {
	return config.DaemonConfig{
		Listen:        "127.0.0.1:0",
		WebhookPath:   "/hooks/push",
		WebhookSecret: secret,
	}
}

func newTestServer(t *testing.T, secret string, enqueue func(Trigger) error, store runstore.Store) *httptest.Server {
	t.Helper()
	s := NewServer(daemonConfig(secret), enqueue, nil, store, nil)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestWebhook_AcceptsPushAndEnqueues(t *testing.T) {
	var got []Trigger
	ts := newTestServer(t, "", func(tr Trigger) error {
		got = append(got, tr)
		return nil
	}, nil)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/hooks/push", strings.NewReader(`{"ref":"refs/heads/main"}`))
	req.Header.Set("X-GitHub-Event", "push")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.TriggerWebhook, got[0].Kind)
	assert.Equal(t, "github", got[0].Forge)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "queued", body["status"])
}

func TestWebhook_PayloadIgnored(t *testing.T) {
	calls := 0
	ts := newTestServer(t, "", func(Trigger) error { calls++; return nil }, nil)

	// Garbage body is fine; only the delivery itself matters.
	resp, err := http.Post(ts.URL+"/hooks/push", "text/plain", strings.NewReader("not json at all"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestWebhook_QueueFullReturns429(t *testing.T) {
	ts := newTestServer(t, "", func(Trigger) error { return ErrQueueFull }, nil)

	resp, err := http.Post(ts.URL+"/hooks/push", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebhook_SecretEnforced(t *testing.T) {
	ts := newTestServer(t, "s3cret", func(Trigger) error { return nil }, nil)

	resp, err := http.Post(ts.URL+"/hooks/push", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/hooks/push", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestWebhook_GetNotAllowed(t *testing.T) {
	ts := newTestServer(t, "", func(Trigger) error { return nil }, nil)

	resp, err := http.Get(ts.URL + "/hooks/push")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "", func(Trigger) error { return nil }, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRunEndpoints(t *testing.T) {
	store, err := runstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateRun(context.Background(), runstore.RunRecord{
		ID: "r1", Trigger: "webhook", Status: "success", StartedAt: time.Now(),
	}))

	ts := newTestServer(t, "", func(Trigger) error { return nil }, store)

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Runs []runstore.RunRecord `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "r1", list.Runs[0].ID)

	resp, err = http.Get(ts.URL + "/runs/r1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/runs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
