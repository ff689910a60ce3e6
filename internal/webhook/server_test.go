package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/internal/telemetry"
	"github.com/rappen/RappSack/internal/validation"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
)

const updatePayload = `{
  "MessageName": "Update",
  "Stage": 40,
  "Mode": 0,
  "Depth": 1,
  "PrimaryEntityName": "account",
  "PrimaryEntityId": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
  "UserId": "9a1d2c3b-4e5f-4a6b-8c7d-0e1f2a3b4c5d",
  "CorrelationId": "5d4c3b2a-1f0e-4d9c-8b7a-6f5e4d3c2b1a",
  "InputParameters": [
    {"key": "Target", "value": {
      "__type": "Entity:http://schemas.microsoft.com/xrm/2011/Contracts",
      "LogicalName": "account",
      "Id": "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b",
      "Attributes": [{"key": "name", "value": "Contoso"}]
    }}
  ],
  "PreEntityImages": [],
  "PostEntityImages": []
}`

type testEnv struct {
	srv     *httptest.Server
	store   *store.LibSQLStore
	metrics *telemetry.Metrics
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, withJournal bool, plugins ...plugin.Plugin) *testEnv {
	t.Helper()
	env := &testEnv{metrics: telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true})}

	registry := plugin.NewRegistry()
	for _, p := range plugins {
		require.NoError(t, registry.Register(p))
	}
	decoder, err := validation.NewContextValidator()
	require.NoError(t, err)

	runnerDeps := plugin.RunnerDeps{Metrics: env.metrics, Logger: quietLogger()}
	deps := Deps{
		Registry: registry,
		Decoder:  decoder,
		Metrics:  env.metrics,
		Logger:   quietLogger(),
		MaxBody:  8 << 10,
	}
	if withJournal {
		s, err := store.NewLibSQLStore("file:" + t.TempDir() + "/journal.db")
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		env.store = s
		runnerDeps.Journal = s
		deps.Journal = s
	}
	deps.Runner = plugin.NewRunner(runnerDeps)

	env.srv = httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// traceHas reports whether any trace line contains sub. Lines carry a
// timing prefix.
func traceHas(trace any, sub string) bool {
	switch lines := trace.(type) {
	case []string:
		for _, l := range lines {
			if strings.Contains(l, sub) {
				return true
			}
		}
	case []any:
		for _, l := range lines {
			if s, ok := l.(string); ok && strings.Contains(s, sub) {
				return true
			}
		}
	}
	return false
}

func renamer() plugin.Plugin {
	return plugin.New("renamer", func(_ context.Context, ex *plugin.Execution) error {
		ex.Tracer.Trace("name is %s", ex.Target().GetString("name"))
		return nil
	}, plugin.WithNeeds(plugin.Needs{Message: "Update", Entity: "account", Attributes: []string{"name"}}))
}

// --- Run plugin ---

func TestRunPlugin_Executed(t *testing.T) {
	env := newTestEnv(t, true, renamer())

	resp, body := env.post(t, "/plugins/renamer", updatePayload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "executed", body["status"])
	assert.Equal(t, "renamer", body["plugin"])
	assert.True(t, traceHas(body["trace"], "name is Contoso"), "%v", body["trace"])

	id := body["invocation_id"].(string)
	inv, err := env.store.GetInvocation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.InvocationExecuted, inv.Status)
	assert.Equal(t, "account", inv.Entity)
	assert.Equal(t, "5d4c3b2a-1f0e-4d9c-8b7a-6f5e4d3c2b1a", inv.CorrelationID)
}

func TestRunPlugin_Skipped(t *testing.T) {
	p := plugin.New("creator", nil, plugin.WithNeeds(plugin.Needs{Message: "Create"}))
	env := newTestEnv(t, false, p)

	resp, body := env.post(t, "/plugins/creator", updatePayload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "Wrong message: Update, need: Create", body["diagnostic"])
}

func TestRunPlugin_FailureStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		plugin plugin.Plugin
		status int
		code   string
	}{
		{
			name:   "needs not met strict",
			plugin: plugin.New("p", nil, plugin.WithNeeds(plugin.Needs{ThrowIfNotMatch: true, PostImage: true})),
			status: http.StatusPreconditionFailed,
			code:   schema.ErrCodeNeedsNotMet,
		},
		{
			name: "business rule",
			plugin: plugin.New("p", func(context.Context, *plugin.Execution) error {
				return schema.NewError(schema.ErrCodeExecution, "Credit limit exceeded")
			}),
			status: http.StatusUnprocessableEntity,
			code:   schema.ErrCodeExecution,
		},
		{
			name: "unhandled",
			plugin: plugin.New("p", func(context.Context, *plugin.Execution) error {
				panic("boom")
			}),
			status: http.StatusInternalServerError,
			code:   schema.ErrCodeUnhandled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false, tt.plugin)
			resp, body := env.post(t, "/plugins/p", updatePayload)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "failed", body["status"])
			errBody, ok := body["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}

func TestRunPlugin_RequestErrors(t *testing.T) {
	env := newTestEnv(t, false, renamer())

	resp, body := env.post(t, "/plugins/missing", updatePayload)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "code")

	resp, body = env.post(t, "/plugins/renamer", `{"Stage": 40}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["errors"])

	resp, body = env.post(t, "/plugins/renamer", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty execution context", body["error"])

	resp, body = env.post(t, "/plugins/renamer", strings.Repeat(" ", 9<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "payload exceeds 8192 bytes", body["error"])
}

// --- Introspection ---

func TestHealthAndPlugins(t *testing.T) {
	env := newTestEnv(t, false, renamer())

	resp, data := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","plugins":1}`, string(data))

	resp, data = env.get(t, "/plugins")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"renamer"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, renamer())
	resp, _ := env.post(t, "/plugins/renamer", updatePayload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `rappsack_plugin_invocations_total{plugin="renamer",status="executed"} 1`)
	assert.Contains(t, string(data), `rappsack_webhook_requests_total{code="200"} 1`)
}

// --- Journal API ---

func TestInvocationsAPI(t *testing.T) {
	env := newTestEnv(t, true, renamer(), plugin.New("creator", nil, plugin.WithNeeds(plugin.Needs{Message: "Create"})))
	_, first := env.post(t, "/plugins/renamer", updatePayload)
	env.post(t, "/plugins/creator", updatePayload)

	resp, data := env.get(t, "/api/invocations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var all []schema.Invocation
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Len(t, all, 2)

	resp, data = env.get(t, "/api/invocations?status=skipped")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var skipped []schema.Invocation
	require.NoError(t, json.Unmarshal(data, &skipped))
	require.Len(t, skipped, 1)
	assert.Equal(t, "creator", skipped[0].Plugin)

	resp, data = env.get(t, "/api/invocations/"+first["invocation_id"].(string))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var inv schema.Invocation
	require.NoError(t, json.Unmarshal(data, &inv))
	assert.True(t, traceHas(inv.Trace, "name is Contoso"), "%v", inv.Trace)

	resp, _ = env.get(t, "/api/invocations/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.get(t, "/api/invocations?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = env.get(t, "/api/stats?window=1h")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"total":2,"by_status":{"executed":1,"skipped":1}}`, string(data))

	resp, _ = env.get(t, "/api/stats?window=soon")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvocationsAPI_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/api/invocations", "/api/invocations/x", "/api/stats"} {
		resp, _ := env.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		schema.ErrCodeValidation:    http.StatusBadRequest,
		schema.ErrCodeNeedsNotMet:   http.StatusPreconditionFailed,
		schema.ErrCodeExecution:     http.StatusUnprocessableEntity,
		schema.ErrCodeNotFound:      http.StatusNotFound,
		schema.ErrCodeConflict:      http.StatusConflict,
		schema.ErrCodeIdentity:      http.StatusBadGateway,
		schema.ErrCodeUnhandled:     http.StatusInternalServerError,
		schema.ErrCodeConfiguration: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), code)
	}
}
