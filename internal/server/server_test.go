package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"github.com/plexushq/plexus/internal/config"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/metrics"
	"github.com/plexushq/plexus/internal/provider"
	"github.com/plexushq/plexus/internal/quota"
	"github.com/plexushq/plexus/internal/router"
	"github.com/plexushq/plexus/internal/testutil"
	"github.com/plexushq/plexus/internal/worker"
)

const unaryUpstreamBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-2024-08-06",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func gatewayConfig(upstreamURL, extra string) string {
	return fmt.Sprintf(`
providers:
  openai-main:
    type: openai
    base_url: %s
models:
  gpt-4o:
    targets:
      - provider: openai-main
        model: gpt-4o-2024-08-06
    pricing:
      input_per_1m: 2.50
      output_per_1m: 10.00
admin:
  api_key: admin-secret
%s`, upstreamURL, extra)
}

func writeConfig(t *testing.T, body string) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plexus.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

type env struct {
	handler   http.Handler
	config    *config.Store
	cooldowns *cooldown.Manager
	quotas    *quota.Tracker
	collector *metrics.Collector
}

func newEnv(t *testing.T, configYAML string) *env {
	t.Helper()
	store := writeConfig(t, configYAML)
	cd := cooldown.NewManager()
	qt := quota.NewTracker()
	cache, err := provider.NewCache(nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	col := metrics.NewCollector()
	handler := New(Deps{
		Config:    store,
		Router:    router.New(store, cd, qt, 1),
		Invoker:   provider.NewInvoker(cache),
		Cooldowns: cd,
		Quotas:    qt,
		Traces:    worker.NewTraceWriter(testutil.NewFakeStore(), nil),
		Collector: col,
		Version:   "test",
	})
	return &env{handler: handler, config: store, cooldowns: cd, quotas: qt, collector: col}
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionsUnary(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	// The client sees its alias, never the canonical slug.
	if got := r.Get("model").String(); got != "gpt-4o" {
		t.Fatalf("model = %q, want alias gpt-4o", got)
	}
	if got := r.Get("choices.0.message.content").String(); got != "hello" {
		t.Fatalf("content = %q", got)
	}
	if got := r.Get("usage.prompt_tokens").Int(); got != 10 {
		t.Fatalf("prompt_tokens = %d, want 10", got)
	}

	perf := e.collector.Snapshot()
	if len(perf) != 1 || perf[0].Provider != "openai-main" {
		t.Fatalf("performance snapshot = %+v", perf)
	}
}

func TestRequestIDEcho(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodGet, "/health", "", map[string]string{"X-Request-Id": "req-echo"})
	if got := rec.Header().Get("X-Request-Id"); got != "req-echo" {
		t.Fatalf("X-Request-Id = %q, want req-echo", got)
	}
}

func TestMessagesUnary(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if got := r.Get("type").String(); got != "message" {
		t.Fatalf("type = %q", got)
	}
	if got := r.Get("content.0.text").String(); got != "hello" {
		t.Fatalf("content = %q", got)
	}
	if got := r.Get("stop_reason").String(); got != "end_turn" {
		t.Fatalf("stop_reason = %q", got)
	}
	if got := r.Get("usage.input_tokens").Int(); got != 10 {
		t.Fatalf("input_tokens = %d, want 10", got)
	}
}

func TestInvalidRequestRejected(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[]}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if got := r.Get("error.type").String(); got != "invalid_request_error" {
		t.Fatalf("error type = %q", got)
	}
	if !strings.Contains(r.Get("error.message").String(), "At least one message is required") {
		t.Fatalf("error message = %q", r.Get("error.message").String())
	}
}

func TestModelNotFoundPerDialect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"nope","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "error.type").String(); got != "model_not_found" {
		t.Fatalf("error type = %q", got)
	}

	// The Anthropic dialect reports errors in its own envelope.
	rec = do(t, e.handler, http.MethodPost, "/v1/messages",
		`{"model":"nope","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("messages status = %d, want 404", rec.Code)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if r.Get("type").String() != "error" || r.Get("error.type").String() != "model_not_found" {
		t.Fatalf("anthropic envelope = %s", rec.Body)
	}
}

func TestAllProvidersCooling(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))
	e.cooldowns.RecordFailure("openai-main", cooldown.ReasonRateLimit, 429, 0, "throttled")

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want 30", got)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "error.type").String(); got != "all_providers_cooled_down" {
		t.Fatalf("error type = %q", got)
	}
}

func TestUnaryFallback(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()

	// Two provider identities over the same upstream: whichever is attempted
	// first absorbs the 500 and cools down, the other serves the retry.
	cfg := fmt.Sprintf(`
providers:
  primary:
    type: openai
    base_url: %s
  secondary:
    type: openai
    base_url: %s
models:
  gpt-4o:
    targets:
      - provider: primary
        model: gpt-4o-2024-08-06
      - provider: secondary
        model: gpt-4o-2024-08-06
`, srv.URL, srv.URL)
	e := newEnv(t, cfg)

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if hits.Load() != 2 {
		t.Fatalf("upstream hits = %d, want 2", hits.Load())
	}
	onPrimary, _ := e.cooldowns.IsOnCooldown("primary")
	onSecondary, _ := e.cooldowns.IsOnCooldown("secondary")
	if onPrimary == onSecondary {
		t.Fatalf("exactly one provider should be cooling, got primary=%v secondary=%v", onPrimary, onSecondary)
	}
}

func TestStreamingChatCompletions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		w.Write([]byte("data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: {\"id\":\"c\",\"choices\":[],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":2,\"total_tokens\":3}}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"hel"`) || !strings.Contains(body, `"content":"lo"`) {
		t.Fatalf("deltas missing from stream: %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream not terminated with [DONE]: %q", body)
	}

	perf := e.collector.Snapshot()
	if len(perf) != 1 || perf[0].Provider != "openai-main" {
		t.Fatalf("performance snapshot = %+v", perf)
	}
}

func TestStreamingMessages(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		w.Write([]byte("data: {\"id\":\"c\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, ""))

	rec := do(t, e.handler, http.MethodPost, "/v1/messages",
		`{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, event := range []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	} {
		if !strings.Contains(body, event) {
			t.Fatalf("stream missing %q: %s", event, body)
		}
	}
	if !strings.Contains(body, `"text":"hi"`) {
		t.Fatalf("text delta missing: %s", body)
	}
	if !strings.Contains(body, `"stop_reason":"end_turn"`) {
		t.Fatalf("stop_reason missing: %s", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Fatal("anthropic stream must not carry the OpenAI [DONE] sentinel")
	}
}

func TestClientAuth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, `keys:
  alice:
    key: sk-alice
`))

	reqBody := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions", reqBody, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	rec = do(t, e.handler, http.MethodPost, "/v1/chat/completions", reqBody,
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec = do(t, e.handler, http.MethodPost, "/v1/chat/completions", reqBody,
		map[string]string{"Authorization": "Bearer sk-alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodGet, "/v0/config/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	rec = do(t, e.handler, http.MethodGet, "/v0/config/status", "",
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec = do(t, e.handler, http.MethodGet, "/v0/config/status", "",
		map[string]string{"Authorization": "Bearer admin-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "version").Int(); got != 1 {
		t.Fatalf("version = %d, want 1", got)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	t.Parallel()
	cfg := `
providers:
  openai-main:
    type: openai
    base_url: http://127.0.0.1:9
models:
  gpt-4o:
    targets:
      - provider: openai-main
        model: gpt-4o-2024-08-06
`
	e := newEnv(t, cfg)

	rec := do(t, e.handler, http.MethodGet, "/v0/config/status", "",
		map[string]string{"Authorization": "Bearer anything"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin API disabled") {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestAdminConfigEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))
	admin := map[string]string{"Authorization": "Bearer admin-secret"}

	rec := do(t, e.handler, http.MethodGet, "/v0/config", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET config: status = %d", rec.Code)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if !strings.Contains(r.Get("config").String(), "openai-main") {
		t.Fatalf("config body missing provider: %s", rec.Body)
	}
	if r.Get("checksum").String() == "" {
		t.Fatal("checksum empty")
	}

	rec = do(t, e.handler, http.MethodPost, "/v0/config", `{}`, admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty write: status = %d, want 400", rec.Code)
	}

	next := gatewayConfig("http://127.0.0.1:9", "") + `
log_level: debug
`
	body, _ := json.Marshal(map[string]string{"config": next})
	rec = do(t, e.handler, http.MethodPost, "/v0/config", string(body), admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("write config: status = %d, body = %s", rec.Code, rec.Body)
	}
	wr := gjson.ParseBytes(rec.Body.Bytes())
	if got := wr.Get("version").Int(); got != 2 {
		t.Fatalf("version = %d, want 2", got)
	}
	changed := wr.Get("changed_sections").Array()
	found := false
	for _, c := range changed {
		if c.String() == "log_level" {
			found = true
		}
	}
	if !found {
		t.Fatalf("changed_sections = %v, want log_level", changed)
	}

	if got := e.config.Current().File.LogLevel; got != "debug" {
		t.Fatalf("snapshot log level = %q, want debug", got)
	}

	rec = do(t, e.handler, http.MethodPost, "/v0/config/reload", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload: status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "version").Int(); got != 3 {
		t.Fatalf("reload version = %d, want 3", got)
	}
}

func TestAdminConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))
	admin := map[string]string{"Authorization": "Bearer admin-secret"}

	bad := `
models:
  gpt-4o:
    targets:
      - provider: ghost
        model: m
`
	body, _ := json.Marshal(map[string]string{"config": bad})
	rec := do(t, e.handler, http.MethodPost, "/v0/config", string(body), admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	// The rejected write must not disturb the live snapshot.
	if e.config.Current().Version != 1 {
		t.Fatalf("snapshot version = %d, want 1", e.config.Current().Version)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodGet, "/v1/models", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if got := r.Get("object").String(); got != "list" {
		t.Fatalf("object = %q", got)
	}
	m := r.Get("data.0")
	if m.Get("id").String() != "gpt-4o" {
		t.Fatalf("model id = %q", m.Get("id").String())
	}
	if m.Get("owned_by").String() != "plexus" {
		t.Fatalf("owned_by = %q", m.Get("owned_by").String())
	}
	if m.Get("canonical_slug").String() != "gpt-4o-2024-08-06" {
		t.Fatalf("canonical_slug = %q", m.Get("canonical_slug").String())
	}
	if m.Get("provider").String() != "openai-main" {
		t.Fatalf("provider = %q", m.Get("provider").String())
	}
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gatewayConfig("http://127.0.0.1:9", ""))

	rec := do(t, e.handler, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	r := gjson.ParseBytes(rec.Body.Bytes())
	if r.Get("status").String() != "ok" || r.Get("version").String() != "test" {
		t.Fatalf("health body = %s", rec.Body)
	}

	rec = do(t, e.handler, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body = %s", rec.Code, rec.Body)
	}

	e.cooldowns.RecordFailure("openai-main", cooldown.ReasonServer, 500, 0, "boom")
	rec = do(t, e.handler, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while cooling: status = %d, want 503", rec.Code)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "reason").String(); got != "all providers cooling down" {
		t.Fatalf("reason = %q", got)
	}
}

func TestPerformanceManagement(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()
	e := newEnv(t, gatewayConfig(srv.URL, ""))
	admin := map[string]string{"Authorization": "Bearer admin-secret"}

	rec := do(t, e.handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("completion status = %d", rec.Code)
	}

	rec = do(t, e.handler, http.MethodGet, "/v0/management/performance", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("get performance: status = %d", rec.Code)
	}
	data := gjson.GetBytes(rec.Body.Bytes(), "data").Array()
	if len(data) != 1 || data[0].Get("provider").String() != "openai-main" {
		t.Fatalf("performance data = %s", rec.Body)
	}

	rec = do(t, e.handler, http.MethodGet, "/v0/management/performance?provider=nope", "", admin)
	if got := gjson.GetBytes(rec.Body.Bytes(), "data").Array(); len(got) != 0 {
		t.Fatalf("filtered data = %s", rec.Body)
	}

	rec = do(t, e.handler, http.MethodDelete, "/v0/management/performance", "", admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: status = %d, want 204", rec.Code)
	}
	if len(e.collector.Snapshot()) != 0 {
		t.Fatal("collector not reset")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unaryUpstreamBody))
	}))
	defer srv.Close()

	store := writeConfig(t, gatewayConfig(srv.URL, ""))
	cd := cooldown.NewManager()
	qt := quota.NewTracker()
	cache, err := provider.NewCache(nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	reg := prometheus.NewRegistry()
	handler := New(Deps{
		Config:    store,
		Router:    router.New(store, cd, qt, 1),
		Invoker:   provider.NewInvoker(cache),
		Cooldowns: cd,
		Quotas:    qt,
		Traces:    worker.NewTraceWriter(testutil.NewFakeStore(), nil),
		Collector: metrics.NewCollector(),
		Metrics:   metrics.NewMetrics(reg),
		Registry:  reg,
		Version:   "test",
	})

	rec := do(t, handler, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("completion status = %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "plexus_requests_total") {
		t.Fatalf("metrics output missing request counter: %s", body)
	}
	if !strings.Contains(body, "plexus_tokens_processed_total") {
		t.Fatalf("metrics output missing token counter: %s", body)
	}
}
