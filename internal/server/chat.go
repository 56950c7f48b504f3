package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/convert"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/provider/sseutil"
	"github.com/plexushq/plexus/internal/quota"
	"github.com/plexushq/plexus/internal/storage/debugfs"
	"github.com/plexushq/plexus/internal/stream"
	"github.com/plexushq/plexus/internal/usage"
)

// maxRequestBody bounds client completion request bodies (10 MB).
const maxRequestBody = 10 << 20

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, plexus.APIChat)
	if !ok {
		return
	}
	req, err := convert.FromOpenAI(body)
	if err != nil {
		writeClientError(w, plexus.APIChat, errorStatus(err), err.Error(), errorKind(err))
		return
	}
	s.serveCompletion(w, r, req, plexus.APIChat, body)
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, plexus.APIMessages)
	if !ok {
		return
	}
	req, err := convert.FromAnthropic(body)
	if err != nil {
		writeClientError(w, plexus.APIMessages, errorStatus(err), err.Error(), errorKind(err))
		return
	}
	s.serveCompletion(w, r, req, plexus.APIMessages, body)
}

func readBody(w http.ResponseWriter, r *http.Request, api plexus.ClientAPI) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeClientError(w, api, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return nil, false
	}
	return body, true
}

// serveCompletion runs the shared pipeline for both client dialects:
// resolve with fallback, invoke, respond, finalize trace.
func (s *server) serveCompletion(w http.ResponseWriter, r *http.Request, req *plexus.UnifiedRequest, api plexus.ClientAPI, rawBody []byte) {
	ctx := r.Context()
	if s.deps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.RequestTimeout)
		defer cancel()
	}

	rc := &plexus.RequestContext{
		ID:        plexus.RequestIDFromContext(ctx),
		Start:     time.Now(),
		ClientIP:  clientIP(r),
		KeyName:   plexus.KeyNameFromContext(ctx),
		ClientAPI: api,
		Alias:     req.Model,
		Streaming: req.Stream,
	}
	for _, warn := range req.Warnings {
		slog.LogAttrs(ctx, slog.LevelWarn, "request conversion warning",
			slog.String("request_id", rc.ID),
			slog.String("warning", warn),
		)
	}

	var capture *debugfs.Capture
	if s.deps.Debug != nil {
		if c, err := s.deps.Debug.Begin(rc.ID, rc.Start); err == nil {
			capture = c
			capture.Write("client_request.json", rawBody)
		}
	}

	// Fallback is bounded by the alias's declared target count; a missing
	// alias surfaces from the first Resolve.
	attempts := 1
	if targets, ok := s.deps.Router.Targets(req.Model); ok && len(targets) > 0 {
		attempts = len(targets)
	}

	if req.Stream {
		s.serveStream(ctx, w, r, rc, req, attempts, capture)
		return
	}
	s.serveUnary(ctx, w, rc, req, attempts, capture)
}

func (s *server) serveUnary(ctx context.Context, w http.ResponseWriter, rc *plexus.RequestContext, req *plexus.UnifiedRequest, attempts int, capture *debugfs.Capture) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		route, err := s.deps.Router.Resolve(ctx, req.Model)
		if err != nil {
			s.finishError(w, rc, err)
			return
		}
		rc.ProviderID, rc.Model, rc.TargetAPI = route.ProviderID, route.Model, targetAPI(route.Provider.Type)

		attemptStart := time.Now()
		resp, err := s.deps.Invoker.Generate(ctx, route, req)
		s.observeUpstream(route.ProviderID, route.Model, time.Since(attemptStart), err)
		s.deps.Router.RecordOutcome(route.ProviderID, err, retryAfterOf(err))
		if err != nil {
			lastErr = err
			slog.LogAttrs(ctx, slog.LevelWarn, "provider attempt failed",
				slog.String("provider", route.ProviderID),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		var body any
		if rc.ClientAPI == plexus.APIMessages {
			body = anthropicMessage(resp, rc.Alias)
		} else {
			body = chatCompletion(resp, rc.Alias)
		}
		writeJSON(w, http.StatusOK, body)
		if capture != nil {
			if b, merr := json.Marshal(body); merr == nil {
				capture.Write("provider_response.json", b)
			}
		}

		var u plexus.Usage
		if resp.Usage != nil {
			u = *resp.Usage
		}
		s.finish(rc, u, false, nil)
		return
	}
	s.finishError(w, rc, lastErr)
}

func (s *server) serveStream(ctx context.Context, w http.ResponseWriter, r *http.Request, rc *plexus.RequestContext, req *plexus.UnifiedRequest, attempts int, capture *debugfs.Capture) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Fallback is allowed only before the first client byte: once a stream
	// opens, its failures terminate the response instead of retrying.
	var (
		ch      <-chan plexus.StreamChunk
		route   plexus.RouteDecision
		lastErr error
	)
	for i := 0; i < attempts; i++ {
		var err error
		route, err = s.deps.Router.Resolve(streamCtx, req.Model)
		if err != nil {
			s.finishError(w, rc, err)
			return
		}
		rc.ProviderID, rc.Model, rc.TargetAPI = route.ProviderID, route.Model, targetAPI(route.Provider.Type)

		attemptStart := time.Now()
		ch, err = s.deps.Invoker.Stream(streamCtx, route, req)
		if err != nil {
			lastErr = err
			s.observeUpstream(route.ProviderID, route.Model, time.Since(attemptStart), err)
			s.deps.Router.RecordOutcome(route.ProviderID, err, retryAfterOf(err))
			slog.LogAttrs(streamCtx, slog.LevelWarn, "provider attempt failed",
				slog.String("provider", route.ProviderID),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		break
	}
	if ch == nil {
		s.finishError(w, rc, lastErr)
		return
	}

	sanitized := stream.Sanitize(streamCtx, ch, cancel)
	tap := stream.NewTap(rc)

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	var enc *anthropicStreamEncoder
	if rc.ClientAPI == plexus.APIMessages {
		enc = newAnthropicStreamEncoder(rc.Alias)
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	upstreamStart := time.Now()
	var u plexus.Usage
	var streamErr error

loop:
	for {
		select {
		case chunk, open := <-sanitized:
			if !open {
				break loop
			}
			if chunk.Err != nil {
				streamErr = chunk.Err
				break loop
			}
			if chunk.Usage != nil {
				u = *chunk.Usage
			}
			if chunk.Done {
				break loop
			}
			rc.MarkProviderFirstToken(time.Now())
			if enc != nil {
				enc.WriteChunk(w, tap, chunk.Data)
			} else {
				writeTappedData(w, tap, chunk.Data)
			}
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			cancel()
			s.finishCancelled(rc, u, tap)
			captureStream(capture, tap)
			return
		}
	}

	elapsed := time.Since(upstreamStart)
	if streamErr != nil {
		// Past the first client byte no status change is possible; close
		// with a best-effort synthetic error terminator.
		s.observeUpstream(route.ProviderID, route.Model, elapsed, streamErr)
		s.deps.Router.RecordOutcome(route.ProviderID, streamErr, retryAfterOf(streamErr))
		slog.LogAttrs(streamCtx, slog.LevelError, "stream failed mid-flight",
			slog.String("provider", route.ProviderID),
			slog.String("error", streamErr.Error()),
		)
		if enc != nil {
			enc.WriteError(w, tap)
		} else {
			writeTappedData(w, tap, sseutil.BuildFinishChunk("", rc.Alias, time.Now().Unix(), "error"))
			writeTapped(w, tap, sseDone)
		}
		flusher.Flush()
		s.finish(rc, u, tap.Truncated(), streamErr)
		captureStream(capture, tap)
		return
	}

	s.observeUpstream(route.ProviderID, route.Model, elapsed, nil)
	s.deps.Router.RecordOutcome(route.ProviderID, nil, 0)
	if enc != nil {
		enc.Finish(w, tap, u)
	} else {
		writeTapped(w, tap, sseDone)
	}
	flusher.Flush()
	s.finish(rc, u, tap.Truncated(), nil)
	captureStream(capture, tap)
}

// finish derives the trace entry for a completed request and fans it out to
// the trace writer and performance collector.
func (s *server) finish(rc *plexus.RequestContext, u plexus.Usage, truncated bool, err error) {
	entry := usage.Finalize(rc, u, s.aliasPricing(rc.Alias), truncated, err)
	s.record(entry)
	if err == nil {
		s.observeQuota(rc.ProviderID, entry.CostUSD)
	}
	if m := s.deps.Metrics; m != nil && err == nil {
		if u.InputTokens > 0 {
			m.TokensProcessed.WithLabelValues(rc.Model, "input").Add(float64(u.InputTokens))
		}
		if u.OutputTokens > 0 {
			m.TokensProcessed.WithLabelValues(rc.Model, "output").Add(float64(u.OutputTokens))
		}
	}
}

// observeQuota advances the provider's quota windows after a successful
// request: one request unit per rolling window, cost into the subscription
// balance.
func (s *server) observeQuota(providerID string, costUSD float64) {
	if s.deps.Quotas == nil {
		return
	}
	p := s.deps.Config.Current().Providers[providerID]
	if p == nil || p.QuotaChecker == "" {
		return
	}
	for _, wt := range []quota.WindowType{quota.WindowFiveHour, quota.WindowDaily, quota.WindowWeekly, quota.WindowMonthly} {
		s.deps.Quotas.Observe(p.QuotaChecker, wt, 1)
	}
	if costUSD > 0 {
		s.deps.Quotas.Observe(p.QuotaChecker, quota.WindowSubscription, costUSD)
	}
}

// finishCancelled records a client-side disconnect. The upstream is not at
// fault, so no cooldown state changes.
func (s *server) finishCancelled(rc *plexus.RequestContext, u plexus.Usage, tap *stream.Tap) {
	entry := usage.Finalize(rc, u, s.aliasPricing(rc.Alias), tap.Truncated(), context.Canceled)
	entry.ErrorType = "client_cancelled"
	s.record(entry)
}

func (s *server) record(entry plexus.TraceEntry) {
	if s.deps.Traces != nil {
		s.deps.Traces.Record(entry)
	}
	if s.deps.Collector != nil {
		s.deps.Collector.Observe(entry)
	}
}

// finishError writes the error response for a request that produced no client
// bytes and records its trace entry.
func (s *server) finishError(w http.ResponseWriter, rc *plexus.RequestContext, err error) {
	if err == nil {
		err = plexus.ErrProviderError
	}
	status := errorStatus(err)
	if status == http.StatusServiceUnavailable {
		if d := s.deps.Router.RetryAfter(rc.Alias); d > 0 {
			w.Header()["Retry-After"] = []string{strconv.Itoa(int(d / time.Second))}
		}
		s.countQuotaRejects(rc.Alias, err)
	}
	writeClientError(w, rc.ClientAPI, status, err.Error(), errorKind(err))
	s.finish(rc, plexus.Usage{}, false, err)
}

func (s *server) aliasPricing(alias string) *plexus.Pricing {
	if ma, ok := s.deps.Config.Current().Models[alias]; ok {
		return ma.Pricing
	}
	return nil
}

func (s *server) observeUpstream(providerID, model string, elapsed time.Duration, err error) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(providerID, model).Observe(elapsed.Seconds())
	if err != nil {
		m.UpstreamErrors.WithLabelValues(providerID, statusLabel(cooldown.StatusOf(err))).Inc()
		m.CooldownTrips.WithLabelValues(providerID, string(cooldown.Classify(err))).Inc()
	}
}

func (s *server) countQuotaRejects(alias string, err error) {
	m := s.deps.Metrics
	if m == nil || !errors.Is(err, plexus.ErrQuotaExhausted) {
		return
	}
	snap := s.deps.Config.Current()
	targets, _ := s.deps.Router.Targets(alias)
	for _, t := range targets {
		p := snap.Providers[t.Provider]
		if p != nil && p.QuotaChecker != "" && !s.deps.Quotas.Admit(p.QuotaChecker) {
			m.QuotaRejects.WithLabelValues(p.QuotaChecker).Inc()
		}
	}
}

func retryAfterOf(err error) time.Duration {
	var ae *plexus.APIError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// targetAPI maps a provider dialect to the wire format recorded on traces.
func targetAPI(t plexus.ProviderType) plexus.ClientAPI {
	if t == plexus.ProviderAnthropic {
		return plexus.APIMessages
	}
	return plexus.APIChat
}

func statusLabel(status int) string {
	if status < 0 || status >= len(statusText) {
		return statusText[0]
	}
	return statusText[status]
}

func clientIP(r *http.Request) string {
	if vals := r.Header["X-Forwarded-For"]; len(vals) > 0 {
		ip, _, _ := strings.Cut(vals[0], ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeTapped writes p to the client and mirrors the exact bytes into the tap.
func writeTapped(w http.ResponseWriter, t *stream.Tap, p []byte) {
	t.Observe(p)
	w.Write(p)
}

func writeTappedData(w http.ResponseWriter, t *stream.Tap, data []byte) {
	writeTapped(w, t, sseDataPrefix)
	writeTapped(w, t, data)
	writeTapped(w, t, sseNewline)
}

func writeTappedEvent(w http.ResponseWriter, t *stream.Tap, event string, data []byte) {
	writeTapped(w, t, sseEventPrefix)
	writeTapped(w, t, []byte(event))
	writeTapped(w, t, sseFieldEnd)
	writeTappedData(w, t, data)
}

func captureStream(capture *debugfs.Capture, tap *stream.Tap) {
	if capture == nil {
		return
	}
	b, _ := tap.Bytes()
	capture.Write("client_stream.txt", b)
}

// --- OpenAI unary egress ---

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *openaiUsage `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatMessage struct {
	Role      string          `json:"role"`
	Content   *string         `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	PromptTokensDetails     *promptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *completionTokensDetails `json:"completion_tokens_details,omitempty"`
}

type promptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type completionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// chatCompletion renders a unified response as an OpenAI chat completion.
// The model field reports the client-visible alias, not the canonical slug.
func chatCompletion(resp *plexus.UnifiedResponse, alias string) chatCompletionResponse {
	msg := chatMessage{Role: "assistant", ToolCalls: resp.ToolCalls}
	if resp.Content != "" || len(resp.ToolCalls) == 0 {
		content := resp.Content
		msg.Content = &content
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	out := chatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   alias,
		Choices: []chatChoice{{Index: 0, Message: msg, FinishReason: finish}},
	}
	if resp.Usage != nil {
		u := &openaiUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if resp.Usage.CachedTokens > 0 {
			u.PromptTokensDetails = &promptTokensDetails{CachedTokens: resp.Usage.CachedTokens}
		}
		if resp.Usage.ReasoningTokens > 0 {
			u.CompletionTokensDetails = &completionTokensDetails{ReasoningTokens: resp.Usage.ReasoningTokens}
		}
		out.Usage = u
	}
	return out
}
