package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	plexus "github.com/plexushq/plexus/internal"
)

// sampleWindow bounds the per-target latency ring. Old samples are
// overwritten, so percentiles reflect recent traffic.
const sampleWindow = 256

// Collector aggregates per-target performance in memory for the management
// API. It is independent of Prometheus: the management view is resettable
// and reports percentiles over a recent window rather than process lifetime.
type Collector struct {
	mu    sync.RWMutex
	stats map[string]*targetStats
}

type targetStats struct {
	provider string
	model    string

	requests     atomic.Int64
	failures     atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64

	mu        sync.Mutex
	costUSD   float64
	durations ring
	ttfts     ring
}

// ring is a fixed-size overwrite buffer of float64 samples.
type ring struct {
	buf   [sampleWindow]float64
	next  int
	count int
}

func (r *ring) add(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % sampleWindow
	if r.count < sampleWindow {
		r.count++
	}
}

// values returns a sorted copy of the live samples.
func (r *ring) values() []float64 {
	out := make([]float64, r.count)
	copy(out, r.buf[:r.count])
	sort.Float64s(out)
	return out
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{stats: make(map[string]*targetStats)}
}

// Observe folds one finished request into the per-target stats.
func (c *Collector) Observe(entry plexus.TraceEntry) {
	ts := c.target(entry.ProviderID, entry.Model)

	ts.requests.Add(1)
	if !entry.Success {
		ts.failures.Add(1)
	}
	ts.inputTokens.Add(int64(entry.Usage.InputTokens))
	ts.outputTokens.Add(int64(entry.Usage.OutputTokens))

	ts.mu.Lock()
	ts.costUSD += entry.CostUSD
	ts.durations.add(float64(entry.DurationMs))
	if entry.ProviderTTFTMs > 0 {
		ts.ttfts.add(float64(entry.ProviderTTFTMs))
	}
	ts.mu.Unlock()
}

func (c *Collector) target(provider, model string) *targetStats {
	key := provider + "|" + model

	c.mu.RLock()
	ts, ok := c.stats[key]
	c.mu.RUnlock()
	if ok {
		return ts
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok = c.stats[key]; ok {
		return ts
	}
	ts = &targetStats{provider: provider, model: model}
	c.stats[key] = ts
	return ts
}

// TargetPerformance is the management API view of one (provider, model).
type TargetPerformance struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Requests        int64   `json:"requests"`
	Failures        int64   `json:"failures"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	P50DurationMs   float64 `json:"p50_duration_ms"`
	P95DurationMs   float64 `json:"p95_duration_ms"`
	AvgTTFTMs       float64 `json:"avg_ttft_ms,omitempty"`
	P95TTFTMs       float64 `json:"p95_ttft_ms,omitempty"`
	SuccessRatio    float64 `json:"success_ratio"`
	SampleWindowLen int     `json:"sample_window"`
}

// Snapshot returns the current per-target stats, sorted by provider then
// model for stable API output.
func (c *Collector) Snapshot() []TargetPerformance {
	c.mu.RLock()
	targets := make([]*targetStats, 0, len(c.stats))
	for _, ts := range c.stats {
		targets = append(targets, ts)
	}
	c.mu.RUnlock()

	out := make([]TargetPerformance, 0, len(targets))
	for _, ts := range targets {
		reqs := ts.requests.Load()
		fails := ts.failures.Load()

		ts.mu.Lock()
		durs := ts.durations.values()
		ttfts := ts.ttfts.values()
		cost := ts.costUSD
		ts.mu.Unlock()

		tp := TargetPerformance{
			Provider:        ts.provider,
			Model:           ts.model,
			Requests:        reqs,
			Failures:        fails,
			InputTokens:     ts.inputTokens.Load(),
			OutputTokens:    ts.outputTokens.Load(),
			CostUSD:         cost,
			AvgDurationMs:   mean(durs),
			P50DurationMs:   percentile(durs, 0.50),
			P95DurationMs:   percentile(durs, 0.95),
			AvgTTFTMs:       mean(ttfts),
			P95TTFTMs:       percentile(ttfts, 0.95),
			SampleWindowLen: len(durs),
		}
		if reqs > 0 {
			tp.SuccessRatio = float64(reqs-fails) / float64(reqs)
		}
		out = append(out, tp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Reset discards all accumulated stats.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.stats = make(map[string]*targetStats)
	c.mu.Unlock()
}

// ResetModel discards stats for one model across all providers.
func (c *Collector) ResetModel(model string) {
	c.mu.Lock()
	for key, ts := range c.stats {
		if ts.model == model {
			delete(c.stats, key)
		}
	}
	c.mu.Unlock()
}

func mean(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// percentile reads the q-th percentile from an ascending sample slice using
// nearest-rank.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
