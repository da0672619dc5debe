package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineStats are gauges sampled from the event pipeline on each snapshot.
type PipelineStats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	BusDropped    uint64 `json:"bus_dropped"`
	EventsLost    uint64 `json:"events_lost"`
	TrackedOrders int    `json:"tracked_orders"`
	Subscribed    int    `json:"subscribed"`
}

// SystemMetrics tracks trading-cycle and order-pipeline performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	CycleLatency  *LatencyHistogram
	SubmitLatency *LatencyHistogram
	ApplyLatency  *LatencyHistogram

	// Counters
	cycles           atomic.Uint64
	cycleErrors      atomic.Uint64
	signalsGenerated atomic.Uint64
	submissions      atomic.Uint64
	failedSubmits    atomic.Uint64
	eventsApplied    atomic.Uint64
	anomalies        atomic.Uint64
	discrepancies    atomic.Uint64

	pipeline func() PipelineStats
	started  time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:  NewLatencyHistogram(1000),
		SubmitLatency: NewLatencyHistogram(1000),
		ApplyLatency:  NewLatencyHistogram(1000),
		started:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RecordCycle counts one scan cycle and its duration.
func (m *SystemMetrics) RecordCycle(d time.Duration, err error) {
	m.cycles.Add(1)
	if err != nil {
		m.cycleErrors.Add(1)
	}
	m.CycleLatency.RecordDuration(d)
}

func (m *SystemMetrics) IncrementSignals() {
	m.signalsGenerated.Add(1)
}

// RecordSubmission counts one submission attempt.
func (m *SystemMetrics) RecordSubmission(accepted bool, latency time.Duration) {
	m.submissions.Add(1)
	if !accepted {
		m.failedSubmits.Add(1)
	}
	m.SubmitLatency.RecordDuration(latency)
}

// RecordApply counts one event applied by the tracker.
func (m *SystemMetrics) RecordApply(d time.Duration) {
	m.eventsApplied.Add(1)
	m.ApplyLatency.RecordDuration(d)
}

func (m *SystemMetrics) IncrementAnomalies() {
	m.anomalies.Add(1)
}

func (m *SystemMetrics) IncrementDiscrepancies() {
	m.discrepancies.Add(1)
}

// SetPipelineSource installs the sampler used for queue and bus gauges.
func (m *SystemMetrics) SetPipelineSource(fn func() PipelineStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = fn
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CycleLatency     LatencyStats  `json:"cycle_latency"`
	SubmitLatency    LatencyStats  `json:"submit_latency"`
	ApplyLatency     LatencyStats  `json:"apply_latency"`
	Cycles           uint64        `json:"cycles"`
	CycleErrors      uint64        `json:"cycle_errors"`
	SignalsGenerated uint64        `json:"signals_generated"`
	Submissions      uint64        `json:"submissions"`
	FailedSubmits    uint64        `json:"failed_submissions"`
	EventsApplied    uint64        `json:"events_applied"`
	Anomalies        uint64        `json:"anomalies"`
	Discrepancies    uint64        `json:"discrepancies"`
	Pipeline         PipelineStats `json:"pipeline"`
	GoroutineCount   int           `json:"goroutine_count"`
	HeapAlloc        uint64        `json:"heap_alloc_bytes"`
	HeapSys          uint64        `json:"heap_sys_bytes"`
	Uptime           string        `json:"uptime"`
	Timestamp        time.Time     `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	sample := m.pipeline
	m.mu.RUnlock()

	var pipeline PipelineStats
	if sample != nil {
		pipeline = sample()
	}

	return MetricsSnapshot{
		CycleLatency:     m.CycleLatency.Stats(),
		SubmitLatency:    m.SubmitLatency.Stats(),
		ApplyLatency:     m.ApplyLatency.Stats(),
		Cycles:           m.cycles.Load(),
		CycleErrors:      m.cycleErrors.Load(),
		SignalsGenerated: m.signalsGenerated.Load(),
		Submissions:      m.submissions.Load(),
		FailedSubmits:    m.failedSubmits.Load(),
		EventsApplied:    m.eventsApplied.Load(),
		Anomalies:        m.anomalies.Load(),
		Discrepancies:    m.discrepancies.Load(),
		Pipeline:         pipeline,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Uptime:           time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
