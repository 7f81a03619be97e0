package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

var log = logging.Logger("cache")

// ErrClosed is returned by GetOrLoad after the cache has been closed.
var ErrClosed = errors.New("model cache is closed")

// Loader loads a model handle by ID and reports its estimated resident
// memory. Loader errors are propagated verbatim to the GetOrLoad caller.
type Loader func(ctx context.Context, modelID string) (handle any, memoryBytes int64, err error)

// EvictionReason identifies why an entry was removed.
type EvictionReason int

const (
	// EvictCapacity means the entry was removed to make room under the
	// memory budget.
	EvictCapacity EvictionReason = iota
	// EvictShutdown means the entry was removed because the cache closed.
	EvictShutdown
)

func (r EvictionReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Entry is a cached model handle with its bookkeeping. The handle is owned
// exclusively by the cache until eviction.
type Entry struct {
	ModelID        string
	Handle         any
	MemoryBytes    int64
	LoadTime       time.Duration
	LastAccess     time.Time
	AccessCount    int64
	PredictedValue float64
}

// Metrics is a consistent derived snapshot of cache behavior.
type Metrics struct {
	Hits               int64
	Misses             int64
	Evictions          int64
	Preloads           int64
	HitRate            float64
	MissRate           float64
	AverageLoadTime    time.Duration
	MemoryUsage        int64
	MemoryLimit        int64
	Entries            int
	PredictionAccuracy float64
}

// ModelCache records model usage, serves cached handles, preloads predicted
// next models, and evicts under memory pressure. All admission control runs
// under the cache's own lock, so no caller ever observes usage above the
// configured limit.
type ModelCache struct {
	mu  sync.Mutex
	cfg config.CacheConfig

	entries     map[string]*Entry
	memoryUsage int64

	hits, misses, evictions, preloads int64
	totalLoadTime                     time.Duration
	loads                             int64

	ledger           *usageLedger
	predictor        *nextModelPredictor
	eventsSinceTrain int
	lastModel        string
	lastState        string

	// Outstanding predictions awaiting confirmation by the next recorded
	// usage, for prediction-accuracy accounting.
	pending             map[string]struct{}
	predHits, predTotal int64

	preloadCtx    context.Context
	preloadCancel context.CancelFunc
	preloadWG     sync.WaitGroup
	closed        bool

	registry     *prometheus.Registry
	hitCounter   prometheus.Counter
	missCounter  prometheus.Counter
	evictCounter prometheus.Counter
	memoryGauge  prometheus.Gauge
	hitRateGauge prometheus.Gauge
}

// New creates a model cache with its own Prometheus registry.
func New(cfg config.CacheConfig) *ModelCache {
	ctx, cancel := context.WithCancel(context.Background())
	registry := prometheus.NewRegistry()

	c := &ModelCache{
		cfg:           cfg,
		entries:       make(map[string]*Entry),
		ledger:        newUsageLedger(cfg.UsageHistorySize),
		predictor:     newNextModelPredictor(),
		preloadCtx:    ctx,
		preloadCancel: cancel,
		registry:      registry,
	}

	c.hitCounter = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "chatty",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of model cache hits",
	})
	c.missCounter = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "chatty",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of model cache misses",
	})
	c.evictCounter = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "chatty",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total number of cache evictions",
	})
	c.memoryGauge = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "chatty",
		Subsystem: "cache",
		Name:      "memory_usage_bytes",
		Help:      "Estimated resident memory of cached model handles",
	})
	c.hitRateGauge = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "chatty",
		Subsystem: "cache",
		Name:      "hit_rate",
		Help:      "Model cache hit rate (0-1)",
	})

	return c
}

// PrometheusRegistry returns the cache's metric registry for external
// scraping.
func (c *ModelCache) PrometheusRegistry() *prometheus.Registry {
	return c.registry
}

// RecordUsage appends a usage event to the ledger. It never fails and never
// blocks on anything but the cache lock. Every PredictorRetrainEvents
// recorded events the next-model predictor is retrained from the ledger.
func (c *ModelCache) RecordUsage(modelID, state string, loadTime, inferenceTime time.Duration, ctxMap map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.append(UsageEvent{
		Timestamp:     time.Now(),
		ModelID:       modelID,
		State:         state,
		LoadTime:      loadTime,
		InferenceTime: inferenceTime,
		Context:       ctxMap,
	})
	c.lastModel = modelID
	c.lastState = state

	if c.pending != nil {
		c.predTotal++
		if _, ok := c.pending[modelID]; ok {
			c.predHits++
		}
		c.pending = nil
	}

	c.eventsSinceTrain++
	if c.eventsSinceTrain >= c.cfg.PredictorRetrainEvents {
		c.eventsSinceTrain = 0
		if err := c.predictor.retrain(c.ledger.snapshot()); err != nil {
			log.Warnf("predictor retrain skipped: %v", err)
		} else {
			log.Debugf("predictor retrained on %d events", c.ledger.len())
		}
	}
}

// GetOrLoad returns the cached handle for modelID, or invokes loader on a
// miss. Loader errors are returned unchanged. A successful load is admitted
// under the memory budget (evicting lowest-scored entries first) and then
// triggers asynchronous preloading of the predicted next models.
func (c *ModelCache) GetOrLoad(ctx context.Context, modelID string, loader Loader) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := c.entries[modelID]; ok {
		e.AccessCount++
		e.LastAccess = time.Now()
		c.hits++
		c.hitCounter.Inc()
		c.updateGaugesLocked()
		handle := e.Handle
		c.mu.Unlock()
		return handle, nil
	}
	c.misses++
	c.missCounter.Inc()
	c.mu.Unlock()

	start := time.Now()
	handle, memoryBytes, err := loader(ctx, modelID)
	if err != nil {
		return nil, err
	}
	loadTime := time.Since(start)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return handle, nil
	}
	c.insertLocked(modelID, handle, memoryBytes, loadTime)
	preloads := c.planPreloadsLocked(modelID)
	c.mu.Unlock()

	for _, id := range preloads {
		c.schedulePreload(id, loader)
	}
	return handle, nil
}

// insertLocked admits an entry under the memory budget, evicting
// lowest-scored entries first. An entry larger than the whole budget is
// rejected and logged; the caller keeps the loaded handle either way.
func (c *ModelCache) insertLocked(modelID string, handle any, memoryBytes int64, loadTime time.Duration) bool {
	if existing, ok := c.entries[modelID]; ok {
		// Lost a concurrent load race; keep the established entry.
		existing.AccessCount++
		existing.LastAccess = time.Now()
		return false
	}
	if memoryBytes > c.cfg.MemoryLimitBytes {
		log.Warnf("model %s (%d bytes) exceeds entire cache budget (%d bytes), not cached",
			modelID, memoryBytes, c.cfg.MemoryLimitBytes)
		return false
	}

	for c.memoryUsage+memoryBytes > c.cfg.MemoryLimitBytes {
		victim := c.lowestScoreLocked()
		if victim == nil {
			break
		}
		c.evictLocked(victim, EvictCapacity)
	}

	c.entries[modelID] = &Entry{
		ModelID:     modelID,
		Handle:      handle,
		MemoryBytes: memoryBytes,
		LoadTime:    loadTime,
		LastAccess:  time.Now(),
		AccessCount: 1,
	}
	c.memoryUsage += memoryBytes
	c.totalLoadTime += loadTime
	c.loads++
	c.updateGaugesLocked()
	return true
}

func (c *ModelCache) lowestScoreLocked() *Entry {
	now := time.Now()
	var victim *Entry
	lowest := math.Inf(1)
	for _, e := range c.entries {
		score := c.evictionScoreLocked(e, now)
		if score < lowest {
			lowest = score
			victim = e
		}
	}
	return victim
}

func (c *ModelCache) evictLocked(e *Entry, reason EvictionReason) {
	delete(c.entries, e.ModelID)
	c.memoryUsage -= e.MemoryBytes
	c.evictions++
	c.evictCounter.Inc()
	log.Debugf("evicted model %s (%d bytes, reason=%s)", e.ModelID, e.MemoryBytes, reason)
}

// valueScoreLocked blends recency, access frequency and load-time savings
// into [0,1].
func (c *ModelCache) valueScoreLocked(e *Entry, now time.Time) float64 {
	age := now.Sub(e.LastAccess)
	recency := math.Exp(-math.Ln2 * float64(age) / float64(c.cfg.RecencyHalfLife))

	frequency := float64(e.AccessCount) / float64(c.cfg.FrequencyWindow)
	if frequency > 1 {
		frequency = 1
	}

	savings := float64(e.LoadTime) / float64(c.cfg.ReferenceLoadTime)
	if savings > 1 {
		savings = 1
	}

	score := c.cfg.RecencyWeight*recency +
		c.cfg.FrequencyWeight*frequency +
		c.cfg.LoadSavingsWeight*savings
	e.PredictedValue = score
	return score
}

// evictionScoreLocked is the value score minus a penalty for the entry's
// share of the memory budget. The lowest score is evicted first.
func (c *ModelCache) evictionScoreLocked(e *Entry, now time.Time) float64 {
	memoryCost := float64(e.MemoryBytes) / float64(c.cfg.MemoryLimitBytes)
	return c.valueScoreLocked(e, now) - c.cfg.MemoryCostWeight*memoryCost
}

// planPreloadsLocked asks the predictor for the top-K likely next models
// above the probability threshold and records them for accuracy tracking.
func (c *ModelCache) planPreloadsLocked(justLoaded string) []string {
	preds := c.predictor.predict(c.lastModel, c.lastState, time.Now().Hour())
	if len(preds) == 0 {
		return nil
	}

	pending := make(map[string]struct{})
	var ids []string
	for _, p := range preds {
		if len(ids) >= c.cfg.PreloadTopK {
			break
		}
		if p.Probability < c.cfg.PredictionThreshold {
			break
		}
		pending[p.ModelID] = struct{}{}
		if p.ModelID == justLoaded {
			continue
		}
		if _, cached := c.entries[p.ModelID]; cached {
			continue
		}
		ids = append(ids, p.ModelID)
	}
	if len(pending) > 0 {
		c.pending = pending
	}
	return ids
}

// schedulePreload loads a predicted model in the background. Failures are
// logged and dropped; preloads go through the same admission path as
// regular inserts. The task is registered under the lock so a concurrent
// Close either sees it and waits, or has already marked the cache closed.
func (c *ModelCache) schedulePreload(modelID string, loader Loader) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.preloadWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.preloadWG.Done()

		start := time.Now()
		handle, memoryBytes, err := loader(c.preloadCtx, modelID)
		if err != nil {
			log.Debugf("preload of model %s failed: %v", modelID, err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		if c.insertLocked(modelID, handle, memoryBytes, time.Since(start)) {
			c.preloads++
		}
	}()
}

// Metrics returns a consistent derived snapshot. Hit and miss rates sum to
// one once at least one request has been made.
func (c *ModelCache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Preloads:    c.preloads,
		MemoryUsage: c.memoryUsage,
		MemoryLimit: c.cfg.MemoryLimitBytes,
		Entries:     len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		m.HitRate = float64(c.hits) / float64(total)
		m.MissRate = float64(c.misses) / float64(total)
	}
	if c.loads > 0 {
		m.AverageLoadTime = c.totalLoadTime / time.Duration(c.loads)
	}
	if c.predTotal > 0 {
		m.PredictionAccuracy = float64(c.predHits) / float64(c.predTotal)
	}
	return m
}

func (c *ModelCache) updateGaugesLocked() {
	c.memoryGauge.Set(float64(c.memoryUsage))
	if total := c.hits + c.misses; total > 0 {
		c.hitRateGauge.Set(float64(c.hits) / float64(total))
	}
}

// Close cancels outstanding preload tasks, waits for them to finish (or
// for ctx to expire), and drops every cached entry.
func (c *ModelCache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.preloadCancel()

	done := make(chan struct{})
	go func() {
		c.preloadWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.evictLocked(e, EvictShutdown)
	}
	c.updateGaugesLocked()
	return nil
}
