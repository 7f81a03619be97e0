package monitoring

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

var log = logging.Logger("monitoring")

// Accessors supplies application-side metric values for each snapshot. Any
// nil accessor falls back to a constant placeholder, so a partially wired
// monitor still produces complete snapshots.
type Accessors struct {
	CPUUsage            func() float64
	MemoryUsage         func() float64
	InferenceLatency    func() float64
	ModelLoadTime       func() float64
	CacheHitRate        func() float64
	AudioProcessingTime func() float64
	QueueDepth          func() float64
	ErrorRate           func() float64
}

// Placeholder values used when an accessor is not supplied.
const (
	placeholderLatency  = 0.1
	placeholderLoadTime = 1.0
	placeholderHitRate  = 1.0
)

// AlertCallback receives every emitted alert. Callbacks are best-effort: a
// panicking callback is recovered and logged, never propagated.
type AlertCallback func(Alert)

// Monitor samples performance snapshots on a fixed cadence, maintains
// rolling per-metric baselines, and raises alerts for statistical
// anomalies and static threshold breaches.
type Monitor struct {
	mu  sync.Mutex
	cfg config.MonitorConfig

	accessors Accessors

	history   []Snapshot
	alerts    []Alert
	baselines map[string]*rollingBaseline
	detector  *anomalyDetector

	samplesSinceRetrain int
	lastAlert           map[string]time.Time
	callbacks           []AlertCallback

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	registry     *prometheus.Registry
	metricGauges *prometheus.GaugeVec
	alertCounter *prometheus.CounterVec
}

// New creates a performance monitor. The accessors may be partially (or
// entirely) zero-valued.
func New(cfg config.MonitorConfig, accessors Accessors) *Monitor {
	registry := prometheus.NewRegistry()

	m := &Monitor{
		cfg:       cfg,
		accessors: accessors,
		baselines: make(map[string]*rollingBaseline),
		detector:  newAnomalyDetector(),
		lastAlert: make(map[string]time.Time),
		registry:  registry,
	}
	for _, name := range metricNames {
		m.baselines[name] = newRollingBaseline(cfg.BaselineWindow)
	}

	m.metricGauges = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatty",
		Subsystem: "monitor",
		Name:      "metric_value",
		Help:      "Latest sampled value per monitored metric",
	}, []string{"metric"})
	m.alertCounter = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatty",
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Total alerts emitted, by severity",
	}, []string{"severity"})

	return m
}

// PrometheusRegistry returns the monitor's metric registry.
func (m *Monitor) PrometheusRegistry() *prometheus.Registry {
	return m.registry
}

// AddAlertCallback registers a callback invoked for every emitted alert.
func (m *Monitor) AddAlertCallback(fn AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start begins the periodic sampling loop. Starting an already-running
// monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.sampleLoop(m.stopChan)

	log.Infof("performance monitor started (interval %s)", m.cfg.SampleInterval)
	return nil
}

// Stop cancels the sampling loop. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("performance monitor stopped")
}

func (m *Monitor) sampleLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ObserveSnapshot(m.Collect())
		}
	}
}

// Collect builds one snapshot from host metrics and the injected
// accessors.
func (m *Monitor) Collect() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Snapshot{
		Timestamp: time.Now(),
		// GC CPU fraction is a rough host-load proxy; deployments that
		// need real CPU accounting inject their own accessor.
		CPUUsage:    ms.GCCPUFraction,
		MemoryUsage: float64(ms.HeapAlloc) / float64(ms.Sys),

		InferenceLatency:    placeholderLatency,
		ModelLoadTime:       placeholderLoadTime,
		CacheHitRate:        placeholderHitRate,
		AudioProcessingTime: 0,
		QueueDepth:          0,
		ErrorRate:           0,
	}

	if m.accessors.CPUUsage != nil {
		s.CPUUsage = m.accessors.CPUUsage()
	}
	if m.accessors.MemoryUsage != nil {
		s.MemoryUsage = m.accessors.MemoryUsage()
	}
	if m.accessors.InferenceLatency != nil {
		s.InferenceLatency = m.accessors.InferenceLatency()
	}
	if m.accessors.ModelLoadTime != nil {
		s.ModelLoadTime = m.accessors.ModelLoadTime()
	}
	if m.accessors.CacheHitRate != nil {
		s.CacheHitRate = m.accessors.CacheHitRate()
	}
	if m.accessors.AudioProcessingTime != nil {
		s.AudioProcessingTime = m.accessors.AudioProcessingTime()
	}
	if m.accessors.QueueDepth != nil {
		s.QueueDepth = m.accessors.QueueDepth()
	}
	if m.accessors.ErrorRate != nil {
		s.ErrorRate = m.accessors.ErrorRate()
	}
	return s
}

// ObserveSnapshot feeds one snapshot through the full pipeline: history,
// baselines, anomaly scoring and static threshold checks. The periodic
// loop calls this each tick; callers may also feed synthetic snapshots.
func (m *Monitor) ObserveSnapshot(s Snapshot) {
	m.mu.Lock()

	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	for _, name := range metricNames {
		v := s.metric(name)
		m.baselines[name].add(v)
		m.metricGauges.WithLabelValues(name).Set(v)
	}

	var fired []Alert

	// Anomaly detection: retrain cadence first, then scoring once warm.
	m.samplesSinceRetrain++
	if len(m.history) >= m.cfg.AnomalyWarmupSamples &&
		(!m.detector.trained || m.samplesSinceRetrain >= m.cfg.AnomalyRetrainInterval) {
		m.samplesSinceRetrain = 0
		if err := m.detector.retrain(m.trainingVectorsLocked()); err != nil {
			log.Warnf("anomaly detector retrain failed: %v", err)
		}
	}
	if m.detector.trained && len(m.history) >= m.cfg.AnomalyWarmupSamples {
		res := m.detector.score(s.vector())
		if res.anomalous && res.score >= m.cfg.AnomalyScoreThreshold {
			if a, ok := m.anomalyAlertLocked(s, res); ok {
				fired = append(fired, a)
			}
		}
	}

	// Static threshold checks.
	for name, th := range m.cfg.Thresholds {
		if a, ok := m.checkMetricThresholdLocked(name, s.metric(name), th, s.Timestamp); ok {
			fired = append(fired, a)
		}
	}

	callbacks := m.callbacks
	m.mu.Unlock()

	for _, a := range fired {
		for _, cb := range callbacks {
			invokeAlertCallback(cb, a)
		}
	}
}

func invokeAlertCallback(cb AlertCallback, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("alert callback panicked: %v", r)
		}
	}()
	cb(a)
}

// trainingVectorsLocked returns the trailing baseline window as feature
// vectors.
func (m *Monitor) trainingVectorsLocked() [][]float64 {
	start := 0
	if len(m.history) > m.cfg.BaselineWindow {
		start = len(m.history) - m.cfg.BaselineWindow
	}
	vectors := make([][]float64, 0, len(m.history)-start)
	for i := start; i < len(m.history); i++ {
		vectors = append(vectors, m.history[i].vector())
	}
	return vectors
}

func (m *Monitor) anomalyAlertLocked(s Snapshot, res anomalyScore) (Alert, bool) {
	if !m.cooldownElapsedLocked(res.worstMetric, s.Timestamp) {
		return Alert{}, false
	}
	a := Alert{
		ID:       uuid.NewString(),
		Severity: SeverityWarning,
		Message: fmt.Sprintf("anomalous %s: %.4f deviates %.1f standard deviations from baseline",
			res.worstMetric, s.metric(res.worstMetric), res.worstZ),
		Timestamp:        s.Timestamp,
		Metric:           res.worstMetric,
		CurrentValue:     s.metric(res.worstMetric),
		ExpectedLow:      res.worstMean - 2*res.worstStd,
		ExpectedHigh:     res.worstMean + 2*res.worstStd,
		AnomalyScore:     res.score,
		SuggestedActions: suggestedActions[res.worstMetric],
	}
	m.recordAlertLocked(a)
	return a, true
}

// checkMetricThresholdLocked compares one metric against its static
// bounds. Most metrics are higher-is-worse; LowerIsBad inverts the
// comparison (cache hit rate). A per-metric cooldown suppresses duplicate
// alerts while a breach persists.
func (m *Monitor) checkMetricThresholdLocked(name string, value float64, th config.MetricThreshold, now time.Time) (Alert, bool) {
	var severity Severity
	var breached bool
	if th.LowerIsBad {
		switch {
		case value <= th.Critical:
			severity, breached = SeverityCritical, true
		case value <= th.Warning:
			severity, breached = SeverityWarning, true
		}
	} else {
		switch {
		case value >= th.Critical:
			severity, breached = SeverityCritical, true
		case value >= th.Warning:
			severity, breached = SeverityWarning, true
		}
	}
	if !breached {
		return Alert{}, false
	}
	if !m.cooldownElapsedLocked(name, now) {
		return Alert{}, false
	}

	direction := "above"
	low, high := 0.0, th.Warning
	if th.LowerIsBad {
		direction = "below"
		low, high = th.Warning, 1.0
	}
	a := Alert{
		ID:               uuid.NewString(),
		Severity:         severity,
		Message:          fmt.Sprintf("%s is %.4f, %s the %s threshold", name, value, direction, severity),
		Timestamp:        now,
		Metric:           name,
		CurrentValue:     value,
		ExpectedLow:      low,
		ExpectedHigh:     high,
		SuggestedActions: suggestedActions[name],
	}
	m.recordAlertLocked(a)
	return a, true
}

func (m *Monitor) cooldownElapsedLocked(metric string, now time.Time) bool {
	last, ok := m.lastAlert[metric]
	return !ok || now.Sub(last) >= m.cfg.AlertCooldown
}

func (m *Monitor) recordAlertLocked(a Alert) {
	m.alerts = append(m.alerts, a)
	m.lastAlert[a.Metric] = a.Timestamp
	m.alertCounter.WithLabelValues(a.Severity.String()).Inc()
	log.Warnf("alert [%s] %s", a.Severity, a.Message)
}

// AlertsSince returns all alerts emitted at or after t.
func (m *Monitor) AlertsSince(t time.Time) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if !a.Timestamp.Before(t) {
			out = append(out, a)
		}
	}
	return out
}

// Baseline returns the rolling mean and standard deviation for a metric.
func (m *Monitor) Baseline(metric string) (mean, std float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[metric]
	if !ok {
		return 0, 0
	}
	return b.mean(), b.std()
}
