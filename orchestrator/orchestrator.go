package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/matthewhand/chatty-commander-sub002/audio"
	"github.com/matthewhand/chatty-commander-sub002/cache"
	"github.com/matthewhand/chatty-commander-sub002/config"
	"github.com/matthewhand/chatty-commander-sub002/monitoring"
	"github.com/matthewhand/chatty-commander-sub002/tuning"
)

var log = logging.Logger("orchestrator")

// ErrNotRunning is returned by operations that need a started orchestrator.
var ErrNotRunning = errors.New("orchestrator is not running")

// Options customizes component wiring. All fields are optional.
type Options struct {
	// Evaluator used for tuning trials. Defaults to
	// tuning.SimulatedEvaluator.
	Evaluator tuning.Evaluator

	// Parameter spaces exposed to the tuner. Defaults to
	// DefaultParameterSpaces.
	Spaces []tuning.ParameterSpace

	// ApplyParameters receives the winning assignment after an improving
	// session. When nil the result is only logged.
	ApplyParameters func(map[string]any)
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running          bool                 `json:"running"`
	CacheEnabled     bool                 `json:"cache_enabled"`
	MonitorEnabled   bool                 `json:"monitor_enabled"`
	AudioEnabled     bool                 `json:"audio_enabled"`
	TunerEnabled     bool                 `json:"tuner_enabled"`
	PendingTriggers  []string             `json:"pending_triggers"`
	OptimizationRuns map[string]int       `json:"optimization_runs"`
	LastOptimization map[string]time.Time `json:"last_optimization"`
	TuningActive     bool                 `json:"tuning_active"`
}

// Summary aggregates the headline numbers from every enabled component.
type Summary struct {
	PerformanceScore float64                  `json:"performance_score"`
	PerformanceLevel monitoring.Level         `json:"performance_level"`
	Cache            *cache.Metrics           `json:"cache,omitempty"`
	Audio            *audio.EnvironmentStatus `json:"audio,omitempty"`
	RecentAlerts     int                      `json:"recent_alerts"`
	TunerIdle        bool                     `json:"tuner_idle"`
	LastTuningRun    time.Time                `json:"last_tuning_run"`
}

// Orchestrator owns the optimization components and coordinates them: it
// watches their health on a fixed tick, raises optimization triggers, and
// dispatches tuning passes in response.
type Orchestrator struct {
	mu  sync.Mutex
	cfg config.Config

	cache   *cache.ModelCache
	monitor *monitoring.Monitor
	audio   *audio.Controller
	tuner   *tuning.Tuner

	applyParameters func(map[string]any)

	pending      map[TriggerKind]bool
	runs         map[TriggerKind]int
	lastRun      map[TriggerKind]time.Time
	envChanges   int
	tuningActive bool
	startedAt    time.Time
	lastFullPass time.Time

	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the orchestrator and every component enabled by the
// configuration, wiring the cross-component feedback paths: the cache's
// hit rate feeds the monitor's snapshots, and audio environment changes
// feed the instability trigger.
func New(cfg config.Config, opts Options) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.Clone()

	o := &Orchestrator{
		cfg:             cfg,
		applyParameters: opts.ApplyParameters,
		pending:         make(map[TriggerKind]bool),
		runs:            make(map[TriggerKind]int),
		lastRun:         make(map[TriggerKind]time.Time),
	}

	oc := cfg.Orchestrator
	if oc.EnableCache {
		o.cache = cache.New(cfg.Cache)
	}
	if oc.EnableMonitor {
		accessors := monitoring.Accessors{}
		if o.cache != nil {
			accessors.CacheHitRate = func() float64 {
				m := o.cache.Metrics()
				if m.Hits+m.Misses == 0 {
					return 1.0
				}
				return m.HitRate
			}
		}
		o.monitor = monitoring.New(cfg.Monitor, accessors)
	}
	if oc.EnableAudio {
		o.audio = audio.NewController(cfg.Audio)
		o.audio.AddEnvironmentChangeCallback(func(env audio.Environment) {
			o.mu.Lock()
			o.envChanges++
			o.mu.Unlock()
			log.Debugf("acoustic environment changed to %s", env)
		})
	}
	if oc.EnableTuner {
		spaces := opts.Spaces
		if spaces == nil {
			spaces = DefaultParameterSpaces()
		}
		tuner, err := tuning.New(cfg.Tuning, spaces, opts.Evaluator)
		if err != nil {
			return nil, err
		}
		o.tuner = tuner
	}

	return o, nil
}

// Cache returns the managed model cache (nil when disabled).
func (o *Orchestrator) Cache() *cache.ModelCache { return o.cache }

// Monitor returns the managed performance monitor (nil when disabled).
func (o *Orchestrator) Monitor() *monitoring.Monitor { return o.monitor }

// Audio returns the managed audio controller (nil when disabled).
func (o *Orchestrator) Audio() *audio.Controller { return o.audio }

// Tuner returns the managed auto-tuner (nil when disabled).
func (o *Orchestrator) Tuner() *tuning.Tuner { return o.tuner }

// Start launches the monitor's sampling loop and the coordination loop.
// Starting an already started orchestrator is a no-op.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	if o.monitor != nil {
		if err := o.monitor.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.stopChan = make(chan struct{})
	o.running = true
	o.startedAt = time.Now()
	o.lastFullPass = o.startedAt

	o.wg.Add(1)
	go o.loop(ctx, o.stopChan)

	log.Infow("orchestrator started",
		"cache", o.cache != nil,
		"monitor", o.monitor != nil,
		"audio", o.audio != nil,
		"tuner", o.tuner != nil)
	return nil
}

// Stop halts the coordination loop and shuts the components down. In-flight
// tuning passes are cancelled; the cache is drained within ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopChan)
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()

	if o.monitor != nil {
		o.monitor.Stop()
	}
	if o.tuner != nil {
		o.tuner.StopSession()
	}
	var err error
	if o.cache != nil {
		err = o.cache.Close(ctx)
	}
	log.Info("orchestrator stopped")
	return err
}

// ManualTrigger marks the given trigger for the next tick. TriggerFull
// raises every trigger at once.
func (o *Orchestrator) ManualTrigger(kind TriggerKind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}
	if kind == TriggerFull {
		for _, k := range triggerKinds {
			o.pending[k] = true
		}
	} else {
		o.pending[kind] = true
	}
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, stop <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Orchestrator.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick evaluates every trigger predicate, merges the results with manually
// raised triggers, and dispatches the fired ones.
func (o *Orchestrator) tick(ctx context.Context) {
	oc := o.cfg.Orchestrator
	now := time.Now()

	o.mu.Lock()
	fired := make(map[TriggerKind]bool, len(o.pending))
	for k, v := range o.pending {
		if v {
			fired[k] = true
		}
		delete(o.pending, k)
	}

	if o.monitor != nil && o.monitor.PerformanceScore() < oc.DegradationThreshold {
		fired[TriggerDegradation] = true
	}
	if o.cache != nil {
		m := o.cache.Metrics()
		if m.Hits+m.Misses > 0 && m.HitRate < oc.CacheHitRateThreshold {
			fired[TriggerCacheInefficiency] = true
		}
	}
	// Environment changes accumulate across ticks; the counter only resets
	// once the trigger fires.
	if o.envChanges >= 3 {
		fired[TriggerAudioInstability] = true
		o.envChanges = 0
	}
	if o.tuner != nil && o.tuner.Idle() {
		// Before the first run, the due clock counts from startup.
		last := o.tuner.LastRun()
		if last.IsZero() {
			last = o.startedAt
		}
		if now.Sub(last) >= oc.TuningDueInterval {
			fired[TriggerTuningDue] = true
		}
	}
	if now.Sub(o.lastFullPass) >= oc.AutoOptimizationInterval {
		fired[TriggerFull] = true
		o.lastFullPass = now
	}

	for k := range fired {
		o.runs[k]++
		o.lastRun[k] = now
	}
	o.mu.Unlock()

	for k := range fired {
		o.dispatch(ctx, k)
	}
}

// dispatch runs the response for one fired trigger. Tuning passes are
// serialized: a trigger arriving while one is active is skipped, its
// predicate will simply fire again if the condition persists.
func (o *Orchestrator) dispatch(ctx context.Context, kind TriggerKind) {
	log.Infof("optimization trigger fired: %s", kind)

	if kind == TriggerDegradation && o.monitor != nil {
		report := o.monitor.Report(time.Hour)
		for _, rec := range report.Recommendations {
			log.Warnf("performance degradation: %s", rec)
		}
	}
	if kind == TriggerAudioInstability && o.audio != nil {
		// A fresh window lets the controller re-learn the new surroundings.
		o.audio.ResetPerformanceCounters()
	}

	if o.tuner == nil {
		return
	}
	objective, subset := passForTrigger(kind)

	o.mu.Lock()
	if o.tuningActive {
		o.mu.Unlock()
		log.Debugf("skipping %s pass, a tuning session is already active", kind)
		return
	}
	o.tuningActive = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			o.tuningActive = false
			o.mu.Unlock()
		}()
		o.runTuningPass(ctx, kind, objective, subset)
	}()
}

// passForTrigger maps a trigger onto the tuning objective and parameter
// subset it should optimize.
func passForTrigger(kind TriggerKind) (tuning.Objective, []string) {
	switch kind {
	case TriggerCacheInefficiency:
		return tuning.ObjectiveMemory, []string{"prediction_threshold", "preload_top_k"}
	case TriggerAudioInstability:
		return tuning.ObjectiveAccuracy, []string{"detection_sensitivity", "noise_gate"}
	default:
		return tuning.ObjectiveBalanced, nil
	}
}

func (o *Orchestrator) runTuningPass(ctx context.Context, kind TriggerKind, objective tuning.Objective, subset []string) {
	if err := o.tuner.StartSession(ctx, objective, subset); err != nil {
		log.Warnf("could not start %s tuning pass: %v", kind, err)
		return
	}
	if _, err := o.tuner.RunOptimization(ctx); err != nil {
		log.Warnf("%s tuning pass interrupted: %v", kind, err)
	}
	result := o.tuner.StopSession()
	if result == nil {
		return
	}
	if result.Improved {
		log.Infof("%s tuning pass improved score to %.4f", kind, result.Score)
		if o.applyParameters != nil {
			o.applyParameters(result.Parameters)
		}
	} else {
		log.Debugf("%s tuning pass found no improvement (score %.4f)", kind, result.Score)
	}
}

// Status reports the orchestrator's current coordination state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Running:          o.running,
		CacheEnabled:     o.cache != nil,
		MonitorEnabled:   o.monitor != nil,
		AudioEnabled:     o.audio != nil,
		TunerEnabled:     o.tuner != nil,
		OptimizationRuns: make(map[string]int, len(o.runs)),
		LastOptimization: make(map[string]time.Time, len(o.lastRun)),
		TuningActive:     o.tuningActive,
	}
	for k, v := range o.pending {
		if v {
			st.PendingTriggers = append(st.PendingTriggers, k.String())
		}
	}
	for k, n := range o.runs {
		st.OptimizationRuns[k.String()] = n
	}
	for k, t := range o.lastRun {
		st.LastOptimization[k.String()] = t
	}
	return st
}

// PerformanceSummary aggregates the headline state of every enabled
// component.
func (o *Orchestrator) PerformanceSummary() Summary {
	s := Summary{PerformanceScore: 1.0, TunerIdle: true}

	if o.monitor != nil {
		s.PerformanceScore = o.monitor.PerformanceScore()
		report := o.monitor.Report(time.Hour)
		s.PerformanceLevel = report.Level
		s.RecentAlerts = len(o.monitor.AlertsSince(time.Now().Add(-time.Hour)))
	}
	if o.cache != nil {
		m := o.cache.Metrics()
		s.Cache = &m
	}
	if o.audio != nil {
		env := o.audio.EnvironmentStatus()
		s.Audio = &env
	}
	if o.tuner != nil {
		s.TunerIdle = o.tuner.Idle()
		s.LastTuningRun = o.tuner.LastRun()
	}
	return s
}

// DefaultParameterSpaces declares the builtin tunable surface: cache
// prefetch behavior, audio front-end sensitivity, and inference batching.
func DefaultParameterSpaces() []tuning.ParameterSpace {
	return []tuning.ParameterSpace{
		{
			Name:    "prediction_threshold",
			Kind:    tuning.Continuous,
			Min:     0.1,
			Max:     0.9,
			Current: 0.3,
		},
		{
			Name:    "preload_top_k",
			Kind:    tuning.Discrete,
			Choices: []any{1, 2, 3, 5},
			Current: 3,
		},
		{
			Name:    "detection_sensitivity",
			Kind:    tuning.Continuous,
			Min:     0.3,
			Max:     0.9,
			Current: 0.7,
		},
		{
			Name:    "noise_gate",
			Kind:    tuning.Continuous,
			Min:     0.005,
			Max:     0.1,
			Current: 0.02,
		},
		{
			Name:    "batch_size",
			Kind:    tuning.Discrete,
			Choices: []any{1, 2, 4, 8},
			Current: 1,
		},
		{
			Name:    "inference_precision",
			Kind:    tuning.Categorical,
			Choices: []any{"fp32", "fp16", "int8"},
			Current: "fp16",
		},
	}
}
