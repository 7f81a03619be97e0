package tuning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

var log = logging.Logger("tuning")

var (
	// ErrSessionActive is returned when starting a session while one is
	// already running.
	ErrSessionActive = errors.New("a tuning session is already active")
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active tuning session")
)

// Objective selects how trial observations are collapsed into a score.
type Objective int

const (
	ObjectiveLatency Objective = iota
	ObjectiveAccuracy
	ObjectiveMemory
	ObjectiveThroughput
	ObjectiveBalanced
)

func (o Objective) String() string {
	switch o {
	case ObjectiveLatency:
		return "latency"
	case ObjectiveAccuracy:
		return "accuracy"
	case ObjectiveMemory:
		return "memory"
	case ObjectiveThroughput:
		return "throughput"
	case ObjectiveBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// Observation is the raw outcome of one performance evaluation.
type Observation struct {
	Latency     float64 `json:"latency"`      // seconds
	Accuracy    float64 `json:"accuracy"`     // [0,1]
	MemoryUsage float64 `json:"memory_usage"` // bytes
	Throughput  float64 `json:"throughput"`   // ops/sec
}

// Evaluator measures performance for a full parameter assignment. The
// production deployment injects a real benchmark; SimulatedEvaluator is
// the default.
type Evaluator func(ctx context.Context, params map[string]any) (Observation, error)

// Evaluation is one completed trial.
type Evaluation struct {
	Parameters  map[string]any `json:"parameters"`
	Observation Observation    `json:"observation"`
	Score       float64        `json:"score"`
}

// Session tracks one optimization run. Exactly one session is active at a
// time; it is sealed on stop or convergence.
type Session struct {
	ID                 string       `json:"id"`
	StartTime          time.Time    `json:"start_time"`
	EndTime            time.Time    `json:"end_time,omitempty"`
	Objective          Objective    `json:"objective"`
	Parameters         []string     `json:"parameters"`
	Evaluations        []Evaluation `json:"evaluations"`
	Best               *Evaluation  `json:"best,omitempty"`
	ConvergenceHistory []float64    `json:"convergence_history"`

	active []*ParameterSpace
}

// Result is the sealed outcome of a session.
type Result struct {
	SessionID  string         `json:"session_id"`
	Parameters map[string]any `json:"parameters"`
	Score      float64        `json:"score"`
	// Improved is false when no trial beat the recorded baseline.
	Improved bool `json:"improved"`
}

// Tuner runs sequential parameter-search sessions over the declared
// spaces: uniform random sampling for the bootstrap trials, then
// surrogate-guided candidate selection with an expected-improvement
// acquisition criterion.
type Tuner struct {
	mu  sync.Mutex
	cfg config.TuningConfig

	spaces    []*ParameterSpace
	byName    map[string]*ParameterSpace
	evaluator Evaluator
	rng       *rand.Rand

	session  *Session
	baseline *Evaluation
	lastRun  time.Time
}

// New creates a tuner over the given parameter spaces. A nil evaluator
// falls back to SimulatedEvaluator.
func New(cfg config.TuningConfig, spaces []ParameterSpace, evaluator Evaluator) (*Tuner, error) {
	if len(spaces) == 0 {
		return nil, errors.New("tuner needs at least one parameter space")
	}
	if evaluator == nil {
		evaluator = SimulatedEvaluator
	}

	t := &Tuner{
		cfg:       cfg,
		byName:    make(map[string]*ParameterSpace, len(spaces)),
		evaluator: evaluator,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := range spaces {
		sp := spaces[i]
		if err := sp.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.byName[sp.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter space %q", sp.Name)
		}
		if sp.Current == nil {
			sp.Current = sp.sample(t.rng)
		}
		t.spaces = append(t.spaces, &sp)
		t.byName[sp.Name] = &sp
	}
	return t, nil
}

// Idle reports whether no session is active.
func (t *Tuner) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session == nil
}

// LastRun returns when the most recent session was sealed.
func (t *Tuner) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

// CurrentParameters returns the live value of every declared parameter.
func (t *Tuner) CurrentParameters() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentParametersLocked()
}

func (t *Tuner) currentParametersLocked() map[string]any {
	out := make(map[string]any, len(t.spaces))
	for _, sp := range t.spaces {
		out[sp.Name] = sp.Current
	}
	return out
}

// StartSession begins a new session over the named parameter subset (all
// spaces when nil) and records a baseline evaluation at the current
// values. Starting while a session is active is an error.
func (t *Tuner) StartSession(ctx context.Context, objective Objective, subset []string) error {
	t.mu.Lock()
	if t.session != nil {
		t.mu.Unlock()
		return ErrSessionActive
	}

	active := t.spaces
	if len(subset) > 0 {
		active = make([]*ParameterSpace, 0, len(subset))
		for _, name := range subset {
			sp, ok := t.byName[name]
			if !ok {
				t.mu.Unlock()
				return fmt.Errorf("unknown parameter %q", name)
			}
			active = append(active, sp)
		}
	}

	names := make([]string, len(active))
	for i, sp := range active {
		names[i] = sp.Name
	}
	session := &Session{
		ID:         uuid.NewString(),
		StartTime:  time.Now(),
		Objective:  objective,
		Parameters: names,
		active:     active,
	}
	t.session = session
	params := t.currentParametersLocked()
	t.mu.Unlock()

	obs, err := t.evaluator(ctx, params)
	if err != nil {
		t.mu.Lock()
		t.session = nil
		t.mu.Unlock()
		return fmt.Errorf("baseline evaluation failed: %w", err)
	}

	baseline := &Evaluation{
		Parameters:  params,
		Observation: obs,
		Score:       scoreObservation(objective, obs),
	}

	t.mu.Lock()
	t.baseline = baseline
	session.Evaluations = append(session.Evaluations, *baseline)
	session.Best = baseline
	t.mu.Unlock()

	log.Infof("tuning session %s started (objective=%s, baseline score %.4f)",
		session.ID, objective, baseline.Score)
	return nil
}

// RunOptimization executes the trial loop for the active session: up to
// MaxEvaluations trials, stopping early on convergence or a run of
// non-improving trials. Improvements are applied to the live parameter
// values immediately.
func (t *Tuner) RunOptimization(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	session := t.session
	baseline := t.baseline
	if session == nil {
		t.mu.Unlock()
		return nil, ErrNoSession
	}
	best := session.Best
	t.mu.Unlock()

	nonImproving := 0
	for trial := 0; trial < t.cfg.MaxEvaluations; trial++ {
		if err := ctx.Err(); err != nil {
			return t.buildResult(session, best, baseline), err
		}

		params := t.proposeTrial(session, trial)

		obs, err := t.evaluator(ctx, params)
		if err != nil {
			log.Warnf("trial %d evaluation failed: %v", trial, err)
			nonImproving++
			if nonImproving >= t.cfg.MaxNonImproving {
				break
			}
			continue
		}
		score := scoreObservation(session.Objective, obs)

		t.mu.Lock()
		eval := Evaluation{Parameters: params, Observation: obs, Score: score}
		session.Evaluations = append(session.Evaluations, eval)
		if score > best.Score {
			best = &session.Evaluations[len(session.Evaluations)-1]
			session.Best = best
			nonImproving = 0
			for _, sp := range session.active {
				sp.Current = params[sp.Name]
			}
			log.Debugf("trial %d improved score to %.4f", trial, score)
		} else {
			nonImproving++
		}
		session.ConvergenceHistory = append(session.ConvergenceHistory, best.Score)
		converged := t.convergedLocked(session)
		t.mu.Unlock()

		if converged {
			log.Infof("session %s converged after %d trials", session.ID, trial+1)
			break
		}
		if nonImproving >= t.cfg.MaxNonImproving {
			log.Infof("session %s stopped after %d non-improving trials", session.ID, nonImproving)
			break
		}

		// Cooperative yield between trials.
		select {
		case <-ctx.Done():
			return t.buildResult(session, best, baseline), ctx.Err()
		case <-time.After(t.cfg.TrialYield):
		}
	}

	return t.buildResult(session, best, baseline), nil
}

func (t *Tuner) buildResult(session *Session, best, baseline *Evaluation) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Result{
		SessionID:  session.ID,
		Parameters: copyParams(best.Parameters),
		Score:      best.Score,
		Improved:   baseline != nil && best.Score > baseline.Score,
	}
}

// proposeTrial picks the next parameter assignment: uniform random during
// bootstrap, surrogate-guided afterwards.
func (t *Tuner) proposeTrial(session *Session, trial int) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	params := t.currentParametersLocked()
	if trial < t.cfg.BootstrapTrials || len(session.Evaluations) < t.cfg.BootstrapTrials {
		for _, sp := range session.active {
			params[sp.Name] = sp.sample(t.rng)
		}
		return params
	}

	model := t.fitSurrogateLocked(session)
	if model == nil {
		for _, sp := range session.active {
			params[sp.Name] = sp.sample(t.rng)
		}
		return params
	}

	bestKnown := session.Best.Score
	var bestCandidate map[string]any
	var bestAcq float64
	var fallback map[string]any
	var fallbackUncert float64

	buf := make([]float64, encodedWidth(session.active))
	for i := 0; i < t.cfg.CandidatePool; i++ {
		candidate := make(map[string]any, len(session.active))
		for _, sp := range session.active {
			candidate[sp.Name] = sp.sample(t.rng)
		}
		encodeParams(session.active, candidate, buf)
		mean, uncertainty := model.predict(buf)

		// Expected improvement over the best known score, minus the
		// exploration margin, weighted toward uncertain regions.
		acq := (mean - bestKnown - t.cfg.ExplorationMargin) * (1 - 0.5*uncertainty)
		if bestCandidate == nil || acq > bestAcq {
			bestAcq = acq
			bestCandidate = candidate
		}
		if fallback == nil || uncertainty > fallbackUncert {
			fallbackUncert = uncertainty
			fallback = candidate
		}
	}

	// When nothing promises improvement, explore the least-known region
	// instead of re-exploiting the model's optimum.
	chosen := bestCandidate
	if bestAcq <= 0 && fallback != nil {
		chosen = fallback
	}
	for name, v := range chosen {
		params[name] = v
	}
	return params
}

func (t *Tuner) fitSurrogateLocked(session *Session) *surrogate {
	width := encodedWidth(session.active)
	features := make([][]float64, 0, len(session.Evaluations))
	scores := make([]float64, 0, len(session.Evaluations))
	for _, ev := range session.Evaluations {
		x := make([]float64, width)
		encodeParams(session.active, ev.Parameters, x)
		features = append(features, x)
		scores = append(scores, ev.Score)
	}

	model, err := fitSurrogate(features, scores, 1e-3)
	if err != nil {
		log.Debugf("surrogate refit failed, falling back to random sampling: %v", err)
		return nil
	}
	return model
}

// convergedLocked reports whether the best-score trajectory flattened out
// over the trailing convergence window.
func (t *Tuner) convergedLocked(session *Session) bool {
	h := session.ConvergenceHistory
	if len(h) < t.cfg.ConvergenceWindow {
		return false
	}
	window := h[len(h)-t.cfg.ConvergenceWindow:]
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi-lo < t.cfg.ConvergenceEpsilon
}

// StopSession seals the active session and returns its best result, or
// nil when no session is active.
func (t *Tuner) StopSession() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := t.session
	if session == nil {
		return nil
	}
	session.EndTime = time.Now()
	t.session = nil
	t.lastRun = session.EndTime

	if session.Best == nil {
		return nil
	}
	log.Infof("tuning session %s sealed (best score %.4f over %d evaluations)",
		session.ID, session.Best.Score, len(session.Evaluations))
	return &Result{
		SessionID:  session.ID,
		Parameters: copyParams(session.Best.Parameters),
		Score:      session.Best.Score,
		Improved:   t.baseline != nil && session.Best.Score > t.baseline.Score,
	}
}

func encodedWidth(spaces []*ParameterSpace) int {
	width := 0
	for _, sp := range spaces {
		width += sp.featureWidth()
	}
	return width
}

func encodeParams(spaces []*ParameterSpace, params map[string]any, dst []float64) {
	offset := 0
	for _, sp := range spaces {
		sp.encodeInto(dst[offset:offset+sp.featureWidth()], params[sp.Name])
		offset += sp.featureWidth()
	}
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// scoreObservation collapses an observation into [0,1] per the objective.
// Each component is normalized so a balanced blend is meaningful.
func scoreObservation(objective Objective, obs Observation) float64 {
	latency := 1.0 / (1.0 + obs.Latency)
	accuracy := obs.Accuracy
	if accuracy < 0 {
		accuracy = 0
	} else if accuracy > 1 {
		accuracy = 1
	}
	memory := 1.0 / (1.0 + obs.MemoryUsage/float64(1<<30))
	throughput := obs.Throughput / (obs.Throughput + 100)
	if obs.Throughput <= 0 {
		throughput = 0
	}

	switch objective {
	case ObjectiveLatency:
		return latency
	case ObjectiveAccuracy:
		return accuracy
	case ObjectiveMemory:
		return memory
	case ObjectiveThroughput:
		return throughput
	default:
		return 0.25*latency + 0.25*accuracy + 0.25*memory + 0.25*throughput
	}
}

// SimulatedEvaluator is a synthetic cost function standing in for real
// inference benchmarking. It rewards mid-range numeric parameter values
// deterministically so tests and the default wiring behave repeatably.
func SimulatedEvaluator(_ context.Context, params map[string]any) (Observation, error) {
	sum := 0.0
	count := 0
	for _, v := range params {
		if f, ok := toFloat(v); ok {
			sum += f
			count++
		}
	}
	load := 0.0
	if count > 0 {
		load = sum / float64(count)
	}

	return Observation{
		Latency:     0.05 + load/1000,
		Accuracy:    0.9,
		MemoryUsage: float64(256<<20) + load*float64(1<<20),
		Throughput:  50 + load,
	}, nil
}
