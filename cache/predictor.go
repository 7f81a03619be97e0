package cache

import (
	"errors"
	"math"
	"sort"
)

// ErrInsufficientData is returned by retrain when the ledger does not yet
// hold enough events to build a usable model.
var ErrInsufficientData = errors.New("insufficient usage history to train predictor")

// Prediction is one candidate next model with its estimated probability.
type Prediction struct {
	ModelID     string
	Probability float64
}

// nextModelPredictor estimates which models are likely to be needed next
// from the usage ledger. It blends first-order transition frequencies with
// state-conditioned and hour-of-day usage frequencies; until the first
// successful retrain it offers no predictions at all.
type nextModelPredictor struct {
	trained bool

	transitions map[string]map[string]float64 // previous model -> next model -> p
	byState     map[string]map[string]float64 // state label -> model -> p
	byHour      map[int]map[string]float64    // hour of day -> model -> p
	global      map[string]float64            // model -> p
	entropy     float64                       // state-label entropy of the window
}

func newNextModelPredictor() *nextModelPredictor {
	return &nextModelPredictor{}
}

// retrain rebuilds the frequency tables from the event history. Existing
// tables are only replaced on success, so a failed retrain leaves the
// previous model serving predictions.
func (p *nextModelPredictor) retrain(events []UsageEvent) error {
	if len(events) < 2 {
		return ErrInsufficientData
	}

	transitions := make(map[string]map[string]float64)
	byState := make(map[string]map[string]float64)
	byHour := make(map[int]map[string]float64)
	global := make(map[string]float64)
	stateCounts := make(map[string]float64)

	for i, ev := range events {
		global[ev.ModelID]++
		stateCounts[ev.State]++

		if byState[ev.State] == nil {
			byState[ev.State] = make(map[string]float64)
		}
		byState[ev.State][ev.ModelID]++

		hour := ev.Timestamp.Hour()
		if byHour[hour] == nil {
			byHour[hour] = make(map[string]float64)
		}
		byHour[hour][ev.ModelID]++

		if i > 0 {
			prev := events[i-1].ModelID
			if transitions[prev] == nil {
				transitions[prev] = make(map[string]float64)
			}
			transitions[prev][ev.ModelID]++
		}
	}

	normalize(global)
	for _, m := range transitions {
		normalize(m)
	}
	for _, m := range byState {
		normalize(m)
	}
	for _, m := range byHour {
		normalize(m)
	}

	// State-label entropy of the window; a highly mixed window dampens
	// confidence in every prediction.
	total := float64(len(events))
	entropy := 0.0
	for _, c := range stateCounts {
		q := c / total
		entropy -= q * math.Log2(q)
	}

	p.transitions = transitions
	p.byState = byState
	p.byHour = byHour
	p.global = global
	p.entropy = entropy
	p.trained = true
	return nil
}

func normalize(m map[string]float64) {
	total := 0.0
	for _, v := range m {
		total += v
	}
	if total == 0 {
		return
	}
	for k := range m {
		m[k] /= total
	}
}

// predict returns candidate next models sorted by descending probability.
// Returns nil until the predictor has been trained.
func (p *nextModelPredictor) predict(lastModel, state string, hour int) []Prediction {
	if !p.trained {
		return nil
	}

	candidates := make(map[string]struct{})
	for id := range p.global {
		candidates[id] = struct{}{}
	}

	// Entropy above ~2 bits means the recent window is thoroughly mixed;
	// scale confidence down accordingly.
	damping := 1.0
	if p.entropy > 0 {
		damping = 1.0 / (1.0 + p.entropy/2.0)
	}

	out := make([]Prediction, 0, len(candidates))
	for id := range candidates {
		score := 0.45*p.transitions[lastModel][id] +
			0.25*p.byState[state][id] +
			0.15*p.byHour[hour][id] +
			0.15*p.global[id]
		if score <= 0 {
			continue
		}
		out = append(out, Prediction{ModelID: id, Probability: score * damping})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability == out[j].Probability {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].Probability > out[j].Probability
	})
	return out
}
