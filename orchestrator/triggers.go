package orchestrator

// TriggerKind identifies why an optimization pass was requested.
type TriggerKind int

const (
	// TriggerDegradation fires when the overall performance score drops
	// below the configured threshold.
	TriggerDegradation TriggerKind = iota
	// TriggerCacheInefficiency fires when the cache hit rate falls below
	// the configured threshold.
	TriggerCacheInefficiency
	// TriggerAudioInstability fires after repeated acoustic environment
	// changes reported by the audio controller.
	TriggerAudioInstability
	// TriggerTuningDue fires when the tuner has been idle longer than the
	// configured interval.
	TriggerTuningDue
	// TriggerFull requests the comprehensive pass covering every
	// component.
	TriggerFull
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerDegradation:
		return "degradation"
	case TriggerCacheInefficiency:
		return "cache_inefficiency"
	case TriggerAudioInstability:
		return "audio_instability"
	case TriggerTuningDue:
		return "tuning_due"
	case TriggerFull:
		return "full"
	default:
		return "unknown"
	}
}

// triggerKinds lists every trigger evaluated by the coordination loop.
var triggerKinds = []TriggerKind{
	TriggerDegradation,
	TriggerCacheInefficiency,
	TriggerAudioInstability,
	TriggerTuningDue,
	TriggerFull,
}
