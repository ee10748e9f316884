package engine

import "time"

// Increments groups the relationship deltas applied per turn. They are
// configuration, not constants: the defaults saturate quickly for
// high-frequency chatters, so deployments can slow the pacing here.
type Increments struct {
	TrustPerTurn         float64
	TrustSubstantial     float64
	IntimacyPerSelfShare float64
	AffectionPerPositive float64
	SpecialEventTrust    float64
	SpecialEventIntimacy float64
}

// Options configures the memory engine.
type Options struct {
	// SummaryInterval is how many stored turns trigger one rolling-summary
	// refresh covering that many recent turns.
	SummaryInterval int

	// FactListLimit bounds facts pulled at context-build time.
	FactListLimit int

	// EpisodeSearchK and EpisodeSimilarityThreshold control episodic
	// retrieval for context assembly.
	EpisodeSearchK             int
	EpisodeSimilarityThreshold float64

	// SubstantialLength is the rune count past which a message earns the
	// extra trust increment.
	SubstantialLength int

	// SpecialMomentThreshold marks messages whose importance score crosses
	// it; MaxSpecialMoments caps the retained list.
	SpecialMomentThreshold float64
	MaxSpecialMoments      int

	// CallTimeout bounds every external call (completion, embedding,
	// remote store). A timeout degrades per the non-fatal policy, it never
	// aborts the turn.
	CallTimeout time.Duration

	Increments Increments
	Clock      func() time.Time
}

// CommunicationStyle ratchet thresholds on intimacy.
const (
	CasualIntimacyThreshold   = 30.0
	IntimateIntimacyThreshold = 70.0
)

func DefaultOptions() Options {
	return Options{
		SummaryInterval:            10,
		FactListLimit:              20,
		EpisodeSearchK:             4,
		EpisodeSimilarityThreshold: 0.7,
		SubstantialLength:          50,
		SpecialMomentThreshold:     0.5,
		MaxSpecialMoments:          20,
		CallTimeout:                15 * time.Second,
		Increments: Increments{
			TrustPerTurn:         0.5,
			TrustSubstantial:     0.5,
			IntimacyPerSelfShare: 1.0,
			AffectionPerPositive: 1.0,
			SpecialEventTrust:    2.0,
			SpecialEventIntimacy: 2.0,
		},
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.SummaryInterval <= 0 {
		o.SummaryInterval = defaults.SummaryInterval
	}
	if o.FactListLimit <= 0 {
		o.FactListLimit = defaults.FactListLimit
	}
	if o.EpisodeSearchK <= 0 {
		o.EpisodeSearchK = defaults.EpisodeSearchK
	}
	if o.EpisodeSimilarityThreshold <= 0 {
		o.EpisodeSimilarityThreshold = defaults.EpisodeSimilarityThreshold
	}
	if o.SubstantialLength <= 0 {
		o.SubstantialLength = defaults.SubstantialLength
	}
	if o.SpecialMomentThreshold <= 0 {
		o.SpecialMomentThreshold = defaults.SpecialMomentThreshold
	}
	if o.MaxSpecialMoments <= 0 {
		o.MaxSpecialMoments = defaults.MaxSpecialMoments
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaults.CallTimeout
	}
	if o.Increments == (Increments{}) {
		o.Increments = defaults.Increments
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
