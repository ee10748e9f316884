package engine

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	turns              atomic.Int64
	factsMerged        atomic.Int64
	episodesStored     atomic.Int64
	summariesRefreshed atomic.Int64
	extractionFailures atomic.Int64
	summaryFailures    atomic.Int64
	contextsBuilt      atomic.Int64
	factsDecayed       atomic.Int64
	episodesPruned     atomic.Int64
}

func (m *Metrics) IncTurns()              { m.turns.Add(1) }
func (m *Metrics) IncFactsMerged(n int)   { m.factsMerged.Add(int64(n)) }
func (m *Metrics) IncEpisodes(n int)      { m.episodesStored.Add(int64(n)) }
func (m *Metrics) IncSummaries()          { m.summariesRefreshed.Add(1) }
func (m *Metrics) IncExtractionFailures() { m.extractionFailures.Add(1) }
func (m *Metrics) IncSummaryFailures()    { m.summaryFailures.Add(1) }
func (m *Metrics) IncContextsBuilt()      { m.contextsBuilt.Add(1) }
func (m *Metrics) IncFactsDecayed(n int)  { m.factsDecayed.Add(int64(n)) }
func (m *Metrics) IncEpisodesPruned(n int) {
	m.episodesPruned.Add(int64(n))
}

// MetricsSnapshot holds the current values for reporting/logging.
type MetricsSnapshot struct {
	Turns              int64 `json:"turns"`
	FactsMerged        int64 `json:"facts_merged"`
	EpisodesStored     int64 `json:"episodes_stored"`
	SummariesRefreshed int64 `json:"summaries_refreshed"`
	ExtractionFailures int64 `json:"extraction_failures"`
	SummaryFailures    int64 `json:"summary_failures"`
	ContextsBuilt      int64 `json:"contexts_built"`
	FactsDecayed       int64 `json:"facts_decayed"`
	EpisodesPruned     int64 `json:"episodes_pruned"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Turns:              m.turns.Load(),
		FactsMerged:        m.factsMerged.Load(),
		EpisodesStored:     m.episodesStored.Load(),
		SummariesRefreshed: m.summariesRefreshed.Load(),
		ExtractionFailures: m.extractionFailures.Load(),
		SummaryFailures:    m.summaryFailures.Load(),
		ContextsBuilt:      m.contextsBuilt.Load(),
		FactsDecayed:       m.factsDecayed.Load(),
		EpisodesPruned:     m.episodesPruned.Load(),
	}
}
