package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Seren-Labs/companion-memory/src/memory/embed"
	"github.com/Seren-Labs/companion-memory/src/memory/extract"
	"github.com/Seren-Labs/companion-memory/src/memory/model"
	"github.com/Seren-Labs/companion-memory/src/memory/store"
)

// Engine drives the per-turn memory pipeline: persist the turn, extract
// candidates, merge facts, store episodes, score the relationship, and
// periodically refresh the rolling summary. Merges for one key are serialized
// by a per-key mutex so concurrent turns cannot race the read-modify-write.
type Engine struct {
	store      store.Store
	extractor  extract.Extractor
	embedder   embed.Embedder
	summarizer *Summarizer
	scorer     *Scorer
	opts       Options
	metrics    *Metrics
	logger     *log.Logger
	clock      func() time.Time

	keyLocks sync.Map // model.Key -> *sync.Mutex
}

// NewEngine constructs the engine over a store. Extractor, embedder, and
// summarizer default to the rule extractor, the dummy embedder, and no
// summarizer; override with the With* builders.
func NewEngine(st store.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:     st,
		extractor: extract.NewRuleExtractor(nil, nil),
		embedder:  embed.DummyEmbedder{},
		scorer:    NewScorer(opts),
		opts:      opts,
		metrics:   &Metrics{},
		logger:    log.Default(),
		clock:     opts.Clock,
	}
}

func (e *Engine) WithExtractor(x extract.Extractor) *Engine {
	if x != nil {
		e.extractor = x
	}
	return e
}

func (e *Engine) WithEmbedder(em embed.Embedder) *Engine {
	if em != nil {
		e.embedder = em
	}
	return e
}

func (e *Engine) WithSummarizer(s *Summarizer) *Engine {
	e.summarizer = s
	return e
}

func (e *Engine) WithLogger(logger *log.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// MetricsSnapshot returns a copy of the runtime counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

func (e *Engine) lockKey(key model.Key) func() {
	v, _ := e.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

// fatal reports whether err must surface to the caller. Only validation
// errors qualify; everything upstream degrades.
func fatal(err error) bool {
	return errors.Is(err, model.ErrUnknownCharacter) || errors.Is(err, model.ErrCharacterMismatch)
}

// ProcessTurn runs the full pipeline for one exchange. agentReply may be
// empty when the companion has not answered yet. Validation errors are
// returned; capability failures are logged and absorbed.
func (e *Engine) ProcessTurn(ctx context.Context, key model.Key, userMessage, agentReply string) error {
	unlock := e.lockKey(key)
	defer unlock()

	now := e.clock().UTC()
	e.metrics.IncTurns()

	res := e.extract(ctx, userMessage, agentReply)

	userTurn := model.ConversationTurn{
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Role:        model.RoleUser,
		Content:     userMessage,
		Emotion:     res.Emotion,
		CreatedAt:   now,
	}
	if err := e.store.SaveTurn(ctx, userTurn); err != nil {
		return err
	}
	if agentReply != "" {
		assistantTurn := model.ConversationTurn{
			UserID:      key.UserID,
			CharacterID: key.CharacterID,
			Role:        model.RoleAssistant,
			Content:     agentReply,
			CreatedAt:   now,
		}
		if err := e.store.SaveTurn(ctx, assistantTurn); err != nil {
			return err
		}
	}

	if err := e.mergeFacts(ctx, key, res); err != nil {
		return err
	}
	e.storeEpisodes(ctx, key, res.Episodes)

	total, err := e.store.CountTurns(ctx, key)
	if err != nil {
		if fatal(err) {
			return err
		}
		e.logger.Warn("turn count unavailable, skipping scoring", "key", key, "err", err)
		return nil
	}

	e.scoreRelationship(ctx, key, userMessage, total, res, now)
	e.maybeRefreshSummary(ctx, key, total)
	return nil
}

func (e *Engine) extract(ctx context.Context, userMessage, agentReply string) extract.Result {
	cctx, cancel := e.bounded(ctx)
	defer cancel()
	res, err := e.extractor.Extract(cctx, userMessage, agentReply)
	if err != nil {
		e.metrics.IncExtractionFailures()
		e.logger.Warn("extraction failed, proceeding with empty candidates", "err", err)
		return extract.Result{}
	}
	return res
}

func (e *Engine) mergeFacts(ctx context.Context, key model.Key, res extract.Result) error {
	merged := 0
	for _, cand := range res.Facts {
		fact := model.LongTermFact{
			UserID:      key.UserID,
			CharacterID: key.CharacterID,
			Category:    cand.Category,
			Key:         cand.Key,
			Value:       cand.Value,
			Confidence:  cand.Confidence,
		}
		if err := e.store.MergeFact(ctx, fact); err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Warn("fact merge failed", "key", key, "fact", cand.Key, "err", err)
			continue
		}
		merged++
	}
	// Topic memories persist as facts too, keyed by bucket and sentence.
	for _, te := range res.Topics {
		fact := model.LongTermFact{
			UserID:      key.UserID,
			CharacterID: key.CharacterID,
			Category:    model.CategoryFact,
			Key:         "topic:" + string(te.Topic) + ":" + te.Text,
			Value:       te.Text,
			Confidence:  extract.DefaultConfidence,
		}
		if err := e.store.MergeFact(ctx, fact); err != nil {
			if fatal(err) {
				return err
			}
			e.logger.Warn("topic merge failed", "key", key, "topic", te.Topic, "err", err)
			continue
		}
		merged++
	}
	e.metrics.IncFactsMerged(merged)
	return nil
}

// storeEpisodes embeds the snippets and inserts them as one batch. An
// embedding failure drops the whole batch: no unembedded rows, ever.
func (e *Engine) storeEpisodes(ctx context.Context, key model.Key, texts []string) {
	if len(texts) == 0 {
		return
	}
	cctx, cancel := e.bounded(ctx)
	defer cancel()
	vectors, err := e.embedder.EmbedBatch(cctx, texts)
	if err != nil {
		e.logger.Warn("embedding failed, dropping episode batch", "key", key, "count", len(texts), "err", err)
		return
	}
	episodes := make([]model.EpisodicMemory, len(texts))
	for i, text := range texts {
		episodes[i] = model.EpisodicMemory{
			UserID:      key.UserID,
			CharacterID: key.CharacterID,
			Text:        text,
			Embedding:   vectors[i],
		}
	}
	if err := e.store.InsertEpisodes(ctx, episodes); err != nil {
		e.logger.Warn("episode insert failed", "key", key, "err", err)
		return
	}
	e.metrics.IncEpisodes(len(episodes))
}

// scoreRelationship applies the turn to the relationship state. On any
// failure the previous state is retained unchanged.
func (e *Engine) scoreRelationship(ctx context.Context, key model.Key, content string, total int, res extract.Result, now time.Time) {
	state, err := e.store.GetRelationship(ctx, key)
	if err != nil {
		e.logger.Warn("relationship load failed, state unchanged", "key", key, "err", err)
		return
	}
	e.scorer.Update(&state, content, total, res, now)
	if err := e.store.SaveRelationship(ctx, state); err != nil {
		e.logger.Warn("relationship save failed, state unchanged", "key", key, "err", err)
	}
}

// maybeRefreshSummary replaces the rolling summary once every
// SummaryInterval stored turns. A failed refresh leaves the previous summary
// in place.
func (e *Engine) maybeRefreshSummary(ctx context.Context, key model.Key, total int) {
	if e.summarizer == nil || total == 0 || total%e.opts.SummaryInterval != 0 {
		return
	}
	turns, err := e.store.RecentTurns(ctx, key, e.opts.SummaryInterval)
	if err != nil {
		e.metrics.IncSummaryFailures()
		e.logger.Warn("summary skipped, recent turns unavailable", "key", key, "err", err)
		return
	}
	cctx, cancel := e.bounded(ctx)
	defer cancel()
	summary, err := e.summarizer.Refresh(cctx, key, turns)
	if err != nil {
		e.metrics.IncSummaryFailures()
		e.logger.Warn("summary refresh failed, previous summary kept", "key", key, "err", err)
		return
	}
	if err := e.store.UpsertSummary(ctx, summary); err != nil {
		e.metrics.IncSummaryFailures()
		e.logger.Warn("summary save failed, previous summary kept", "key", key, "err", err)
		return
	}
	e.metrics.IncSummaries()
}

// Snapshot fetches facts, summary, and episodic matches for a key, fanning
// the three reads out concurrently. Capability failures degrade to empty
// sections; validation errors surface.
func (e *Engine) Snapshot(ctx context.Context, key model.Key, persona, query string) (Snapshot, error) {
	snap := Snapshot{Persona: persona}

	cctx, cancel := e.bounded(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var factsErr, summaryErr, episodesErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap.Facts, factsErr = e.store.ListFacts(cctx, key, e.opts.FactListLimit)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap.Summary, summaryErr = e.store.GetSummary(cctx, key)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if query == "" {
			return
		}
		var vec []float32
		vec, episodesErr = e.embedder.Embed(cctx, query)
		if episodesErr != nil {
			return
		}
		snap.Episodes, episodesErr = e.store.SearchEpisodes(cctx, key, vec, e.opts.EpisodeSearchK, e.opts.EpisodeSimilarityThreshold)
	}()

	wg.Wait()

	for _, err := range []error{factsErr, summaryErr, episodesErr} {
		if err == nil {
			continue
		}
		if fatal(err) {
			return Snapshot{}, err
		}
		e.logger.Warn("context fetch degraded", "key", key, "err", err)
	}
	return snap, nil
}

// Context assembles the prompt block for the next completion call.
func (e *Engine) Context(ctx context.Context, key model.Key, persona, query string) (string, error) {
	snap, err := e.Snapshot(ctx, key, persona, query)
	if err != nil {
		return "", err
	}
	e.metrics.IncContextsBuilt()
	return BuildContext(snap), nil
}

// MaintenanceReport summarizes one maintenance sweep.
type MaintenanceReport struct {
	FactsDecayed   int
	EpisodesPruned int
}

// RunMaintenance applies confidence decay and episodic retention pruning.
// It is meant to be driven by an external scheduler, never per-turn.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	now := e.clock().UTC()
	var report MaintenanceReport

	decayed, err := e.store.DecayFacts(ctx, now, store.DefaultDecayAfter, store.DefaultDecayFactor, store.DefaultConfidenceFloor)
	if err != nil {
		return report, err
	}
	report.FactsDecayed = decayed
	e.metrics.IncFactsDecayed(decayed)

	pruned, err := e.store.PruneEpisodes(ctx, now.Add(-store.DefaultEpisodeRetention))
	if err != nil {
		return report, err
	}
	report.EpisodesPruned = pruned
	e.metrics.IncEpisodesPruned(pruned)

	return report, nil
}
