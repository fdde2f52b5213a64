package launch

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// fatalFunderRatio is the sticky kill threshold: concentration this extreme is
// a bundler signature, not noise, so the mint is never evaluated again.
const fatalFunderRatio = 0.75

// EntryRecord is the persistence-facing shape of a decision outcome.
type EntryRecord struct {
	Mint          string
	Origin        models.Origin
	Market        string
	Tier          models.Tier
	Score         int
	Status        string
	SizeSol       float64
	DecidedTs     int64
	ClientOrderID string
	Notes         string
}

// DecisionStore is the slice of the persistent store the engine writes to.
type DecisionStore interface {
	// UpsertUnitaryEntry inserts the single unitary-entry row for a market,
	// overwriting only a prior row that is not already an accept.
	UpsertUnitaryEntry(ctx context.Context, rec EntryRecord) error
	// UpgradeUnitaryEntry promotes an accepted SMALL row to APEX in place.
	UpgradeUnitaryEntry(ctx context.Context, market string, tier models.Tier, score int, ts int64) error
}

// DecisionAlerter receives accept and fatal-reject notifications.
type DecisionAlerter interface {
	EntryAccepted(rec EntryRecord, snap models.Snapshot, eff models.EffectiveThresholds, signals []string)
	EntryRejected(rec EntryRecord, snap models.Snapshot, reason string)
}

type mintDecision struct {
	origin         models.Origin
	creator        string
	firstSeenTs    int64
	lastEvalTs     int64
	reevalCount    int
	bestScore      int
	lastDecision   models.Decision
	lastTier       models.Tier
	lastAcceptedTs int64
	stickyFatal    bool
	ttlExpired     bool
}

// EntryEngine is the per-mint decision state machine. Every invocation walks
// the same ordered gates: cooldown, hold TTL, observation, fatal, soft,
// conviction, tiering, accept guards.
type EntryEngine struct {
	cfg       config.EntryConfig
	dryRun    bool
	sizeSmall float64
	sizeApex  float64

	micro     *MicrostructureTracker
	heat      *HeatController
	scorer    *ConvictionScorer
	deployers *DeployerStats
	store     DecisionStore
	alerter   DecisionAlerter
	counters  *FeedCounters

	mu            sync.Mutex
	states        map[string]*mintDecision
	lastDecisions []models.DecisionRecord
	lastAccepted  []models.DecisionRecord
}

const recentDecisionCap = 10

func NewEntryEngine(
	cfg config.EntryConfig,
	dryRun bool,
	sizeSmall, sizeApex float64,
	micro *MicrostructureTracker,
	heat *HeatController,
	scorer *ConvictionScorer,
	deployers *DeployerStats,
	store DecisionStore,
	alerter DecisionAlerter,
	counters *FeedCounters,
) *EntryEngine {
	return &EntryEngine{
		cfg:       cfg,
		dryRun:    dryRun,
		sizeSmall: sizeSmall,
		sizeApex:  sizeApex,
		micro:     micro,
		heat:      heat,
		scorer:    scorer,
		deployers: deployers,
		store:     store,
		alerter:   alerter,
		counters:  counters,
	}
}

// Evaluate runs one pass of the decision state machine for a mint.
func (e *EntryEngine) Evaluate(ctx context.Context, mint string, origin models.Origin, nowTs int64, creator string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.states == nil {
		e.states = make(map[string]*mintDecision)
	}
	state, ok := e.states[mint]
	if !ok {
		state = &mintDecision{origin: origin, firstSeenTs: nowTs}
		e.states[mint] = state
	}
	if creator != "" && state.creator == "" {
		state.creator = creator
	}

	if state.stickyFatal {
		return
	}

	// Re-evaluation cooldown keeps bursty batches from stacking decision paths.
	if state.lastEvalTs > 0 && nowTs-state.lastEvalTs < int64(e.cfg.ReevalCooldownSec)*1000 {
		return
	}
	state.lastEvalTs = nowTs
	state.reevalCount++

	// Hold TTL: a mint that never leaves hold eventually soft-rejects.
	if state.lastDecision == models.DecisionHold {
		ttlHit := e.cfg.HoldTtlSec > 0 && nowTs-state.firstSeenTs > int64(e.cfg.HoldTtlSec)*1000
		reevalHit := e.cfg.HoldMaxReevals > 0 && state.reevalCount >= e.cfg.HoldMaxReevals
		if ttlHit || reevalHit {
			state.lastDecision = models.DecisionRejectedSoft
			state.ttlExpired = true
			e.counters.Bump(CounterSoftRejects)
			e.counters.BumpSummary(models.DecisionRejectedSoft)
			e.pushRecentLocked(mint, state, 0)
			log.Printf("[EntryEngine] %s hold expired (reevals=%d)", mint, state.reevalCount)
			return
		}
	}

	snap := e.micro.Snapshot(mint)
	eff := e.heat.EffectiveThresholds(nowTs)

	// Observation gate: not enough flow to judge yet.
	if snap.Buyers < eff.MinBuyers || snap.UniqueFunders < eff.MinUnique {
		e.holdLocked(mint, state)
		return
	}

	// Fatal gate: absorbing state, persisted and alerted exactly once.
	if snap.SameFunderRatio > fatalFunderRatio {
		state.lastDecision = models.DecisionRejectedFatal
		state.stickyFatal = true
		e.counters.Bump(CounterRejects)
		e.counters.BumpSummary(models.DecisionRejectedFatal)
		rec := EntryRecord{
			Mint:      mint,
			Origin:    state.origin,
			Market:    mint,
			Tier:      models.TierReject,
			Score:     0,
			Status:    "rejected_fatal",
			DecidedTs: nowTs,
			Notes:     "sameFunderRatio>0.75",
		}
		e.persistRejectionLocked(ctx, rec)
		if e.alerter != nil {
			e.alerter.EntryRejected(rec, snap, "sameFunderRatio>0.75")
		}
		e.pushRecentLocked(mint, state, 0)
		return
	}

	// Soft gate: retryable, in-memory only.
	if verdict := EvaluateSafety(snap); !verdict.Pass {
		state.lastDecision = models.DecisionRejectedSoft
		e.counters.Bump(CounterSoftRejects)
		e.counters.BumpSummary(models.DecisionRejectedSoft)
		e.pushRecentLocked(mint, state, 0)
		return
	}

	score, signals := e.scorer.Score(snap, mint, state.creator, nowTs)
	if score > state.bestScore {
		state.bestScore = score
	}

	tier := models.TierReject
	switch {
	case score >= eff.ApexScore:
		tier = models.TierApex
	case score >= eff.MinScore:
		tier = models.TierSmall
	}
	if tier == models.TierReject {
		e.holdLocked(mint, state)
		return
	}

	// Accept-upgrade cooldown: let a fresh SMALL breathe before promoting.
	if tier == models.TierApex && state.lastDecision == models.DecisionAcceptedSmall &&
		nowTs-state.lastAcceptedTs < int64(e.cfg.AcceptCooldownSec)*1000 {
		return
	}

	// Single-accept guard: SMALL→APEX is the only allowed transition.
	wasAccepted := state.lastDecision.Accepted()
	if wasAccepted {
		if !(state.lastDecision == models.DecisionAcceptedSmall && tier == models.TierApex) {
			return
		}
	}

	status := "accepted"
	if e.dryRun {
		status = "dry_run"
	}
	size := e.sizeSmall
	if tier == models.TierApex {
		size = e.sizeApex
	}
	rec := EntryRecord{
		Mint:          mint,
		Origin:        state.origin,
		Market:        mint,
		Tier:          tier,
		Score:         score,
		Status:        status,
		SizeSol:       size,
		DecidedTs:     nowTs,
		ClientOrderID: uuid.NewString(),
	}

	if e.store != nil {
		var err error
		if wasAccepted {
			err = e.store.UpgradeUnitaryEntry(ctx, rec.Market, tier, score, nowTs)
		} else {
			err = e.store.UpsertUnitaryEntry(ctx, rec)
		}
		if err != nil {
			log.Printf("[EntryEngine] Persist failed for %s: %v", mint, err)
		}
	}

	state.lastAcceptedTs = nowTs
	if tier == models.TierApex {
		state.lastDecision = models.DecisionAcceptedApex
	} else {
		state.lastDecision = models.DecisionAcceptedSmall
	}
	state.lastTier = tier

	if e.alerter != nil {
		e.alerter.EntryAccepted(rec, snap, eff, signals)
	}

	// The heat tick fires only on the first accept, never on SMALL→APEX.
	if !wasAccepted {
		e.counters.Bump(CounterAccepts)
		e.counters.BumpSummary(state.lastDecision)
		e.heat.RecordAccept(mint, nowTs)
		e.deployers.RecordAccept(state.creator)
	}
	e.pushRecentLocked(mint, state, score)
	log.Printf("[EntryEngine] ✅ %s accepted tier=%s score=%d band=%s", mint, tier, score, eff.Band)
}

func (e *EntryEngine) holdLocked(mint string, state *mintDecision) {
	if state.lastDecision != models.DecisionHold {
		e.counters.Bump(CounterPending)
		e.counters.BumpSummary(models.DecisionHold)
	}
	state.lastDecision = models.DecisionHold
}

func (e *EntryEngine) persistRejectionLocked(ctx context.Context, rec EntryRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertUnitaryEntry(ctx, rec); err != nil {
		log.Printf("[EntryEngine] Persist rejection failed for %s: %v", rec.Mint, err)
	}
}

func (e *EntryEngine) pushRecentLocked(mint string, state *mintDecision, score int) {
	rec := models.DecisionRecord{
		Mint:     mint,
		Origin:   state.origin,
		Decision: state.lastDecision,
		Tier:     state.lastTier,
		Score:    score,
		Ts:       state.lastEvalTs,
	}
	e.lastDecisions = append(e.lastDecisions, rec)
	if len(e.lastDecisions) > recentDecisionCap {
		e.lastDecisions = e.lastDecisions[1:]
	}
	if state.lastDecision.Accepted() {
		e.lastAccepted = append(e.lastAccepted, rec)
		if len(e.lastAccepted) > recentDecisionCap {
			e.lastAccepted = e.lastAccepted[1:]
		}
	}
}

// RecordLaunch notes a creator's new launch for deployer statistics.
func (e *EntryEngine) RecordLaunch(creator string) {
	e.deployers.RecordLaunch(creator)
}

// DecisionState is the status-endpoint view of one mint's machine state.
type DecisionState struct {
	Mint         string          `json:"mint"`
	Origin       models.Origin   `json:"origin"`
	Decision     models.Decision `json:"decision"`
	BestScore    int             `json:"bestScore"`
	ReevalCount  int             `json:"reevalCount"`
	StickyFatal  bool            `json:"stickyFatal"`
	TtlExpired   bool            `json:"ttlExpired"`
	FirstSeenTs  int64           `json:"firstSeenTs"`
	LastEvalTs   int64           `json:"lastEvalTs"`
	LastAcceptTs int64           `json:"lastAcceptTs,omitempty"`
}

// DecisionStats is a consistent copy of the engine's aggregate state.
type DecisionStats struct {
	Tracked       int                     `json:"tracked"`
	LastDecisions []models.DecisionRecord `json:"lastDecisions"`
	LastAccepted  []models.DecisionRecord `json:"lastAccepted"`
}

// Stats returns recent decision history for the status endpoint.
func (e *EntryEngine) Stats() DecisionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := DecisionStats{
		Tracked:       len(e.states),
		LastDecisions: append([]models.DecisionRecord(nil), e.lastDecisions...),
		LastAccepted:  append([]models.DecisionRecord(nil), e.lastAccepted...),
	}
	return stats
}

// StateOf returns the decision state for a mint, if tracked.
func (e *EntryEngine) StateOf(mint string) (DecisionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[mint]
	if !ok {
		return DecisionState{}, false
	}
	return DecisionState{
		Mint:         mint,
		Origin:       state.origin,
		Decision:     state.lastDecision,
		BestScore:    state.bestScore,
		ReevalCount:  state.reevalCount,
		StickyFatal:  state.stickyFatal,
		TtlExpired:   state.ttlExpired,
		FirstSeenTs:  state.firstSeenTs,
		LastEvalTs:   state.lastEvalTs,
		LastAcceptTs: state.lastAcceptedTs,
	}, true
}
