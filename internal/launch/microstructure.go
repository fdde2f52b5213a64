package launch

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

// MicrostructureTracker keeps a rolling view of the first minutes of a token's
// life: recent events, funder concentration and price jump counts. States are
// created on the first valid log for a mint and evicted after a quiet period.
type MicrostructureTracker struct {
	mu        sync.Mutex
	states    map[string]*mintState
	validator *MintValidator
	counters  *FeedCounters
}

const (
	microEventCap      = 100
	microExpireTTL     = 120 * time.Second
	priceJumpThreshold = 0.10
	emitInterval       = 5000 // ms between forced snapshot emissions
	emitEpsilon        = 0.02
)

var priceValuePattern = regexp.MustCompile(`\b(?:price|p)[=:]\s*([0-9]*\.?[0-9]+)`)

type microEvent struct {
	ts       int64
	rawLine  string
	funder   string
	price    float64
	hasPrice bool
}

type mintState struct {
	origin       models.Origin
	firstSeenTs  int64
	lastSeenTs   int64
	events       []microEvent
	funderCounts map[string]int
	priceJumps   int
	lastPrice    float64
	hasLastPrice bool
	lastEmitTs   int64
	lastSnapshot *models.Snapshot
}

func NewMicrostructureTracker(validator *MintValidator, counters *FeedCounters) *MicrostructureTracker {
	return &MicrostructureTracker{
		states:    make(map[string]*mintState),
		validator: validator,
		counters:  counters,
	}
}

// Track ingests one raw log line for a mint and returns the derived snapshot
// plus whether it changed enough to be worth emitting downstream.
func (t *MicrostructureTracker) Track(mint string, origin models.Origin, ts int64, rawLine string) (models.TrackResult, bool) {
	if !t.validator.IsValidMint(mint) {
		if t.counters != nil {
			t.counters.Bump(CounterTrackDrop)
		}
		return models.TrackResult{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[mint]
	if !ok {
		state = &mintState{
			origin:       origin,
			firstSeenTs:  ts,
			funderCounts: make(map[string]int),
		}
		t.states[mint] = state
	}
	state.lastSeenTs = ts

	ev := microEvent{ts: ts, rawLine: rawLine}

	// Funder: any plausible pubkey in the line that is not the mint itself.
	for _, tok := range base58Pattern.FindAllString(rawLine, -1) {
		if tok == mint || !t.validator.IsValidMint(tok) {
			continue
		}
		ev.funder = tok
		state.funderCounts[tok]++
		break
	}

	if match := priceValuePattern.FindStringSubmatch(rawLine); match != nil {
		if price, err := strconv.ParseFloat(match[1], 64); err == nil {
			ev.price = price
			ev.hasPrice = true
			if state.hasLastPrice && state.lastPrice > 0 {
				delta := price - state.lastPrice
				if delta < 0 {
					delta = -delta
				}
				if delta/state.lastPrice >= priceJumpThreshold {
					state.priceJumps++
				}
			}
			state.lastPrice = price
			state.hasLastPrice = true
		}
	}

	state.events = append(state.events, ev)
	if len(state.events) > microEventCap {
		state.events = state.events[1:]
	}

	snap := state.derive()
	changed := state.changedSince(snap, ts)
	if changed {
		copied := snap
		state.lastSnapshot = &copied
		state.lastEmitTs = ts
	}

	return models.TrackResult{Funder: ev.funder, Snapshot: snap, Changed: changed}, true
}

func (s *mintState) derive() models.Snapshot {
	buyers := len(s.events)
	maxFunder := 0
	for _, count := range s.funderCounts {
		if count > maxFunder {
			maxFunder = count
		}
	}
	ratio := 0.0
	if buyers > 0 {
		ratio = float64(maxFunder) / float64(buyers)
	}
	depth := float64(buyers) / 20.0
	if depth > 1 {
		depth = 1
	}
	return models.Snapshot{
		Buyers:          buyers,
		UniqueFunders:   len(s.funderCounts),
		SameFunderRatio: ratio,
		PriceJumps:      s.priceJumps,
		DepthEst:        depth,
		LastTs:          s.lastSeenTs,
	}
}

func (s *mintState) changedSince(snap models.Snapshot, ts int64) bool {
	prev := s.lastSnapshot
	if prev == nil {
		return true
	}
	if snap.Buyers != prev.Buyers || snap.UniqueFunders != prev.UniqueFunders || snap.PriceJumps != prev.PriceJumps {
		return true
	}
	if abs(snap.DepthEst-prev.DepthEst) >= emitEpsilon {
		return true
	}
	if abs(snap.SameFunderRatio-prev.SameFunderRatio) >= emitEpsilon {
		return true
	}
	return ts-s.lastEmitTs > emitInterval
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Snapshot is the deterministic read side; unknown mints yield zeros.
func (t *MicrostructureTracker) Snapshot(mint string) models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[mint]
	if !ok {
		return models.Snapshot{}
	}
	return state.derive()
}

// Expire removes all states quiet for longer than ttl and returns how many
// were evicted.
func (t *MicrostructureTracker) Expire(now int64, ttl time.Duration) int {
	if ttl <= 0 {
		ttl = microExpireTTL
	}
	cutoff := now - ttl.Milliseconds()

	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for mint, state := range t.states {
		if state.lastSeenTs < cutoff {
			delete(t.states, mint)
			evicted++
		}
	}
	return evicted
}

// ActiveMint is the summary row exposed to the status endpoint and the quote
// sampler.
type ActiveMint struct {
	Mint        string        `json:"mint"`
	Origin      models.Origin `json:"origin"`
	FirstSeenTs int64         `json:"firstSeenTs"`
	LastSeenTs  int64         `json:"lastSeenTs"`
	Buyers      int           `json:"buyers"`
	LastPrice   float64       `json:"lastPrice,omitempty"`
}

// Active returns a point-in-time copy of every live state.
func (t *MicrostructureTracker) Active() []ActiveMint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveMint, 0, len(t.states))
	for mint, state := range t.states {
		row := ActiveMint{
			Mint:        mint,
			Origin:      state.origin,
			FirstSeenTs: state.firstSeenTs,
			LastSeenTs:  state.lastSeenTs,
			Buyers:      len(state.events),
		}
		if state.hasLastPrice {
			row.LastPrice = state.lastPrice
		}
		out = append(out, row)
	}
	return out
}

// Len returns the number of tracked mints.
func (t *MicrostructureTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
