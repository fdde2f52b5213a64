package launch

import (
	"sync"
	"time"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

// Counter names used across the pipeline. Keeping them as constants avoids
// typo'd keys silently creating new counters.
const (
	CounterBatches      = "batches"
	CounterParsed       = "parsed"
	CounterParseMiss    = "parse_miss"
	CounterInvalidMint  = "invalid_mint"
	CounterDuplicate    = "duplicate"
	CounterVerifyReject = "verify_reject"
	CounterTrackDrop    = "track_drop"
	CounterTxFetchErr   = "tx_fetch_error"
	CounterRateCap      = "rate_cap"
	CounterWSErrors     = "ws_errors"
	CounterReconnects   = "reconnects"
	CounterAccepts      = "accepts_24h"
	CounterRejects      = "rejects_24h"
	CounterSoftRejects  = "soft_rejects_24h"
	CounterPending      = "pending_24h"
	CounterCohortHits   = "cohort_hits"
)

// FeedCounters is the process-wide counter set. All counters are monotonic
// within a 24-hour window; the window rolls lazily on the next write after
// expiry. Reads take a consistent point-in-time copy.
type FeedCounters struct {
	mu          sync.Mutex
	windowStart int64
	totals      map[string]uint64
	perOrigin   map[models.Origin]uint64
	lastEventTs int64

	// Alert summary bookkeeping, exposed side-effect-free so the core stays
	// testable without a live notifier.
	summary     map[models.Decision]uint64
	lastAlertTs int64
}

const countersWindowMs = 24 * 60 * 60 * 1000

func NewFeedCounters() *FeedCounters {
	return &FeedCounters{
		windowStart: time.Now().UnixMilli(),
		totals:      make(map[string]uint64),
		perOrigin:   make(map[models.Origin]uint64),
		summary:     make(map[models.Decision]uint64),
	}
}

func (c *FeedCounters) rollLocked(now int64) {
	if now-c.windowStart <= countersWindowMs {
		return
	}
	c.windowStart = now
	c.totals = make(map[string]uint64)
	c.perOrigin = make(map[models.Origin]uint64)
}

// Bump increments a named counter by one.
func (c *FeedCounters) Bump(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(time.Now().UnixMilli())
	c.totals[name]++
}

// BumpOrigin records one event for an origin and refreshes the last-event time.
func (c *FeedCounters) BumpOrigin(origin models.Origin, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(ts)
	c.perOrigin[origin]++
	if ts > c.lastEventTs {
		c.lastEventTs = ts
	}
}

// Get returns a single counter value.
func (c *FeedCounters) Get(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[name]
}

// BumpSummary records a decision outcome for the periodic alert summary.
func (c *FeedCounters) BumpSummary(d models.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary[d]++
}

// DrainSummary returns the decision counts accumulated since the last drain
// and resets them. The summary timer in main owns the cadence.
func (c *FeedCounters) DrainSummary() map[models.Decision]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.summary
	c.summary = make(map[models.Decision]uint64)
	return out
}

// LastAlertTs returns the timestamp of the most recent emitted alert.
func (c *FeedCounters) LastAlertTs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAlertTs
}

// MarkAlert records that an alert was emitted at ts.
func (c *FeedCounters) MarkAlert(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.lastAlertTs {
		c.lastAlertTs = ts
	}
}

// CountersSnapshot is the consistent read-side copy for the status endpoint.
type CountersSnapshot struct {
	WindowStart int64                    `json:"windowStart"`
	Totals      map[string]uint64        `json:"totals"`
	PerOrigin   map[models.Origin]uint64 `json:"perOrigin"`
	LastEventTs int64                    `json:"lastEventTs"`
	LastAlertTs int64                    `json:"lastAlertTs"`
}

// Snapshot returns a point-in-time copy of every counter.
func (c *FeedCounters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := CountersSnapshot{
		WindowStart: c.windowStart,
		Totals:      make(map[string]uint64, len(c.totals)),
		PerOrigin:   make(map[models.Origin]uint64, len(c.perOrigin)),
		LastEventTs: c.lastEventTs,
		LastAlertTs: c.lastAlertTs,
	}
	for k, v := range c.totals {
		snap.Totals[k] = v
	}
	for k, v := range c.perOrigin {
		snap.PerOrigin[k] = v
	}
	return snap
}
