package launch

import "sync"

// CohortTracker remembers which mints were recently touched by configured
// smart-money wallets. A hit grants the conviction scorer a decaying boost.
type CohortTracker struct {
	mu      sync.Mutex
	smart   map[string]bool
	hits    map[string]int64 // mint -> last hit ts (ms)
	boost   int
	decayMs int64
}

func NewCohortTracker(smartWallets []string, boost, decaySec int) *CohortTracker {
	smart := make(map[string]bool, len(smartWallets))
	for _, wallet := range smartWallets {
		smart[wallet] = true
	}
	return &CohortTracker{
		smart:   smart,
		hits:    make(map[string]int64),
		boost:   boost,
		decayMs: int64(decaySec) * 1000,
	}
}

// RecordHit marks a smart-money touch on mint if buyer is in the cohort set.
// Returns true when the buyer matched.
func (c *CohortTracker) RecordHit(mint, buyer string, ts int64) bool {
	if buyer == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.smart[buyer] {
		return false
	}
	if ts > c.hits[mint] {
		c.hits[mint] = ts
	}
	return true
}

// BoostFor returns the configured boost when the mint's last smart-money hit
// is still within the decay window, zero otherwise.
func (c *CohortTracker) BoostFor(mint string, now int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	lastHit, ok := c.hits[mint]
	if !ok {
		return 0
	}
	if now-lastHit <= c.decayMs {
		return c.boost
	}
	return 0
}

// DeployerStats tracks per-creator launch history and derives the good-rate
// bucket boost. Purely in-memory: a restart starts cold, which only costs a
// few early boosts.
type DeployerStats struct {
	mu    sync.Mutex
	stats map[string]*deployerRecord
}

type deployerRecord struct {
	Launches int
	Accepted int
}

func NewDeployerStats() *DeployerStats {
	return &DeployerStats{stats: make(map[string]*deployerRecord)}
}

func (d *DeployerStats) record(creator string) *deployerRecord {
	rec, ok := d.stats[creator]
	if !ok {
		rec = &deployerRecord{}
		d.stats[creator] = rec
	}
	return rec
}

// RecordLaunch counts a new launch for creator.
func (d *DeployerStats) RecordLaunch(creator string) {
	if creator == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(creator).Launches++
}

// RecordAccept counts an accepted launch for creator.
func (d *DeployerStats) RecordAccept(creator string) {
	if creator == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(creator).Accepted++
}

// GoodRate returns accepted/launches for creator, zero when unknown.
func (d *DeployerStats) GoodRate(creator string) float64 {
	if creator == "" {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.stats[creator]
	if !ok || rec.Launches == 0 {
		return 0
	}
	return float64(rec.Accepted) / float64(rec.Launches)
}

// BoostFor maps the creator's historical good-rate to a score boost.
func (d *DeployerStats) BoostFor(creator string) int {
	rate := d.GoodRate(creator)
	switch {
	case rate >= 0.8:
		return 15
	case rate >= 0.6:
		return 10
	case rate >= 0.4:
		return 5
	default:
		return 0
	}
}
