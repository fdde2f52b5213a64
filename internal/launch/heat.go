package launch

import (
	"sync"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// HeatController is the closed-loop feedback controller: it watches its own
// accept rate over a rolling window and drifts the entry thresholds against
// it. A cold market loosens, a hot market tightens, and the apex bar never
// moves with heat.
//
// State is a minute-indexed ring of distinct-mint sets, so a mint accepted
// twice in one minute (SMALL then APEX) still counts once.
type HeatController struct {
	mu      sync.Mutex
	cfg     config.HeatConfig
	entry   config.EntryConfig
	buckets []map[string]bool
	epochs  []int64 // minute number each bucket currently represents
}

func NewHeatController(cfg config.HeatConfig, entry config.EntryConfig) *HeatController {
	size := cfg.WindowMin
	if size < 60 {
		size = 60
	}
	return &HeatController{
		cfg:     cfg,
		entry:   entry,
		buckets: make([]map[string]bool, size),
		epochs:  make([]int64, size),
	}
}

func (h *HeatController) bucketFor(minute int64) map[string]bool {
	idx := int(minute % int64(len(h.buckets)))
	if idx < 0 {
		idx += len(h.buckets)
	}
	if h.epochs[idx] != minute {
		h.buckets[idx] = make(map[string]bool)
		h.epochs[idx] = minute
	}
	if h.buckets[idx] == nil {
		h.buckets[idx] = make(map[string]bool)
	}
	return h.buckets[idx]
}

// RecordAccept adds a mint to the current minute's set. The entry engine calls
// this exactly once per first accept of a mint.
func (h *HeatController) RecordAccept(mint string, ts int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bucketFor(ts / 60_000)[mint] = true
}

// AcceptsPerHour unions the distinct mints of the last windowMin minutes and
// scales to an hourly rate.
func (h *HeatController) AcceptsPerHour(ts int64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acceptsPerHourLocked(ts)
}

func (h *HeatController) acceptsPerHourLocked(ts int64) float64 {
	minute := ts / 60_000
	distinct := make(map[string]bool)
	for i := 0; i < h.cfg.WindowMin; i++ {
		m := minute - int64(i)
		idx := int(m % int64(len(h.buckets)))
		if idx < 0 {
			idx += len(h.buckets)
		}
		if h.epochs[idx] != m || h.buckets[idx] == nil {
			continue
		}
		for mint := range h.buckets[idx] {
			distinct[mint] = true
		}
	}
	return float64(len(distinct)) * 60.0 / float64(h.cfg.WindowMin)
}

// Band classifies the current accept rate. Comparisons are strict: a rate
// sitting exactly on a boundary is NEUTRAL.
func (h *HeatController) band(aph float64) models.HeatBand {
	switch {
	case aph < h.cfg.MinAcceptsPerHr:
		return models.HeatCold
	case aph > h.cfg.MaxAcceptsPerHr:
		return models.HeatHot
	default:
		return models.HeatNeutral
	}
}

// EffectiveThresholds computes the heat-adjusted acceptance surface at ts.
func (h *HeatController) EffectiveThresholds(ts int64) models.EffectiveThresholds {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Enabled {
		return models.EffectiveThresholds{
			Band:      models.HeatNeutral,
			MinScore:  h.entry.MinScore,
			ApexScore: h.entry.ApexScore,
			MinBuyers: h.entry.MinObsBuyers,
			MinUnique: h.entry.MinObsUnique,
		}
	}

	aph := h.acceptsPerHourLocked(ts)
	band := h.band(aph)

	scoreDelta, buyersDelta := 0, 0
	switch band {
	case models.HeatCold:
		scoreDelta = -absInt(h.cfg.LoosenScore)
		buyersDelta = -absInt(h.cfg.LoosenBuyers)
	case models.HeatHot:
		scoreDelta = absInt(h.cfg.TightenScore)
		buyersDelta = absInt(h.cfg.TightenBuyers)
	}

	scoreFloor := h.cfg.FloorScore
	buyersFloor := h.cfg.FloorBuyers
	if band == models.HeatCold {
		// Even when loosening, never chase a dead market below sanity floors.
		scoreFloor = maxInt(h.cfg.FloorScore, 40)
		buyersFloor = maxInt(h.cfg.FloorBuyers, 5)
	}

	uniqueFloor := maxInt(0, h.cfg.FloorBuyers-1)
	if band == models.HeatCold {
		uniqueFloor = maxInt(4, buyersFloor-1)
	}
	uniqueCeil := maxInt(0, h.cfg.CeilBuyers-2)

	return models.EffectiveThresholds{
		Band:           band,
		AcceptsPerHour: aph,
		MinScore:       clampInt(h.entry.MinScore+scoreDelta, scoreFloor, h.cfg.CeilScore),
		ApexScore:      clampInt(h.entry.ApexScore, h.cfg.FloorScore, h.cfg.CeilScore),
		MinBuyers:      clampInt(h.entry.MinObsBuyers+buyersDelta, buyersFloor, h.cfg.CeilBuyers),
		MinUnique:      clampInt(h.entry.MinObsUnique+buyersDelta, uniqueFloor, uniqueCeil),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
