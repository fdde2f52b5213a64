package launch

import (
	"time"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

// ConvictionScorer composites the microstructure snapshot plus optional
// cohort and deployer boosts into a single 0-100 conviction score. Within a
// bucket the tiers are non-cumulative: the strongest satisfied tier wins.
type ConvictionScorer struct {
	cohort    *CohortTracker
	deployers *DeployerStats
}

func NewConvictionScorer(cohort *CohortTracker, deployers *DeployerStats) *ConvictionScorer {
	return &ConvictionScorer{cohort: cohort, deployers: deployers}
}

// Score produces the clamped conviction score and the contributing signals.
func (s *ConvictionScorer) Score(snap models.Snapshot, mint, creator string, now int64) (int, []string) {
	score := 0
	var signals []string

	switch {
	case snap.Buyers >= 8:
		score += 30
		signals = append(signals, "buyers>=8")
	case snap.Buyers >= 6:
		score += 20
		signals = append(signals, "buyers>=6")
	}

	switch {
	case snap.UniqueFunders >= 6:
		score += 20
		signals = append(signals, "uniqueFunders>=6")
	case snap.UniqueFunders >= 5:
		score += 15
		signals = append(signals, "uniqueFunders>=5")
	}

	switch {
	case snap.PriceJumps >= 2:
		score += 20
		signals = append(signals, "priceJumps>=2")
	case snap.PriceJumps >= 1:
		score += 10
		signals = append(signals, "priceJumps>=1")
	}

	switch {
	case snap.DepthEst >= 0.35:
		score += 20
		signals = append(signals, "depthEst>=0.35")
	case snap.DepthEst >= 0.30:
		score += 10
		signals = append(signals, "depthEst>=0.30")
	}

	if snap.SameFunderRatio > 0.60 {
		score -= 20
		signals = append(signals, "sameFunderRatio>0.60")
	}

	if s.cohort != nil {
		if boost := s.cohort.BoostFor(mint, now); boost > 0 {
			score += boost
			signals = append(signals, "cohort_hit")
		}
	}

	if s.deployers != nil {
		if boost := s.deployers.BoostFor(creator); boost > 0 {
			score += boost
			signals = append(signals, "deployer_good_rate")
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, signals
}

// ScoreNow is a convenience wrapper using the wall clock.
func (s *ConvictionScorer) ScoreNow(snap models.Snapshot, mint, creator string) (int, []string) {
	return s.Score(snap, mint, creator, time.Now().UnixMilli())
}
