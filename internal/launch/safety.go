package launch

import "github.com/rawblock/launch-sentinel/pkg/models"

// Safety gate thresholds. The fatal variant (sameFunderRatio > 0.75) lives in
// the entry engine because it is sticky; this gate is the retryable one.
const (
	safetyMinBuyers      = 4
	safetyMaxFunderRatio = 0.70
	safetyMinDepth       = 0.15
)

// SafetyVerdict is the outcome of the pure safety predicate. On pass, Reasons
// lists the satisfied rules; on fail, it holds the single rule that tripped.
type SafetyVerdict struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// EvaluateSafety applies the soft safety rules to a snapshot. Rules are
// checked in order and the first failure wins.
func EvaluateSafety(snap models.Snapshot) SafetyVerdict {
	if snap.Buyers < safetyMinBuyers {
		return SafetyVerdict{Pass: false, Reasons: []string{"buyers<4"}}
	}
	if snap.SameFunderRatio > safetyMaxFunderRatio {
		return SafetyVerdict{Pass: false, Reasons: []string{"sameFunderRatio>0.70"}}
	}
	if snap.DepthEst < safetyMinDepth {
		return SafetyVerdict{Pass: false, Reasons: []string{"depthEst<0.15"}}
	}
	return SafetyVerdict{
		Pass:    true,
		Reasons: []string{"buyers>=4", "sameFunderRatio<=0.70", "depthEst>=0.15"},
	}
}
