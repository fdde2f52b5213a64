package launch

import (
	"testing"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

func TestEvaluateSafetyBoundaries(t *testing.T) {
	base := models.Snapshot{Buyers: 8, UniqueFunders: 6, SameFunderRatio: 0.3, DepthEst: 0.4}

	tests := []struct {
		name       string
		mutate     func(*models.Snapshot)
		wantPass   bool
		wantReason string
	}{
		{"healthy snapshot passes", func(s *models.Snapshot) {}, true, ""},
		{"three buyers fails", func(s *models.Snapshot) { s.Buyers = 3 }, false, "buyers<4"},
		{"four buyers passes", func(s *models.Snapshot) { s.Buyers = 4 }, true, ""},
		{"ratio at 0.70 passes", func(s *models.Snapshot) { s.SameFunderRatio = 0.70 }, true, ""},
		{"ratio at 0.71 fails", func(s *models.Snapshot) { s.SameFunderRatio = 0.71 }, false, "sameFunderRatio>0.70"},
		{"depth at 0.15 passes", func(s *models.Snapshot) { s.DepthEst = 0.15 }, true, ""},
		{"depth at 0.149 fails", func(s *models.Snapshot) { s.DepthEst = 0.149 }, false, "depthEst<0.15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base
			tt.mutate(&snap)
			verdict := EvaluateSafety(snap)
			if verdict.Pass != tt.wantPass {
				t.Fatalf("Pass = %v, want %v (reasons %v)", verdict.Pass, tt.wantPass, verdict.Reasons)
			}
			if !tt.wantPass {
				if len(verdict.Reasons) != 1 || verdict.Reasons[0] != tt.wantReason {
					t.Errorf("Reasons = %v, want [%s]", verdict.Reasons, tt.wantReason)
				}
			} else if len(verdict.Reasons) != 3 {
				t.Errorf("Expected three satisfied rule names on pass, got %v", verdict.Reasons)
			}
		})
	}
}

func TestSafetyRuleOrder(t *testing.T) {
	// Multiple violations report the first rule in gate order.
	snap := models.Snapshot{Buyers: 2, SameFunderRatio: 0.9, DepthEst: 0.01}
	verdict := EvaluateSafety(snap)
	if verdict.Pass || verdict.Reasons[0] != "buyers<4" {
		t.Errorf("Expected buyers<4 to win, got %v", verdict.Reasons)
	}
}
