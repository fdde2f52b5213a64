package launch

import (
	"testing"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

func TestParseKeyedMint(t *testing.T) {
	parser := NewLogParser(testValidator())
	buyer := testKey("Buyer")

	tests := []struct {
		name     string
		origin   models.Origin
		lines    []string
		wantMint string
		wantKind models.EventKind
	}{
		{
			name:     "pumpfun buy with mint and buyer keys",
			origin:   models.OriginPumpFun,
			lines:    []string{"Program log: Instruction: Buy", "mint: " + testMint, "buyer: " + buyer},
			wantMint: testMint,
			wantKind: models.EventBuy,
		},
		{
			name:     "token_mint key wins when mint absent",
			origin:   models.OriginPumpFun,
			lines:    []string{"buy", "token_mint=" + testMint},
			wantMint: testMint,
			wantKind: models.EventBuy,
		},
		{
			name:     "moonshot uses its own priority list",
			origin:   models.OriginMoonshot,
			lines:    []string{"createToken", "mint_address: " + testMint},
			wantMint: testMint,
			wantKind: models.EventCreate,
		},
		{
			name:     "unknown kind with keyed mint still yields mint",
			origin:   models.OriginRaydium,
			lines:    []string{"swap executed", "mint: " + testMint},
			wantMint: testMint,
			wantKind: models.EventUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parser.Parse(tt.lines, tt.origin)
			if result.Mint != tt.wantMint {
				t.Errorf("Parse() mint = %q, want %q", result.Mint, tt.wantMint)
			}
			if result.Kind != tt.wantKind {
				t.Errorf("Parse() kind = %q, want %q", result.Kind, tt.wantKind)
			}
		})
	}
}

func TestParseFirstWinsKeyMapping(t *testing.T) {
	parser := NewLogParser(testValidator())
	first := testKey("First")
	second := testKey("Second")

	result := parser.Parse([]string{"buy", "mint: " + first, "mint: " + second}, models.OriginPumpFun)
	if result.Mint != first {
		t.Errorf("Expected first-wins mapping to keep %q, got %q", first, result.Mint)
	}
}

func TestParseCreateSoleCandidateFallback(t *testing.T) {
	parser := NewLogParser(testValidator())

	// No key=value pair, but exactly one plausible pubkey in a create batch.
	result := parser.Parse([]string{"Program log: Instruction: Create", "new token " + testMint}, models.OriginPumpFun)
	if result.Mint != testMint {
		t.Fatalf("Expected sole-candidate fallback to find %q, got %q (miss=%q)", testMint, result.Mint, result.Miss)
	}

	// Two distinct pubkeys make the fallback ambiguous.
	other := testKey("Another")
	result = parser.Parse([]string{"create", testMint + " " + other}, models.OriginPumpFun)
	if result.Mint != "" {
		t.Errorf("Expected ambiguous create to miss, got mint %q", result.Mint)
	}
	if result.Miss == "" {
		t.Errorf("Expected a miss reason on ambiguous create")
	}
}

func TestParseRejectsInvalidCandidates(t *testing.T) {
	parser := NewLogParser(testValidator())

	tests := []struct {
		name  string
		lines []string
	}{
		{"system program as mint", []string{"buy", "mint: " + SystemProgramID}},
		{"subscribed program as mint", []string{"buy", "mint: " + testProgram}},
		{"no identifiers at all", []string{"Program log: consumed 4200 compute units"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parser.Parse(tt.lines, models.OriginPumpFun)
			if result.Mint != "" {
				t.Errorf("Parse() = %q, want empty mint", result.Mint)
			}
			if result.Miss == "" {
				t.Errorf("Expected a miss reason")
			}
		})
	}
}

func TestParseCreatorOnlyOnCreate(t *testing.T) {
	parser := NewLogParser(testValidator())
	creator := testKey("Creatr")

	result := parser.Parse([]string{"initializeMint", "mint: " + testMint, "creator: " + creator}, models.OriginPumpFun)
	if result.Kind != models.EventCreate {
		t.Fatalf("Expected create kind, got %q", result.Kind)
	}
	if result.Creator != creator {
		t.Errorf("Expected creator %q, got %q", creator, result.Creator)
	}

	result = parser.Parse([]string{"swap executed", "mint: " + testMint, "authority: " + creator}, models.OriginPumpFun)
	if result.Creator != "" {
		t.Errorf("Expected no creator on unknown kind, got %q", result.Creator)
	}
}
