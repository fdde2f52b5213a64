package launch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rawblock/launch-sentinel/internal/solana"
)

func TestIsValidMint(t *testing.T) {
	validator := testValidator()

	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"plausible pubkey", testMint, true},
		{"too short", strings.Repeat("1", 31), false},
		{"too long", strings.Repeat("2", 45), false},
		{"invalid charset", "O0Il" + strings.Repeat("1", 40), false},
		{"system program denied", SystemProgramID, false},
		{"token program denied", TokenProgramID, false},
		{"wrapped sol denied", WSOLMint, false},
		{"subscribed program denied", testProgram, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validator.IsValidMint(tt.addr); got != tt.want {
				t.Errorf("IsValidMint(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsRealMint(t *testing.T) {
	ctx := context.Background()

	realMintData := make([]byte, splMintDataLen)
	accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
		testKey("TrueMint"):   {Owner: TokenProgramID, Data: realMintData},
		testKey("Wrongowner"): {Owner: SystemProgramID, Data: realMintData},
		testKey("WrongSize"):  {Owner: TokenProgramID, Data: make([]byte, 165)},
	}}
	validator := NewMintValidator([]string{testProgram}, accounts, 0, NewFeedCounters())

	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"real fungible mint", testKey("TrueMint"), true},
		{"wrong owner", testKey("Wrongowner"), false},
		{"token account not mint", testKey("WrongSize"), false},
		{"missing account", testKey("Missing"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validator.IsRealMint(ctx, tt.addr); got != tt.want {
				t.Errorf("IsRealMint(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsRealMintCachesVerdicts(t *testing.T) {
	ctx := context.Background()
	accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
		testMint: {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
	}}
	validator := NewMintValidator(nil, accounts, 0, NewFeedCounters())

	for i := 0; i < 5; i++ {
		if !validator.IsRealMint(ctx, testMint) {
			t.Fatalf("IsRealMint should be true")
		}
	}
	if accounts.calls != 1 {
		t.Errorf("Expected 1 account fetch, got %d", accounts.calls)
	}
}

func TestIsRealMintErrorCachesFalse(t *testing.T) {
	ctx := context.Background()
	accounts := &fakeAccounts{err: fmt.Errorf("rpc down")}
	validator := NewMintValidator(nil, accounts, 0, NewFeedCounters())

	if validator.IsRealMint(ctx, testMint) {
		t.Fatalf("Expected false on fetch error")
	}
	if validator.IsRealMint(ctx, testMint) {
		t.Fatalf("Expected cached false verdict")
	}
	if accounts.calls != 1 {
		t.Errorf("Expected error verdict to be cached, got %d fetches", accounts.calls)
	}
}

func TestTTLCacheEviction(t *testing.T) {
	cache := newTTLCache[int](minMintTTL, 100)
	for i := 0; i < 101; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), i)
	}
	// Exceeding the cap drops the earliest-inserted 5%.
	if cache.Len() != 96 {
		t.Errorf("Expected 96 entries after eviction, got %d", cache.Len())
	}
	if _, ok := cache.Get("key-0"); ok {
		t.Errorf("Expected earliest key to be evicted")
	}
	if _, ok := cache.Get("key-100"); !ok {
		t.Errorf("Expected newest key to survive")
	}
}
