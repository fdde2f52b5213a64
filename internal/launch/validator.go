package launch

import (
	"context"
	"time"

	"github.com/mr-tron/base58"

	"github.com/rawblock/launch-sentinel/internal/solana"
)

// Canonical program ids every Solana deployment shares.
const (
	SystemProgramID    = "11111111111111111111111111111111"
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	ATAProgramID       = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetID    = "ComputeBudget111111111111111111111111111111"
	MemoProgramID      = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	MetaplexMetadataID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	WSOLMint           = "So11111111111111111111111111111111111111112"
	VoteProgramID      = "Vote111111111111111111111111111111111111111"
	StakeProgramID     = "Stake11111111111111111111111111111111111111"
	SysvarRent         = "SysvarRent111111111111111111111111111111111"
	SysvarClock        = "SysvarC1ock11111111111111111111111111111111"
)

// splMintDataLen is the byte length of an SPL fungible-token mint account.
const splMintDataLen = 82

// mintDenylist holds well-known system/program identifiers that can never be a
// freshly launched token mint, regardless of how they appear in log text.
var mintDenylist = map[string]bool{
	SystemProgramID:    true,
	TokenProgramID:     true,
	Token2022ProgramID: true,
	ATAProgramID:       true,
	ComputeBudgetID:    true,
	MemoProgramID:      true,
	MetaplexMetadataID: true,
	WSOLMint:           true,
	VoteProgramID:      true,
	StakeProgramID:     true,
	SysvarRent:         true,
	SysvarClock:        true,
}

// AccountFetcher is the slice of the RPC client the validator needs.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
}

// MintValidator answers two questions: does a string look like a mint, and is
// it actually a live SPL fungible-token mint on chain. The second answer is
// cached with a TTL; verification errors cache false so a flapping RPC cannot
// flood the node with repeat lookups.
type MintValidator struct {
	programSet map[string]bool
	fetcher    AccountFetcher
	cache      *ttlCache[bool]
	counters   *FeedCounters
}

const (
	mintVerifyCacheCap = 10_000
	minMintTTL         = 60 * time.Second
)

// NewMintValidator builds a validator over the precomputed subscribed-program
// set. The set is owned by the pipeline, not read from config at call time, so
// validation stays a pure lookup.
func NewMintValidator(programIDs []string, fetcher AccountFetcher, ttl time.Duration, counters *FeedCounters) *MintValidator {
	if ttl < minMintTTL {
		ttl = minMintTTL
	}
	set := make(map[string]bool, len(programIDs))
	for _, id := range programIDs {
		set[id] = true
	}
	return &MintValidator{
		programSet: set,
		fetcher:    fetcher,
		cache:      newTTLCache[bool](ttl, mintVerifyCacheCap),
		counters:   counters,
	}
}

// IsValidMint is the pure predicate: 32-44 base58 characters, not a well-known
// system/program identifier, not one of the subscribed launchpad programs.
func (v *MintValidator) IsValidMint(addr string) bool {
	if !IsBase58Key(addr) {
		return false
	}
	if mintDenylist[addr] {
		return false
	}
	if v.programSet[addr] {
		return false
	}
	return true
}

// IsBase58Key reports whether s is a 32-44 character base58 string.
func IsBase58Key(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}

// IsRealMint verifies on chain that addr is an existing SPL fungible-token
// mint: the account exists, is owned by the token program, and carries the
// 82-byte mint layout. Verdicts are cached; errors are deemed not-real.
func (v *MintValidator) IsRealMint(ctx context.Context, addr string) bool {
	if !v.IsValidMint(addr) {
		return false
	}
	if verdict, ok := v.cache.Get(addr); ok {
		return verdict
	}
	verdict := v.fetchVerdict(ctx, addr)
	v.cache.Set(addr, verdict)
	return verdict
}

func (v *MintValidator) fetchVerdict(ctx context.Context, addr string) bool {
	if v.fetcher == nil {
		return false
	}
	info, err := v.fetcher.GetAccountInfo(ctx, addr)
	if err != nil {
		if v.counters != nil {
			v.counters.Bump(CounterTxFetchErr)
		}
		return false
	}
	if info == nil {
		return false
	}
	return info.Owner == TokenProgramID && len(info.Data) == splMintDataLen
}

// CacheLen exposes the verification cache size for the status endpoint.
func (v *MintValidator) CacheLen() int {
	return v.cache.Len()
}
