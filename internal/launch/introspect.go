package launch

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/solana"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// TxFetcher is the slice of the RPC client the introspector needs.
type TxFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*solana.TransactionResult, error)
}

// TxIntrospector performs rate-limited targeted transaction fetches to recover
// the mint and buyer when the log text alone was not enough. Lookups funnel
// through a FIFO queue drained on a fixed tick, bounded by a rolling
// per-minute cap; results are cached per signature and concurrent lookups for
// the same signature share one pending fetch.
type TxIntrospector struct {
	cfg       config.TxLookupConfig
	fetcher   TxFetcher
	accounts  AccountFetcher
	validator *MintValidator
	counters  *FeedCounters

	mu       sync.Mutex
	queue    []string
	queued   map[string]bool
	inflight map[string][]chan models.IntrospectResult
	execLog  []int64

	cache      *ttlCache[models.IntrospectResult]
	ownerCache *ttlCache[string]
}

const (
	introspectCacheTTL = 30 * time.Minute
	ownerCacheTTL      = 60 * time.Minute
	uiAmountEpsilon    = 1e-9
)

func NewTxIntrospector(cfg config.TxLookupConfig, fetcher TxFetcher, accounts AccountFetcher, validator *MintValidator, counters *FeedCounters) *TxIntrospector {
	return &TxIntrospector{
		cfg:        cfg,
		fetcher:    fetcher,
		accounts:   accounts,
		validator:  validator,
		counters:   counters,
		queued:     make(map[string]bool),
		inflight:   make(map[string][]chan models.IntrospectResult),
		cache:      newTTLCache[models.IntrospectResult](introspectCacheTTL, 0),
		ownerCache: newTTLCache[string](ownerCacheTTL, 0),
	}
}

// Enabled reports whether introspection applies to an origin under the
// configured mode.
func (x *TxIntrospector) Enabled(origin models.Origin) bool {
	switch x.cfg.Mode {
	case "all":
		return true
	case "pumpfun_only":
		return origin == models.OriginPumpFun
	default:
		return false
	}
}

// Lookup resolves a signature to {mint, buyer}, blocking until the queued
// fetch completes, the context ends, or the introspector shuts down.
func (x *TxIntrospector) Lookup(ctx context.Context, signature string, origin models.Origin) models.IntrospectResult {
	if signature == "" || !x.Enabled(origin) {
		return models.IntrospectResult{}
	}
	if cached, ok := x.cache.Get(signature); ok {
		return cached
	}

	ch := make(chan models.IntrospectResult, 1)
	x.mu.Lock()
	x.inflight[signature] = append(x.inflight[signature], ch)
	if !x.queued[signature] {
		x.queued[signature] = true
		x.queue = append(x.queue, signature)
	}
	x.mu.Unlock()

	select {
	case result := <-ch:
		return result
	case <-ctx.Done():
		return models.IntrospectResult{Miss: "shutting-down"}
	}
}

// Run drains the queue on the configured tick until ctx ends, then resolves
// every pending task with a shutting-down miss.
func (x *TxIntrospector) Run(ctx context.Context) {
	interval := time.Duration(maxInt(50, int(1000.0/x.cfg.QPS))) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Introspect] Queue drain every %s, cap %d/min, mode=%s", interval, x.cfg.MaxPerMin, x.cfg.Mode)

	for {
		select {
		case <-ctx.Done():
			x.drainAll()
			return
		case <-ticker.C:
			x.tick(ctx)
		}
	}
}

func (x *TxIntrospector) tick(ctx context.Context) {
	x.mu.Lock()
	if len(x.queue) == 0 {
		x.mu.Unlock()
		return
	}
	signature := x.queue[0]
	x.queue = x.queue[1:]
	delete(x.queued, signature)

	now := time.Now().UnixMilli()
	x.trimExecLogLocked(now)
	if x.cfg.MaxPerMin > 0 && len(x.execLog) >= x.cfg.MaxPerMin {
		x.mu.Unlock()
		if x.counters != nil {
			x.counters.Bump(CounterRateCap)
		}
		x.resolve(signature, models.IntrospectResult{Miss: "rate-cap"})
		return
	}
	x.execLog = append(x.execLog, now)
	x.mu.Unlock()

	result := x.introspect(ctx, signature)
	x.cache.Set(signature, result)
	x.resolve(signature, result)
}

func (x *TxIntrospector) trimExecLogLocked(now int64) {
	cutoff := now - 60_000
	idx := 0
	for idx < len(x.execLog) && x.execLog[idx] < cutoff {
		idx++
	}
	x.execLog = x.execLog[idx:]
}

func (x *TxIntrospector) resolve(signature string, result models.IntrospectResult) {
	x.mu.Lock()
	waiters := x.inflight[signature]
	delete(x.inflight, signature)
	x.mu.Unlock()
	for _, ch := range waiters {
		ch <- result
	}
}

func (x *TxIntrospector) drainAll() {
	x.mu.Lock()
	pending := make([]string, 0, len(x.inflight))
	for signature := range x.inflight {
		pending = append(pending, signature)
	}
	x.queue = nil
	x.queued = make(map[string]bool)
	x.mu.Unlock()

	for _, signature := range pending {
		x.resolve(signature, models.IntrospectResult{Miss: "shutting-down"})
	}
}

// introspect fetches the transaction and walks the pre/post token balances to
// pick the freshest net-positive real mint and the wallet that funded it.
func (x *TxIntrospector) introspect(ctx context.Context, signature string) models.IntrospectResult {
	tx, err := x.fetcher.GetTransaction(ctx, signature)
	if err != nil || tx == nil || tx.Meta == nil {
		if x.counters != nil {
			x.counters.Bump(CounterTxFetchErr)
		}
		return models.IntrospectResult{Miss: "tx-fetch-error"}
	}

	preByMint := make(map[string]float64)
	postByMint := make(map[string]float64)
	var order []string
	seen := make(map[string]bool)
	note := func(mint string) {
		if mint != "" && !seen[mint] {
			seen[mint] = true
			order = append(order, mint)
		}
	}
	for _, b := range tx.Meta.PreTokenBalances {
		note(b.Mint)
		if b.UiTokenAmount.UiAmount != nil {
			preByMint[b.Mint] += *b.UiTokenAmount.UiAmount
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		note(b.Mint)
		if b.UiTokenAmount.UiAmount != nil {
			postByMint[b.Mint] += *b.UiTokenAmount.UiAmount
		}
	}

	type candidate struct {
		mint  string
		delta float64
	}
	var candidates []candidate
	for _, mint := range order {
		pre := preByMint[mint]
		post := postByMint[mint]
		if pre <= uiAmountEpsilon && post > 0 {
			candidates = append(candidates, candidate{mint: mint, delta: post - pre})
		}
	}

	// Equal deltas keep first-appearance order: sort stability is the tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].delta > candidates[j].delta
	})

	chosen := ""
	for _, c := range candidates {
		if x.validator.IsRealMint(ctx, c.mint) {
			chosen = c.mint
			break
		}
	}
	if chosen == "" {
		return models.IntrospectResult{Miss: "no-real-mint"}
	}

	result := models.IntrospectResult{Mint: chosen}
	result.Buyer = x.resolveBuyer(ctx, tx, chosen)
	return result
}

// resolveBuyer finds the token account freshly funded with the chosen mint and
// derives its owner from bytes [32,64) of the account data.
func (x *TxIntrospector) resolveBuyer(ctx context.Context, tx *solana.TransactionResult, mint string) string {
	preByIndex := make(map[int]float64)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Mint == mint && b.UiTokenAmount.UiAmount != nil {
			preByIndex[b.AccountIndex] = *b.UiTokenAmount.UiAmount
		}
	}

	keys := tx.Transaction.Message.AccountKeys
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Mint != mint || b.UiTokenAmount.UiAmount == nil || *b.UiTokenAmount.UiAmount <= 0 {
			continue
		}
		if preByIndex[b.AccountIndex] > uiAmountEpsilon {
			continue
		}
		if b.AccountIndex < 0 || b.AccountIndex >= len(keys) {
			continue
		}
		tokenAccount := keys[b.AccountIndex]
		if owner := x.ownerOf(ctx, tokenAccount); owner != "" {
			return owner
		}
	}
	return ""
}

// ownerOf reads the owner pubkey out of an SPL token account, cached.
func (x *TxIntrospector) ownerOf(ctx context.Context, tokenAccount string) string {
	if owner, ok := x.ownerCache.Get(tokenAccount); ok {
		return owner
	}
	if x.accounts == nil {
		return ""
	}
	info, err := x.accounts.GetAccountInfo(ctx, tokenAccount)
	if err != nil || info == nil || len(info.Data) < 64 {
		return ""
	}
	owner := base58.Encode(info.Data[32:64])
	x.ownerCache.Set(tokenAccount, owner)
	return owner
}

// QueueLen exposes queue depth for the status endpoint.
func (x *TxIntrospector) QueueLen() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.queue)
}
