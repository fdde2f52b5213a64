package launch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/solana"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

type fakeTxFetcher struct {
	mu    sync.Mutex
	txs   map[string]*solana.TransactionResult
	err   error
	calls int
}

func (f *fakeTxFetcher) GetTransaction(_ context.Context, signature string) (*solana.TransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[signature], nil
}

func uiAmount(v float64) struct {
	UiAmount *float64 `json:"uiAmount"`
} {
	return struct {
		UiAmount *float64 `json:"uiAmount"`
	}{UiAmount: &v}
}

// buildTx constructs a transaction whose post balances mint fresh tokens.
func buildTx(accountKeys []string, pre, post []solana.TokenBalance) *solana.TransactionResult {
	tx := &solana.TransactionResult{
		Meta: &struct {
			PreTokenBalances  []solana.TokenBalance `json:"preTokenBalances"`
			PostTokenBalances []solana.TokenBalance `json:"postTokenBalances"`
			LogMessages       []string              `json:"logMessages"`
		}{
			PreTokenBalances:  pre,
			PostTokenBalances: post,
		},
	}
	tx.Transaction.Message.AccountKeys = accountKeys
	return tx
}

func balance(mint string, accountIndex int, amount float64) solana.TokenBalance {
	b := solana.TokenBalance{Mint: mint, AccountIndex: accountIndex}
	b.UiTokenAmount = uiAmount(amount)
	return b
}

func testIntrospector(txs *fakeTxFetcher, accounts *fakeAccounts, mode string) *TxIntrospector {
	cfg := config.TxLookupConfig{Mode: mode, QPS: 20, MaxPerMin: 60}
	validator := NewMintValidator([]string{testProgram}, accounts, 0, NewFeedCounters())
	return NewTxIntrospector(cfg, txs, accounts, validator, NewFeedCounters())
}

func TestIntrospectModes(t *testing.T) {
	x := testIntrospector(&fakeTxFetcher{}, &fakeAccounts{}, "pumpfun_only")

	if !x.Enabled(models.OriginPumpFun) {
		t.Errorf("pumpfun_only must enable pumpfun")
	}
	if x.Enabled(models.OriginRaydium) {
		t.Errorf("pumpfun_only must disable raydium")
	}

	off := testIntrospector(&fakeTxFetcher{}, &fakeAccounts{}, "off")
	if result := off.Lookup(context.Background(), "sig", models.OriginPumpFun); result.Mint != "" || result.Miss != "" {
		t.Errorf("off mode must return empty, got %+v", result)
	}
}

func TestIntrospectPicksLargestFreshMint(t *testing.T) {
	mintBig := testKey("MintBig")
	mintSmall := testKey("MintTiny")

	// Token-account data: 32 bytes of mint then 32 bytes of owner.
	ownerBytes := make([]byte, 32)
	for i := range ownerBytes {
		ownerBytes[i] = 7
	}
	ownerKey := base58.Encode(ownerBytes)
	tokenAccountData := make([]byte, 165)
	copy(tokenAccountData[32:64], ownerBytes)

	tokenAccount := testKey("TokAcct")
	accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
		mintBig:      {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
		mintSmall:    {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
		tokenAccount: {Owner: TokenProgramID, Data: tokenAccountData},
	}}

	tx := buildTx(
		[]string{testKey("Payer"), tokenAccount, testKey("Extra")},
		nil,
		[]solana.TokenBalance{
			balance(mintSmall, 2, 10),
			balance(mintBig, 1, 5_000),
		},
	)
	txs := &fakeTxFetcher{txs: map[string]*solana.TransactionResult{"sig-1": tx}}
	x := testIntrospector(txs, accounts, "all")

	result := x.introspect(context.Background(), "sig-1")
	if result.Mint != mintBig {
		t.Fatalf("mint = %q, want the largest delta %q (miss=%q)", result.Mint, mintBig, result.Miss)
	}
	if result.Buyer != ownerKey {
		t.Errorf("buyer = %q, want owner %q from token-account bytes [32,64)", result.Buyer, ownerKey)
	}
}

func TestIntrospectMissReasons(t *testing.T) {
	ctx := context.Background()

	t.Run("fetch error", func(t *testing.T) {
		txs := &fakeTxFetcher{err: fmt.Errorf("timeout")}
		x := testIntrospector(txs, &fakeAccounts{}, "all")
		if result := x.introspect(ctx, "sig-err"); result.Miss != "tx-fetch-error" {
			t.Errorf("miss = %q, want tx-fetch-error", result.Miss)
		}
	})

	t.Run("no real mint", func(t *testing.T) {
		fake := testKey("FakeMint")
		tx := buildTx([]string{testKey("Payer")}, nil, []solana.TokenBalance{balance(fake, 0, 100)})
		txs := &fakeTxFetcher{txs: map[string]*solana.TransactionResult{"sig-2": tx}}
		// Account fetcher knows nothing, so the mint fails verification.
		x := testIntrospector(txs, &fakeAccounts{}, "all")
		if result := x.introspect(ctx, "sig-2"); result.Miss != "no-real-mint" {
			t.Errorf("miss = %q, want no-real-mint", result.Miss)
		}
	})

	t.Run("pre-held balances are not fresh", func(t *testing.T) {
		held := testKey("KeptMint")
		accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
			held: {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
		}}
		tx := buildTx([]string{testKey("Payer")},
			[]solana.TokenBalance{balance(held, 0, 50)},
			[]solana.TokenBalance{balance(held, 0, 150)})
		txs := &fakeTxFetcher{txs: map[string]*solana.TransactionResult{"sig-3": tx}}
		x := testIntrospector(txs, accounts, "all")
		if result := x.introspect(ctx, "sig-3"); result.Miss != "no-real-mint" {
			t.Errorf("miss = %q, want no-real-mint for pre-held balance", result.Miss)
		}
	})
}

func TestIntrospectRateCap(t *testing.T) {
	mint := testKey("CapMint")
	accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
		mint: {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
	}}
	tx := buildTx([]string{testKey("Payer")}, nil, []solana.TokenBalance{balance(mint, 0, 1)})
	txs := &fakeTxFetcher{txs: map[string]*solana.TransactionResult{}}
	for i := 0; i < 3; i++ {
		txs.txs[fmt.Sprintf("sig-%d", i)] = tx
	}

	cfg := config.TxLookupConfig{Mode: "all", QPS: 20, MaxPerMin: 2}
	validator := NewMintValidator(nil, accounts, 0, NewFeedCounters())
	x := NewTxIntrospector(cfg, txs, accounts, validator, NewFeedCounters())

	results := make([]models.IntrospectResult, 3)
	done := make(chan int, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		go func(i int) {
			results[i] = x.Lookup(ctx, fmt.Sprintf("sig-%d", i), models.OriginPumpFun)
			done <- i
		}(i)
	}
	// Wait for all three lookups to enqueue, then drain manually; the third
	// execution exceeds maxPerMin.
	for x.QueueLen() < 3 {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		x.tick(ctx)
	}
	for i := 0; i < 3; i++ {
		<-done
	}

	capped := 0
	for _, result := range results {
		if result.Miss == "rate-cap" {
			capped++
		}
	}
	if capped != 1 {
		t.Errorf("Expected exactly one rate-capped lookup, got %d (%+v)", capped, results)
	}
}

func TestIntrospectCoalescesInflight(t *testing.T) {
	mint := testKey("SharedMint")
	accounts := &fakeAccounts{accounts: map[string]*solana.AccountInfo{
		mint: {Owner: TokenProgramID, Data: make([]byte, splMintDataLen)},
	}}
	tx := buildTx([]string{testKey("Payer")}, nil, []solana.TokenBalance{balance(mint, 0, 1)})
	txs := &fakeTxFetcher{txs: map[string]*solana.TransactionResult{"sig-x": tx}}
	x := testIntrospector(txs, accounts, "all")

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result := x.Lookup(ctx, "sig-x", models.OriginPumpFun); result.Mint != mint {
				t.Errorf("Lookup = %+v, want mint %q", result, mint)
			}
		}()
	}
	// Wait until the shared signature is enqueued, give the remaining
	// lookups a moment to attach, then drain once: concurrent lookups for
	// one signature coalesce into a single fetch.
	for x.QueueLen() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	x.tick(ctx)
	wg.Wait()

	if txs.calls != 1 {
		t.Errorf("Expected a single transaction fetch, got %d", txs.calls)
	}
}
