package launch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

type fakeTokens struct {
	mu      sync.Mutex
	upserts []string
	events  []models.Snapshot
}

func (f *fakeTokens) UpsertToken(_ context.Context, mint string, _ models.Origin, _ string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, mint)
	return nil
}

func (f *fakeTokens) InsertEvent(_ context.Context, _ string, _ models.Origin, _, _ string, snap models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, snap)
	return nil
}

func testWatcherConfig() *config.Config {
	return &config.Config{
		RPCWSPrimary: "ws://primary.example",
		RPCWSBackup:  "ws://backup.example",
		Programs: map[models.Origin][]string{
			models.OriginPumpFun: {testProgram},
		},
		MintVerify:     config.MintVerifyConfig{Mode: "off", TTLSec: 60},
		TxLookup:       config.TxLookupConfig{Mode: "off", QPS: 1, MaxPerMin: 10},
		Entry:          testEntryConfig(),
		Heat:           testHeatConfig(),
		DryRun:         true,
		SizeSmallSol:   0.25,
		SizeApexSol:    1.0,
		CohortBoost:    15,
		CohortDecaySec: 900,
		SmartMoney:     []string{testKey("Smart")},
	}
}

func testPipeline(tokens *fakeTokens) *Pipeline {
	return NewPipeline(testWatcherConfig(), Deps{
		Tokens:   tokens,
		Store:    &fakeStore{},
		Decision: &fakeAlerter{},
		Watcher:  &fakeAlerter{},
	})
}

func batchEvent(signature string, lines ...string) models.LogEvent {
	return models.LogEvent{
		Timestamp: time.Now().UnixMilli(),
		ProgramID: testProgram,
		Origin:    models.OriginPumpFun,
		Signature: signature,
		Lines:     lines,
	}
}

func TestProcessBatchIngestsValidMint(t *testing.T) {
	tokens := &fakeTokens{}
	pipe := testPipeline(tokens)
	ctx := context.Background()

	pipe.Watcher.ProcessBatch(ctx, batchEvent("sig-1", "buy", "mint: "+testMint))

	if pipe.Micro.Len() != 1 {
		t.Fatalf("Expected one tracked mint, got %d", pipe.Micro.Len())
	}
	if got := pipe.Counters.Get(CounterParsed); got != 1 {
		t.Errorf("parsed counter = %d, want 1", got)
	}
	if len(tokens.upserts) != 1 || tokens.upserts[0] != testMint {
		t.Errorf("token upserts = %v, want [%s]", tokens.upserts, testMint)
	}
	if len(tokens.events) != 1 {
		t.Errorf("Expected one persisted event emission, got %d", len(tokens.events))
	}
}

func TestProcessBatchDedupsSignature(t *testing.T) {
	tokens := &fakeTokens{}
	pipe := testPipeline(tokens)
	ctx := context.Background()

	event := batchEvent("sig-dup", "buy", "mint: "+testMint)
	pipe.Watcher.ProcessBatch(ctx, event)
	pipe.Watcher.ProcessBatch(ctx, event)

	if got := pipe.Counters.Get(CounterDuplicate); got != 1 {
		t.Errorf("duplicate counter = %d, want 1", got)
	}
	if snap := pipe.Micro.Snapshot(testMint); snap.Buyers != 1 {
		t.Errorf("buyers = %d, want 1 after dedup", snap.Buyers)
	}

	// A different signature for the same mint is not a duplicate.
	pipe.Watcher.ProcessBatch(ctx, batchEvent("sig-new", "buy", "mint: "+testMint))
	if snap := pipe.Micro.Snapshot(testMint); snap.Buyers != 2 {
		t.Errorf("buyers = %d, want 2", snap.Buyers)
	}
}

func TestProcessBatchDropsParseMiss(t *testing.T) {
	tokens := &fakeTokens{}
	pipe := testPipeline(tokens)

	pipe.Watcher.ProcessBatch(context.Background(),
		batchEvent("sig-miss", "Program log: consumed 4200 compute units"))

	if got := pipe.Counters.Get(CounterParseMiss); got != 1 {
		t.Errorf("parse_miss counter = %d, want 1", got)
	}
	if len(tokens.upserts) != 0 {
		t.Errorf("No token rows expected on a parse miss")
	}
}

func TestProcessBatchEagerVerificationFailsClosed(t *testing.T) {
	cfg := testWatcherConfig()
	cfg.MintVerify.Mode = "eager"
	// No account fetcher: every verification misses and deems the mint unreal.
	pipe := NewPipeline(cfg, Deps{Tokens: &fakeTokens{}, Store: &fakeStore{}})

	pipe.Watcher.ProcessBatch(context.Background(), batchEvent("sig-v", "buy", "mint: "+testMint))

	if got := pipe.Counters.Get(CounterVerifyReject); got != 1 {
		t.Errorf("verify_reject counter = %d, want 1", got)
	}
	if pipe.Micro.Len() != 0 {
		t.Errorf("Unverified mint must not reach the microstructure tracker")
	}
}

func TestProcessBatchCohortHit(t *testing.T) {
	pipe := testPipeline(&fakeTokens{})
	smart := testKey("Smart")

	pipe.Watcher.ProcessBatch(context.Background(),
		batchEvent("sig-c", "buy", "mint: "+testMint, "buyer: "+smart))

	if got := pipe.Counters.Get(CounterCohortHits); got != 1 {
		t.Errorf("cohort_hits counter = %d, want 1", got)
	}
	if boost := pipe.Cohort.BoostFor(testMint, time.Now().UnixMilli()); boost != 15 {
		t.Errorf("cohort boost = %d, want 15", boost)
	}
}

func TestFailoverAfterErrorBurst(t *testing.T) {
	alerter := &fakeAlerter{}
	pipe := NewPipeline(testWatcherConfig(), Deps{Watcher: alerter})
	watcher := pipe.Watcher
	now := time.Now().UnixMilli()

	// Three errors inside the 30s window: still primary.
	for i := 0; i < 3; i++ {
		watcher.handleTransportError(now+int64(i*1000), "read: connection reset")
	}
	if watcher.Status().Endpoint != endpointPrimary {
		t.Fatalf("Expected primary after 3 errors")
	}

	// The fourth flips to backup.
	watcher.handleTransportError(now+4000, "read: connection reset")
	if watcher.Status().Endpoint != endpointBackup {
		t.Fatalf("Expected backup after 4 errors in window")
	}

	// Exactly one alert for the whole burst.
	if len(alerter.transport) != 1 {
		t.Errorf("Expected one transport alert per burst, got %d", len(alerter.transport))
	}
}

func TestErrorWindowExpires(t *testing.T) {
	pipe := NewPipeline(testWatcherConfig(), Deps{})
	watcher := pipe.Watcher
	now := time.Now().UnixMilli()

	// Four errors spread over more than 30s never trip the failover.
	for i := 0; i < 4; i++ {
		watcher.handleTransportError(now+int64(i)*40_000, "timeout")
	}
	if watcher.Status().Endpoint != endpointPrimary {
		t.Errorf("Spread-out errors must not fail over")
	}
}

func TestBackupReturnsToPrimaryWhenStable(t *testing.T) {
	pipe := NewPipeline(testWatcherConfig(), Deps{})
	watcher := pipe.Watcher
	now := time.Now().UnixMilli()

	// Drive onto the backup endpoint.
	for i := 0; i < 4; i++ {
		watcher.handleTransportError(now+int64(i*1000), "reset")
	}
	if watcher.Status().Endpoint != endpointBackup {
		t.Fatalf("Setup: expected backup")
	}

	// Stable for 10 minutes on backup, then one error: back to primary.
	watcher.markStable(now + 10_000)
	watcher.handleTransportError(now+10_000+backupStableMs, "reset")
	if watcher.Status().Endpoint != endpointPrimary {
		t.Errorf("Expected switch back to primary after stable backup period")
	}
}

func TestBurstAlertResetsAfterStable(t *testing.T) {
	alerter := &fakeAlerter{}
	pipe := NewPipeline(testWatcherConfig(), Deps{Watcher: alerter})
	watcher := pipe.Watcher
	now := time.Now().UnixMilli()

	watcher.handleTransportError(now, "reset")
	if len(alerter.transport) != 1 {
		t.Fatalf("Expected first error to alert")
	}
	watcher.handleTransportError(now+1000, "reset")
	if len(alerter.transport) != 1 {
		t.Fatalf("Burst must not re-alert")
	}

	// A stable connection resets the burst flag; the next burst alerts again.
	watcher.markStable(now + 60_000)
	watcher.handleTransportError(now+120_000, "reset")
	if len(alerter.transport) != 2 {
		t.Errorf("Expected new burst to alert, got %d", len(alerter.transport))
	}
}
