package launch

import (
	"context"
	"strings"
	"sync"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/solana"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// Synthetic base58 keys. Padding with '1' keeps length in the 32-44 window
// while staying clear of the well-known denylist entries.
func testKey(prefix string) string {
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return prefix + strings.Repeat("1", 44-len(prefix))
}

var (
	testMint    = testKey("Mint7")
	testProgram = testKey("Prog7")
)

func testEntryConfig() config.EntryConfig {
	return config.EntryConfig{
		MinScore:          60,
		ApexScore:         80,
		CooldownSec:       30,
		ReevalCooldownSec: 2,
		AcceptCooldownSec: 45,
		MinObsBuyers:      4,
		MinObsUnique:      3,
		HoldTtlSec:        300,
		HoldMaxReevals:    0,
	}
}

// testHeatConfig keeps the controller NEUTRAL at zero accepts so decision
// tests see the base thresholds.
func testHeatConfig() config.HeatConfig {
	return config.HeatConfig{
		Enabled:         true,
		WindowMin:       60,
		MinAcceptsPerHr: 0,
		MaxAcceptsPerHr: 12,
		LoosenScore:     10,
		LoosenBuyers:    1,
		TightenScore:    10,
		TightenBuyers:   2,
		FloorScore:      35,
		FloorBuyers:     3,
		CeilScore:       95,
		CeilBuyers:      12,
	}
}

func testValidator() *MintValidator {
	return NewMintValidator([]string{testProgram}, nil, 0, NewFeedCounters())
}

// fakeAccounts serves canned account views keyed by address.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*solana.AccountInfo
	err      error
	calls    int
}

func (f *fakeAccounts) GetAccountInfo(_ context.Context, address string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[address], nil
}

// fakeStore records decision persistence calls.
type fakeStore struct {
	mu       sync.Mutex
	upserts  []EntryRecord
	upgrades []models.Tier
}

func (f *fakeStore) UpsertUnitaryEntry(_ context.Context, rec EntryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeStore) UpgradeUnitaryEntry(_ context.Context, _ string, tier models.Tier, _ int, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upgrades = append(f.upgrades, tier)
	return nil
}

// fakeAlerter records alert emissions.
type fakeAlerter struct {
	mu        sync.Mutex
	accepts   []EntryRecord
	rejects   []string
	transport []string
}

func (f *fakeAlerter) EntryAccepted(rec EntryRecord, _ models.Snapshot, _ models.EffectiveThresholds, _ []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, rec)
}

func (f *fakeAlerter) EntryRejected(rec EntryRecord, _ models.Snapshot, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, reason)
}

func (f *fakeAlerter) TransportAlert(endpoint string, _ int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport = append(f.transport, endpoint)
}

// testEngine builds an engine over fresh collaborators plus the fakes.
func testEngine(store *fakeStore, alerter *fakeAlerter) (*EntryEngine, *MicrostructureTracker, *HeatController) {
	validator := testValidator()
	counters := NewFeedCounters()
	micro := NewMicrostructureTracker(validator, counters)
	heat := NewHeatController(testHeatConfig(), testEntryConfig())
	cohort := NewCohortTracker(nil, 15, 900)
	deployers := NewDeployerStats()
	scorer := NewConvictionScorer(cohort, deployers)
	engine := NewEntryEngine(testEntryConfig(), true, 0.25, 1.0,
		micro, heat, scorer, deployers, store, alerter, counters)
	return engine, micro, heat
}

// seedAcceptableMint drives the tracker until the mint shows the wanted shape:
// 8 buyers over 6 unique funders with one price jump.
func seedAcceptableMint(micro *MicrostructureTracker, mint string, baseTs int64) {
	funders := []string{
		testKey("FundrA"), testKey("FundrA"),
		testKey("FundrB"), testKey("FundrC"),
		testKey("FundrD"), testKey("FundrE"),
		testKey("FundrF"), testKey("FundrB"),
	}
	for i, funder := range funders {
		line := "buy user: " + funder
		switch i {
		case 5:
			line += " price=1.00"
		case 6:
			line += " price=1.20"
		}
		micro.Track(mint, models.OriginPumpFun, baseTs+int64(i)*100, line)
	}
}
