package launch

import (
	"context"
	"sync"
	"time"

	"github.com/rawblock/launch-sentinel/internal/config"
)

// Deps are the external collaborators injected into a pipeline: transport
// dialers, the persistent store, and the notifier. Everything is an interface
// so tests can instantiate independent pipelines with fakes.
type Deps struct {
	Dial     StreamDialer
	Accounts AccountFetcher
	Txs      TxFetcher
	Store    DecisionStore
	Tokens   TokenWriter
	Decision DecisionAlerter
	Watcher  WatcherAlerter
}

// Pipeline is the single owner of all process-wide mutable state: counters,
// caches, the heat ring, the microstructure and decision maps. There are no
// package-level statics, so parallel tests can each build their own.
type Pipeline struct {
	Cfg          *config.Config
	Counters     *FeedCounters
	Validator    *MintValidator
	Parser       *LogParser
	Micro        *MicrostructureTracker
	Heat         *HeatController
	Cohort       *CohortTracker
	Deployers    *DeployerStats
	Scorer       *ConvictionScorer
	Introspector *TxIntrospector
	Engine       *EntryEngine
	Watcher      *LaunchWatcher
}

// NewPipeline wires the full core in dependency order.
func NewPipeline(cfg *config.Config, deps Deps) *Pipeline {
	counters := NewFeedCounters()

	programOrder, _ := cfg.SubscribedPrograms()
	validator := NewMintValidator(programOrder, deps.Accounts,
		time.Duration(cfg.MintVerify.TTLSec)*time.Second, counters)

	parser := NewLogParser(validator)
	micro := NewMicrostructureTracker(validator, counters)
	heat := NewHeatController(cfg.Heat, cfg.Entry)
	cohort := NewCohortTracker(cfg.SmartMoney, cfg.CohortBoost, cfg.CohortDecaySec)
	deployers := NewDeployerStats()
	scorer := NewConvictionScorer(cohort, deployers)
	introspector := NewTxIntrospector(cfg.TxLookup, deps.Txs, deps.Accounts, validator, counters)

	engine := NewEntryEngine(cfg.Entry, cfg.DryRun, cfg.SizeSmallSol, cfg.SizeApexSol,
		micro, heat, scorer, deployers, deps.Store, deps.Decision, counters)

	watcher := NewLaunchWatcher(cfg, deps.Dial, parser, validator, micro, introspector,
		engine, heat, cohort, deps.Tokens, deps.Watcher, counters)

	return &Pipeline{
		Cfg:          cfg,
		Counters:     counters,
		Validator:    validator,
		Parser:       parser,
		Micro:        micro,
		Heat:         heat,
		Cohort:       cohort,
		Deployers:    deployers,
		Scorer:       scorer,
		Introspector: introspector,
		Engine:       engine,
		Watcher:      watcher,
	}
}

// Run starts the introspection drain and the watcher, blocking until ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Introspector.Run(ctx)
	}()
	p.Watcher.Run(ctx)
	wg.Wait()
}
