package launch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// LogStreamConn is the transport handle the watcher drives. The production
// implementation is solana.LogStream; tests substitute a fake.
type LogStreamConn interface {
	SubscribeLogs(ctx context.Context, programID string, cb func(signature string, logs []string)) (int64, error)
	Close()
}

// StreamDialer opens a log-stream connection to a websocket endpoint.
type StreamDialer func(ctx context.Context, url string, onError func(error)) (LogStreamConn, error)

// TokenWriter is the token-store upsert contract.
type TokenWriter interface {
	UpsertToken(ctx context.Context, mint string, origin models.Origin, creator string, ts int64) error
	InsertEvent(ctx context.Context, mint string, origin models.Origin, signature, creator string, snap models.Snapshot) error
}

// WatcherAlerter receives transport-level notifications.
type WatcherAlerter interface {
	TransportAlert(endpoint string, attempts int, reason string)
}

// Endpoint set labels.
const (
	endpointPrimary = "primary"
	endpointBackup  = "backup"
)

const (
	errWindowMs      = 30_000
	errWindowMax     = 3 // more than this many errors flips to backup
	backupStableMs   = 10 * 60_000
	dedupTTL         = 60 * time.Second
	maxBackoffSec    = 30
	eventsBufferSize = 1024
)

// LaunchWatcher owns the multi-endpoint log subscription, the per-signature
// dedup window, endpoint failover, and the ordered per-batch pipeline that
// feeds the microstructure tracker and the entry engine.
type LaunchWatcher struct {
	cfg           *config.Config
	programOrder  []string
	programOrigin map[string]models.Origin

	dial      StreamDialer
	parser    *LogParser
	validator *MintValidator
	micro     *MicrostructureTracker
	introspec *TxIntrospector
	engine    *EntryEngine
	heat      *HeatController
	cohort    *CohortTracker
	tokens    TokenWriter
	alerter   WatcherAlerter
	counters  *FeedCounters

	events chan models.LogEvent
	dedup  *ttlCache[bool]

	mu           sync.Mutex
	endpointSet  string
	errWindow    []int64
	attempts     int
	stableSince  int64
	burstAlerted bool
	subsCount    int
}

func NewLaunchWatcher(
	cfg *config.Config,
	dial StreamDialer,
	parser *LogParser,
	validator *MintValidator,
	micro *MicrostructureTracker,
	introspec *TxIntrospector,
	engine *EntryEngine,
	heat *HeatController,
	cohort *CohortTracker,
	tokens TokenWriter,
	alerter WatcherAlerter,
	counters *FeedCounters,
) *LaunchWatcher {
	order, origins := cfg.SubscribedPrograms()
	return &LaunchWatcher{
		cfg:           cfg,
		programOrder:  order,
		programOrigin: origins,
		dial:          dial,
		parser:        parser,
		validator:     validator,
		micro:         micro,
		introspec:     introspec,
		engine:        engine,
		heat:          heat,
		cohort:        cohort,
		tokens:        tokens,
		alerter:       alerter,
		counters:      counters,
		events:        make(chan models.LogEvent, eventsBufferSize),
		dedup:         newTTLCache[bool](dedupTTL, 0),
		endpointSet:   endpointPrimary,
	}
}

// Run connects, subscribes, and keeps the firehose alive until ctx ends. The
// ingestion loop is the single writer for all per-mint state.
func (w *LaunchWatcher) Run(ctx context.Context) {
	log.Printf("[Watcher] Starting with %d subscribed programs across %d origins",
		len(w.programOrder), len(w.cfg.Programs))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.ingestLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.expireLoop(ctx)
	}()

	w.connectLoop(ctx)
	wg.Wait()
}

// connectLoop dials the active endpoint, subscribes every program, then parks
// until the stream dies or shutdown.
func (w *LaunchWatcher) connectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		url := w.activeURL()
		errCh := make(chan error, 1)
		stream, err := w.dial(ctx, url, func(err error) {
			select {
			case errCh <- err:
			default:
			}
		})
		if err != nil {
			w.handleTransportError(time.Now().UnixMilli(), err.Error())
			if !w.backoff(ctx) {
				return
			}
			continue
		}

		subscribed := 0
		for _, programID := range w.programOrder {
			origin := w.programOrigin[programID]
			pid := programID
			_, subErr := stream.SubscribeLogs(ctx, programID, func(signature string, logs []string) {
				w.enqueue(pid, origin, signature, logs)
			})
			if subErr != nil {
				log.Printf("[Watcher] Subscribe %s failed: %v", programID, subErr)
				continue
			}
			subscribed++
		}
		w.mu.Lock()
		w.subsCount = subscribed
		w.mu.Unlock()

		if subscribed == 0 {
			stream.Close()
			w.handleTransportError(time.Now().UnixMilli(), "no subscriptions established")
			if !w.backoff(ctx) {
				return
			}
			continue
		}

		log.Printf("[Watcher] Connected to %s endpoint (%s), %d subscriptions live",
			w.endpointName(), url, subscribed)
		w.markStable(time.Now().UnixMilli())

		select {
		case <-ctx.Done():
			stream.Close()
			return
		case err := <-errCh:
			stream.Close()
			w.handleTransportError(time.Now().UnixMilli(), err.Error())
			if !w.backoff(ctx) {
				return
			}
		}
	}
}

func (w *LaunchWatcher) activeURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.endpointSet == endpointBackup && w.cfg.RPCWSBackup != "" {
		return w.cfg.RPCWSBackup
	}
	return w.cfg.RPCWSPrimary
}

func (w *LaunchWatcher) endpointName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.endpointSet
}

func (w *LaunchWatcher) markStable(now int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts = 0
	w.stableSince = now
	w.burstAlerted = false
}

// handleTransportError records the failure in the rolling window and applies
// the failover policy: an error burst on primary flips to backup; a long
// stable run on backup flips back to primary on the next error.
func (w *LaunchWatcher) handleTransportError(now int64, reason string) {
	w.counters.Bump(CounterWSErrors)

	w.mu.Lock()
	w.errWindow = append(w.errWindow, now)
	cutoff := now - errWindowMs
	trimmed := w.errWindow[:0]
	for _, ts := range w.errWindow {
		if ts >= cutoff {
			trimmed = append(trimmed, ts)
		}
	}
	w.errWindow = trimmed

	switched := ""
	if w.endpointSet == endpointPrimary && len(w.errWindow) > errWindowMax && w.cfg.RPCWSBackup != "" {
		w.endpointSet = endpointBackup
		w.errWindow = nil
		switched = endpointBackup
	} else if w.endpointSet == endpointBackup && w.stableSince > 0 && now-w.stableSince >= backupStableMs {
		w.endpointSet = endpointPrimary
		w.errWindow = nil
		switched = endpointPrimary
	}
	alertNeeded := !w.burstAlerted
	if alertNeeded {
		w.burstAlerted = true
	}
	attempts := w.attempts
	endpoint := w.endpointSet
	w.mu.Unlock()

	log.Printf("[Watcher] Transport error on %s: %s", endpoint, reason)
	if switched != "" {
		log.Printf("[Watcher] Failing over to %s endpoint", switched)
	}
	if alertNeeded && w.alerter != nil {
		w.alerter.TransportAlert(endpoint, attempts, reason)
		w.counters.MarkAlert(now)
	}
}

// backoff sleeps min(30s, 2^min(6, attempts-1) s). Returns false when ctx ended.
func (w *LaunchWatcher) backoff(ctx context.Context) bool {
	w.mu.Lock()
	w.attempts++
	attempts := w.attempts
	w.mu.Unlock()
	w.counters.Bump(CounterReconnects)

	exp := attempts - 1
	if exp > 6 {
		exp = 6
	}
	delay := time.Duration(1<<exp) * time.Second
	if delay > maxBackoffSec*time.Second {
		delay = maxBackoffSec * time.Second
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// enqueue hands a raw batch to the single ingestion task. A full buffer drops
// the batch rather than stalling the websocket read loop.
func (w *LaunchWatcher) enqueue(programID string, origin models.Origin, signature string, logs []string) {
	event := models.LogEvent{
		Timestamp: time.Now().UnixMilli(),
		ProgramID: programID,
		Origin:    origin,
		Signature: signature,
		Lines:     logs,
	}
	select {
	case w.events <- event:
	default:
		w.counters.Bump(CounterTrackDrop)
	}
}

func (w *LaunchWatcher) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.events:
			w.ProcessBatch(ctx, event)
		}
	}
}

func (w *LaunchWatcher) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := w.micro.Expire(time.Now().UnixMilli(), microExpireTTL); evicted > 0 {
				log.Printf("[Watcher] Expired %d quiet microstructure states", evicted)
			}
		}
	}
}

// ProcessBatch runs the ordered per-batch pipeline: parse → dedup →
// introspection → verification → microstructure → cohort → decision →
// token upsert → counters. Exported so replay paths and tests can drive it
// without a live stream.
func (w *LaunchWatcher) ProcessBatch(ctx context.Context, event models.LogEvent) {
	w.counters.Bump(CounterBatches)
	w.counters.BumpOrigin(event.Origin, event.Timestamp)

	parsed := w.parser.Parse(event.Lines, event.Origin)

	// Per-signature dedup: replays of the same signature with the same parsed
	// mint within the window are dropped.
	if event.Signature != "" {
		dedupKey := event.Signature + ":" + parsed.Mint
		if _, dup := w.dedup.Get(dedupKey); dup {
			w.counters.Bump(CounterDuplicate)
			return
		}
		w.dedup.Set(dedupKey, true)
	}

	// Targeted introspection: pump.fun create batches often omit the mint
	// from log text entirely.
	if parsed.Mint == "" && w.introspec != nil && w.introspec.Enabled(event.Origin) {
		found := w.introspec.Lookup(ctx, event.Signature, event.Origin)
		if found.Mint != "" {
			parsed.Mint = found.Mint
			if parsed.Buyer == "" {
				parsed.Buyer = found.Buyer
			}
		}
	}

	if parsed.Mint == "" {
		w.counters.Bump(CounterParseMiss)
		return
	}
	if !w.validator.IsValidMint(parsed.Mint) {
		w.counters.Bump(CounterInvalidMint)
		return
	}

	// Eager verification fails closed before any state is touched.
	if w.cfg.MintVerify.Mode == "eager" {
		if !w.validator.IsRealMint(ctx, parsed.Mint) {
			w.counters.Bump(CounterVerifyReject)
			return
		}
	}

	rawLine := strings.Join(event.Lines, "\n")
	track, ok := w.micro.Track(parsed.Mint, event.Origin, event.Timestamp, rawLine)
	if !ok {
		return
	}

	// Deferred verification: only spend an RPC call once the mint has shown
	// enough organic flow to possibly matter.
	if w.cfg.MintVerify.Mode == "deferred" {
		eff := w.heat.EffectiveThresholds(event.Timestamp)
		snap := track.Snapshot
		if snap.Buyers >= eff.MinBuyers && snap.UniqueFunders >= eff.MinUnique &&
			snap.SameFunderRatio <= safetyMaxFunderRatio {
			if !w.validator.IsRealMint(ctx, parsed.Mint) {
				w.counters.Bump(CounterVerifyReject)
				return
			}
		}
	}

	buyer := parsed.Buyer
	if buyer == "" {
		buyer = track.Funder
	}
	if w.cohort != nil && w.cohort.RecordHit(parsed.Mint, buyer, event.Timestamp) {
		w.counters.Bump(CounterCohortHits)
	}

	if parsed.Kind == models.EventCreate && parsed.Creator != "" {
		w.engine.RecordLaunch(parsed.Creator)
	}

	// Decision evaluation is fire-and-forget; the engine serializes per mint.
	go w.engine.Evaluate(ctx, parsed.Mint, event.Origin, event.Timestamp, parsed.Creator)

	if w.tokens != nil {
		if err := w.tokens.UpsertToken(ctx, parsed.Mint, event.Origin, parsed.Creator, event.Timestamp); err != nil {
			log.Printf("[Watcher] Token upsert failed for %s: %v", parsed.Mint, err)
		}
		if track.Changed {
			if err := w.tokens.InsertEvent(ctx, parsed.Mint, event.Origin, event.Signature, parsed.Creator, track.Snapshot); err != nil {
				log.Printf("[Watcher] Event persist failed for %s: %v", parsed.Mint, err)
			}
		}
	}

	w.counters.Bump(CounterParsed)
}

// FeedStatus is the status-endpoint view of the watcher.
type FeedStatus struct {
	Endpoint      string `json:"endpoint"`
	Subscriptions int    `json:"subscriptions"`
	Attempts      int    `json:"reconnectAttempts"`
	StableSince   int64  `json:"stableSince"`
}

// Status returns a consistent copy of the transport state.
func (w *LaunchWatcher) Status() FeedStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return FeedStatus{
		Endpoint:      w.endpointSet,
		Subscriptions: w.subsCount,
		Attempts:      w.attempts,
		StableSince:   w.stableSince,
	}
}
