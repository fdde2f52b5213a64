package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/launch"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// Notifier distributes decision and transport alerts. Alerts are:
//  1. Broadcast via WebSocket to connected dashboards
//  2. Pushed to the configured webhook endpoint
//  3. Stored in memory for recent alert history
//
// Webhook delivery is rate limited so an accept storm cannot flood the
// receiving channel; the WS broadcast is never throttled.
type Alert struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	AlertType   string          `json:"alertType"` // entry_accepted/entry_rejected/transport/summary
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Mint        string          `json:"mint,omitempty"`
	Origin      models.Origin   `json:"origin,omitempty"`
	Tier        models.Tier     `json:"tier,omitempty"`
	Score       int             `json:"score,omitempty"`
	Band        models.HeatBand `json:"band,omitempty"`
	Signals     []string        `json:"signals,omitempty"`
}

type Notifier struct {
	cfg        config.AlertsConfig
	webhookURL string
	token      string
	httpClient *http.Client
	broadcast  func([]byte)
	counters   *launch.FeedCounters

	mu           sync.Mutex
	recentAlerts []Alert
	lastWebhook  int64
}

const maxAlertHistory = 200

func NewNotifier(cfg config.AlertsConfig, webhookURL, token string, broadcast func([]byte), counters *launch.FeedCounters) *Notifier {
	return &Notifier{
		cfg:        cfg,
		webhookURL: webhookURL,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		broadcast:  broadcast,
		counters:   counters,
	}
}

// BindCounters attaches the pipeline's counter set after construction. The
// notifier is built before the pipeline because the pipeline takes it as a
// dependency.
func (n *Notifier) BindCounters(counters *launch.FeedCounters) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counters = counters
}

// EntryAccepted implements launch.DecisionAlerter.
func (n *Notifier) EntryAccepted(rec launch.EntryRecord, snap models.Snapshot, eff models.EffectiveThresholds, signals []string) {
	if rec.Score < n.cfg.MinScore {
		return
	}
	n.emit(Alert{
		AlertType: "entry_accepted",
		Title:     fmt.Sprintf("✅ %s accept: %s", rec.Tier, rec.Mint),
		Description: fmt.Sprintf("score=%d buyers=%d uniq=%d ratio=%.2f depth=%.2f band=%s",
			rec.Score, snap.Buyers, snap.UniqueFunders, snap.SameFunderRatio, snap.DepthEst, eff.Band),
		Mint:    rec.Mint,
		Origin:  rec.Origin,
		Tier:    rec.Tier,
		Score:   rec.Score,
		Band:    eff.Band,
		Signals: signals,
	})
}

// EntryRejected implements launch.DecisionAlerter. Only fatal rejections reach
// this path; soft rejects stay silent by design of the engine.
func (n *Notifier) EntryRejected(rec launch.EntryRecord, snap models.Snapshot, reason string) {
	if n.cfg.AcceptedOnly {
		return
	}
	n.emit(Alert{
		AlertType:   "entry_rejected",
		Title:       "🚫 Fatal reject: " + rec.Mint,
		Description: fmt.Sprintf("%s (buyers=%d ratio=%.2f)", reason, snap.Buyers, snap.SameFunderRatio),
		Mint:        rec.Mint,
		Origin:      rec.Origin,
	})
}

// TransportAlert implements launch.WatcherAlerter.
func (n *Notifier) TransportAlert(endpoint string, attempts int, reason string) {
	if n.cfg.AcceptedOnly {
		return
	}
	n.emit(Alert{
		AlertType:   "transport",
		Title:       "⚠️ Stream trouble on " + endpoint + " endpoint",
		Description: fmt.Sprintf("attempts=%d reason=%s", attempts, reason),
	})
}

// EmitSummary sends the periodic decision digest. The cadence is owned by the
// summary timer in main; the counts come from FeedCounters.DrainSummary.
func (n *Notifier) EmitSummary(counts map[models.Decision]uint64) {
	if len(counts) == 0 {
		return
	}
	desc := ""
	for decision, count := range counts {
		if desc != "" {
			desc += ", "
		}
		desc += fmt.Sprintf("%s=%d", decision, count)
	}
	n.emit(Alert{
		AlertType:   "summary",
		Title:       "Decision summary",
		Description: desc,
	})
}

func (n *Notifier) emit(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	n.mu.Lock()
	n.recentAlerts = append(n.recentAlerts, alert)
	if len(n.recentAlerts) > maxAlertHistory {
		n.recentAlerts = n.recentAlerts[len(n.recentAlerts)-maxAlertHistory:]
	}
	now := time.Now().UnixMilli()
	webhookOK := n.webhookURL != "" &&
		(n.cfg.RateLimitSec <= 0 || now-n.lastWebhook >= int64(n.cfg.RateLimitSec)*1000)
	if webhookOK {
		n.lastWebhook = now
	}
	counters := n.counters
	n.mu.Unlock()

	if counters != nil {
		counters.MarkAlert(now)
	}

	if n.broadcast != nil {
		if payload, err := json.Marshal(map[string]interface{}{
			"type":  "alert",
			"alert": alert,
		}); err == nil {
			n.broadcast(payload)
		}
	}

	if webhookOK {
		go n.sendWebhook(alert)
	}

	log.Printf("[Alert] [%s] %s", alert.AlertType, alert.Title)
}

// GetRecentAlerts returns the most recent alerts, newest first.
func (n *Notifier) GetRecentAlerts(limit int) []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	if limit <= 0 || limit > len(n.recentAlerts) {
		limit = len(n.recentAlerts)
	}
	start := len(n.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = n.recentAlerts[start+limit-1-i]
	}
	return result
}

// sendWebhook delivers an alert to the configured webhook endpoint.
func (n *Notifier) sendWebhook(alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest("POST", n.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[Webhook] Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] Failed to send: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhook] Receiver returned status %d", resp.StatusCode)
	}
}
