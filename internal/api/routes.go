package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/launch-sentinel/internal/db"
	"github.com/rawblock/launch-sentinel/internal/launch"
	"github.com/rawblock/launch-sentinel/internal/notify"
)

// maxActiveMints caps the microstructure summary in the status payload so a
// busy launch hour cannot balloon the response.
const maxActiveMints = 25

type APIHandler struct {
	dbStore  *db.PostgresStore
	pipeline *launch.Pipeline
	notifier *notify.Notifier
	wsHub    *Hub
}

// SetupRouter wires the read-only status surface. There are deliberately no
// mutation routes: decisions flow only from the ingestion pipeline.
func SetupRouter(dbStore *db.PostgresStore, pipeline *launch.Pipeline, notifier *notify.Notifier, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:  dbStore,
		pipeline: pipeline,
		notifier: notifier,
		wsHub:    wsHub,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("")
	{
		pub.GET("/health", handler.handleHealth)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.GET("/status", handler.handleStatus)
		auth.GET("/stream", wsHub.Subscribe)
		auth.GET("/alerts", handler.handleAlerts)
		auth.GET("/mints/:mint", handler.handleMintState)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": 1})
}

// handleStatus assembles the full operational snapshot: store health, feed
// counters, decision stats, microstructure summary and alert metadata.
func (h *APIHandler) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	counters := h.pipeline.Counters.Snapshot()

	status := gin.H{
		"counters": counters,
		"feed": gin.H{
			"watcher":     h.pipeline.Watcher.Status(),
			"perOrigin":   counters.PerOrigin,
			"lastEventTs": counters.LastEventTs,
		},
		"decisions": gin.H{
			"accepts24h":     counters.Totals[launch.CounterAccepts],
			"rejects24h":     counters.Totals[launch.CounterRejects],
			"softRejects24h": counters.Totals[launch.CounterSoftRejects],
			"pending24h":     counters.Totals[launch.CounterPending],
			"recent":         h.pipeline.Engine.Stats(),
		},
		"heat": h.pipeline.Heat.EffectiveThresholds(counters.LastEventTs),
		"microstructure": gin.H{
			"tracked": h.pipeline.Micro.Len(),
			"active":  truncateActive(h.pipeline.Micro.Active()),
		},
		"caches": gin.H{
			"mintVerify":      h.pipeline.Validator.CacheLen(),
			"introspectQueue": h.pipeline.Introspector.QueueLen(),
		},
	}

	if h.notifier != nil {
		status["alerts"] = gin.H{
			"lastAlertTs": counters.LastAlertTs,
			"recent":      h.notifier.GetRecentAlerts(10),
		}
	}

	if h.dbStore != nil {
		storeInfo := gin.H{}
		if version, err := h.dbStore.SchemaVersion(ctx); err == nil {
			storeInfo["schemaVersion"] = version
		}
		if open, err := h.dbStore.CountOpenPositions(ctx); err == nil {
			storeInfo["openPositions"] = open
		}
		if pnl, err := h.dbStore.RealizedPnlTodaySol(ctx); err == nil {
			storeInfo["realizedPnlTodaySol"] = pnl
		}
		if halts, err := h.dbStore.ActiveHalts(ctx); err == nil {
			storeInfo["activeHalts"] = halts
		}
		if tips, err := h.dbStore.TipsSpentToday(ctx); err == nil {
			storeInfo["tipsSpentTodaySol"] = tips
		}
		status["store"] = storeInfo
	}

	c.JSON(http.StatusOK, status)
}

func truncateActive(active []launch.ActiveMint) []launch.ActiveMint {
	if len(active) > maxActiveMints {
		return active[:maxActiveMints]
	}
	return active
}

func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []notify.Alert{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": h.notifier.GetRecentAlerts(50)})
}

func (h *APIHandler) handleMintState(c *gin.Context) {
	mint := c.Param("mint")
	state, ok := h.pipeline.Engine.StateOf(mint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "mint not tracked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decision": state,
		"snapshot": h.pipeline.Micro.Snapshot(mint),
	})
}
