package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

// Config is the immutable, process-wide configuration. It is loaded once at
// startup from environment variables; any value that fails to parse is fatal.
//
// All credentials MUST come from environment variables. No fallback defaults
// for security-sensitive values. Use a .env file for local development.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string

	// Dual HTTP/WS RPC endpoints. The watcher runs on the primary WS endpoint
	// and fails over to the backup after an error burst.
	RPCHTTPPrimary string
	RPCHTTPBackup  string
	RPCWSPrimary   string
	RPCWSBackup    string

	// Per-origin launchpad program id lists, in origin priority order.
	Programs map[models.Origin][]string

	TipBudgetSolDaily float64
	TipMaxSolPerTrade float64

	// Notification credentials: a webhook URL plus optional bearer token.
	WebhookURL   string
	WebhookToken string

	DryRun bool

	SizeSmallSol float64
	SizeApexSol  float64

	SmartMoney     []string
	CohortBoost    int
	CohortDecaySec int

	Entry      EntryConfig
	Heat       HeatConfig
	MintVerify MintVerifyConfig
	TxLookup   TxLookupConfig
	Alerts     AlertsConfig
	Quotes     QuotesConfig
}

type EntryConfig struct {
	MinScore          int
	ApexScore         int
	CooldownSec       int
	ReevalCooldownSec int
	AcceptCooldownSec int
	MinObsBuyers      int
	MinObsUnique      int
	HoldTtlSec        int
	HoldMaxReevals    int
}

type HeatConfig struct {
	Enabled         bool
	WindowMin       int
	MinAcceptsPerHr float64
	MaxAcceptsPerHr float64
	LoosenScore     int
	LoosenBuyers    int
	TightenScore    int
	TightenBuyers   int
	FloorScore      int
	FloorBuyers     int
	CeilScore       int
	CeilBuyers      int
}

type MintVerifyConfig struct {
	Mode   string // eager | deferred | off
	TTLSec int
}

type TxLookupConfig struct {
	Mode      string // off | pumpfun_only | all
	QPS       float64
	MaxPerMin int
}

type AlertsConfig struct {
	AcceptedOnly    bool
	MinScore        int
	RateLimitSec    int
	SummaryEverySec int
}

type QuotesConfig struct {
	Enabled    bool
	IntervalMs int
	MaxMinutes int
	SizesSol   []float64
}

// Load reads the full configuration from the environment. Parse failures are
// returned as errors so main can exit nonzero without partial startup.
func Load() (*Config, error) {
	var errs []string
	e := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "5341"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RPCHTTPPrimary: getEnvOrDefault("RPC_HTTP_PRIMARY", "https://api.mainnet-beta.solana.com"),
		RPCHTTPBackup:  os.Getenv("RPC_HTTP_BACKUP"),
		RPCWSPrimary:   getEnvOrDefault("RPC_WS_PRIMARY", "wss://api.mainnet-beta.solana.com"),
		RPCWSBackup:    os.Getenv("RPC_WS_BACKUP"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookToken:   os.Getenv("WEBHOOK_TOKEN"),
		SmartMoney:     envList("SMART_MONEY"),
	}

	cfg.Programs = map[models.Origin][]string{
		models.OriginPumpFun:  envListDefault("PROGRAMS_PUMPFUN", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"),
		models.OriginLetsBonk: envList("PROGRAMS_LETSBONK"),
		models.OriginMoonshot: envList("PROGRAMS_MOONSHOT"),
		models.OriginRaydium:  envList("PROGRAMS_RAYDIUM"),
		models.OriginOrca:     envList("PROGRAMS_ORCA"),
	}

	cfg.TipBudgetSolDaily = envFloat("TIP_BUDGET_SOL_DAILY", 0.5, e)
	cfg.TipMaxSolPerTrade = envFloat("TIP_MAX_SOL_PER_TRADE", 0.01, e)
	cfg.DryRun = envBool("DRY_RUN", true, e)
	cfg.SizeSmallSol = envFloat("SIZE_SMALL_SOL", 0.25, e)
	cfg.SizeApexSol = envFloat("SIZE_APEX_SOL", 1.0, e)
	cfg.CohortBoost = envInt("COHORT_BOOST", 15, e)
	cfg.CohortDecaySec = envInt("COHORT_DECAY_SEC", 900, e)

	cfg.Entry = EntryConfig{
		MinScore:          envInt("ENTRY_MIN_SCORE", 60, e),
		ApexScore:         envInt("ENTRY_APEX_SCORE", 80, e),
		CooldownSec:       envInt("ENTRY_COOLDOWN_SEC", 30, e),
		ReevalCooldownSec: envInt("ENTRY_REEVAL_COOLDOWN_SEC", 2, e),
		AcceptCooldownSec: envInt("ENTRY_ACCEPT_COOLDOWN_SEC", 45, e),
		MinObsBuyers:      envInt("ENTRY_MIN_OBS_BUYERS", 4, e),
		MinObsUnique:      envInt("ENTRY_MIN_OBS_UNIQUE", 3, e),
		HoldTtlSec:        envInt("ENTRY_HOLD_TTL_SEC", 300, e),
		HoldMaxReevals:    envInt("ENTRY_HOLD_MAX_REEVALS", 0, e),
	}

	cfg.Heat = HeatConfig{
		Enabled:         envBool("HEAT_ENABLED", true, e),
		WindowMin:       envInt("HEAT_WINDOW_MIN", 60, e),
		MinAcceptsPerHr: envFloat("HEAT_MIN_ACCEPTS_PER_HR", 2, e),
		MaxAcceptsPerHr: envFloat("HEAT_MAX_ACCEPTS_PER_HR", 12, e),
		LoosenScore:     envInt("HEAT_LOOSEN_SCORE", 10, e),
		LoosenBuyers:    envInt("HEAT_LOOSEN_BUYERS", 1, e),
		TightenScore:    envInt("HEAT_TIGHTEN_SCORE", 10, e),
		TightenBuyers:   envInt("HEAT_TIGHTEN_BUYERS", 2, e),
		FloorScore:      envInt("HEAT_FLOOR_SCORE", 35, e),
		FloorBuyers:     envInt("HEAT_FLOOR_BUYERS", 3, e),
		CeilScore:       envInt("HEAT_CEIL_SCORE", 95, e),
		CeilBuyers:      envInt("HEAT_CEIL_BUYERS", 12, e),
	}

	cfg.MintVerify = MintVerifyConfig{
		Mode:   getEnvOrDefault("MINT_VERIFY_MODE", "deferred"),
		TTLSec: envInt("MINT_VERIFY_TTL_SEC", 3600, e),
	}
	cfg.TxLookup = TxLookupConfig{
		Mode:      getEnvOrDefault("TX_LOOKUP_MODE", "pumpfun_only"),
		QPS:       envFloat("TX_LOOKUP_QPS", 2, e),
		MaxPerMin: envInt("TX_LOOKUP_MAX_PER_MIN", 60, e),
	}
	cfg.Alerts = AlertsConfig{
		AcceptedOnly:    envBool("ALERTS_ACCEPTED_ONLY", false, e),
		MinScore:        envInt("ALERTS_MIN_SCORE", 0, e),
		RateLimitSec:    envInt("ALERTS_RATE_LIMIT_SEC", 10, e),
		SummaryEverySec: envInt("ALERTS_SUMMARY_EVERY_SEC", 300, e),
	}
	cfg.Quotes = QuotesConfig{
		Enabled:    envBool("QUOTES_ENABLED", false, e),
		IntervalMs: envInt("QUOTES_INTERVAL_MS", 5000, e),
		MaxMinutes: envInt("QUOTES_MAX_MINUTES", 10, e),
		SizesSol:   envFloatList("QUOTES_SIZES_SOL", []float64{0.1, 0.5, 1.0}, e),
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.MintVerify.Mode {
	case "eager", "deferred", "off":
	default:
		return fmt.Errorf("MINT_VERIFY_MODE must be eager, deferred or off (got %q)", c.MintVerify.Mode)
	}
	switch c.TxLookup.Mode {
	case "off", "pumpfun_only", "all":
	default:
		return fmt.Errorf("TX_LOOKUP_MODE must be off, pumpfun_only or all (got %q)", c.TxLookup.Mode)
	}
	if c.Heat.WindowMin <= 0 {
		return fmt.Errorf("HEAT_WINDOW_MIN must be positive")
	}
	if c.TxLookup.QPS <= 0 {
		return fmt.Errorf("TX_LOOKUP_QPS must be positive")
	}
	if c.MintVerify.TTLSec < 60 {
		return fmt.Errorf("MINT_VERIFY_TTL_SEC must be at least 60")
	}
	total := 0
	for _, ids := range c.Programs {
		total += len(ids)
	}
	if total == 0 {
		return fmt.Errorf("no launchpad program ids configured")
	}
	return nil
}

// SubscribedPrograms returns the deduplicated program ids across all origins in
// priority order, each paired with its first-assigned origin. This is the single
// precomputed set shared by the watcher and the mint validator.
func (c *Config) SubscribedPrograms() ([]string, map[string]models.Origin) {
	order := make([]string, 0, 8)
	byID := make(map[string]models.Origin)
	for _, origin := range models.OriginPriority {
		for _, id := range c.Programs[origin] {
			if id == "" {
				continue
			}
			if _, seen := byID[id]; seen {
				continue
			}
			byID[id] = origin
			order = append(order, id)
		}
	}
	return order, byID
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int, e func(error)) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e(fmt.Errorf("%s: %v", key, err))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, e func(error)) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e(fmt.Errorf("%s: %v", key, err))
		return fallback
	}
	return f
}

func envBool(key string, fallback bool, e func(error)) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e(fmt.Errorf("%s: %v", key, err))
		return fallback
	}
	return b
}

func envList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envListDefault(key, fallback string) []string {
	if list := envList(key); list != nil {
		return list
	}
	return strings.Split(fallback, ",")
}

func envFloatList(key string, fallback []float64, e func(error)) []float64 {
	list := envList(key)
	if list == nil {
		return fallback
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			e(fmt.Errorf("%s: %v", key, err))
			return fallback
		}
		out = append(out, f)
	}
	return out
}
