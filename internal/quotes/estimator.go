package quotes

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/launch"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// Pump-curve virtual reserve defaults. A fresh pump.fun bonding curve starts
// with 30 virtual SOL against ~1.073B virtual tokens; when a live price is
// known the token side is rescaled so the spot matches the observed market.
var (
	defaultVirtualSol    = decimal.NewFromInt(30)
	defaultVirtualTokens = decimal.NewFromInt(1_073_000_000)
)

const quoteRoute = "pump-curve"

// QuoteSink receives batched quote estimates.
type QuoteSink interface {
	InsertQuotes(ctx context.Context, quotes []models.QuoteEstimate) error
}

// Estimator produces constant-product fill estimates against the virtual
// reserve model of a launchpad bonding curve.
type Estimator struct{}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// reserves returns the virtual reserve pair consistent with an observed spot
// price, falling back to curve defaults when no price is known yet.
func (e *Estimator) reserves(lastPrice float64) (vSol, vTok decimal.Decimal) {
	vSol = defaultVirtualSol
	vTok = defaultVirtualTokens
	if lastPrice > 0 {
		spot := decimal.NewFromFloat(lastPrice)
		vTok = vSol.Div(spot)
	}
	return vSol, vTok
}

// Estimate computes the fill price and slippage for buying sizeSol into the
// curve. With constant product, tokensOut = vTok*size/(vSol+size), so the
// average fill is (vSol+size)/vTok and slippage over spot is size/vSol.
func (e *Estimator) Estimate(mint string, origin models.Origin, lastPrice, sizeSol float64, ts int64) models.QuoteEstimate {
	vSol, vTok := e.reserves(lastPrice)
	size := decimal.NewFromFloat(sizeSol)

	fill := vSol.Add(size).Div(vTok)
	spot := vSol.Div(vTok)
	slippageBps := size.Div(vSol).Mul(decimal.NewFromInt(10_000))

	reserves, _ := json.Marshal(map[string]string{
		"virtualSol":    vSol.String(),
		"virtualTokens": vTok.StringFixed(0),
		"spotSol":       spot.String(),
	})

	fillF, _ := fill.Float64()
	return models.QuoteEstimate{
		Mint:            mint,
		Origin:          origin,
		Route:           quoteRoute,
		SizeSol:         sizeSol,
		EstFillPriceSol: fillF,
		EstSlippageBps:  int(slippageBps.IntPart()),
		ReservesJSON:    string(reserves),
		Ts:              ts,
	}
}

// Sampler periodically quotes every young tracked mint at the configured probe
// sizes and persists the estimates.
type Sampler struct {
	cfg       config.QuotesConfig
	micro     *launch.MicrostructureTracker
	sink      QuoteSink
	estimator *Estimator
}

func NewSampler(cfg config.QuotesConfig, micro *launch.MicrostructureTracker, sink QuoteSink) *Sampler {
	return &Sampler{
		cfg:       cfg,
		micro:     micro,
		sink:      sink,
		estimator: NewEstimator(),
	}
}

// Run samples until ctx ends. Disabled configs return immediately.
func (s *Sampler) Run(ctx context.Context) {
	if !s.cfg.Enabled || s.sink == nil {
		return
	}
	interval := time.Duration(s.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Quotes] Sampling every %s at sizes %v", interval, s.cfg.SizesSol)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	now := time.Now().UnixMilli()
	maxAge := int64(s.cfg.MaxMinutes) * 60_000

	var batch []models.QuoteEstimate
	for _, active := range s.micro.Active() {
		if maxAge > 0 && now-active.FirstSeenTs > maxAge {
			continue
		}
		for _, size := range s.cfg.SizesSol {
			batch = append(batch, s.estimator.Estimate(active.Mint, active.Origin, active.LastPrice, size, now))
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := s.sink.InsertQuotes(ctx, batch); err != nil {
		log.Printf("[Quotes] Persist failed: %v", err)
	}
}
