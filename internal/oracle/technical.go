package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TechnicalConfig tunes the rule oracle's indicators.
type TechnicalConfig struct {
	RSIPeriod  int
	EMAPeriod  int
	Oversold   float64
	Overbought float64
}

// DefaultTechnicalConfig returns the standard RSI(14)/EMA(20) setup.
func DefaultTechnicalConfig() TechnicalConfig {
	return TechnicalConfig{
		RSIPeriod:  14,
		EMAPeriod:  20,
		Oversold:   30,
		Overbought: 70,
	}
}

// TechnicalOracle is a deterministic rule-based provider. It votes BUY when
// RSI is oversold in an uptrend, SELL when overbought in a downtrend, and
// HOLD otherwise. It needs enough candles to warm both indicators;
// otherwise it abstains with NO_DECISION.
type TechnicalOracle struct {
	id     string
	cfg    TechnicalConfig
	logger zerolog.Logger
}

// NewTechnicalOracle creates the rule oracle under the given id.
func NewTechnicalOracle(id string, cfg TechnicalConfig) *TechnicalOracle {
	if cfg.RSIPeriod <= 0 || cfg.EMAPeriod <= 0 {
		cfg = DefaultTechnicalConfig()
	}
	return &TechnicalOracle{
		id:     id,
		cfg:    cfg,
		logger: log.With().Str("component", "technical_oracle").Str("oracle", id).Logger(),
	}
}

func (o *TechnicalOracle) ID() string {
	return o.id
}

// Query computes RSI and EMA over the prompt's candle closes and applies
// the voting rules.
func (o *TechnicalOracle) Query(ctx context.Context, prompt Prompt) (Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return Recommendation{}, err
	}

	minBars := o.cfg.RSIPeriod
	if o.cfg.EMAPeriod > minBars {
		minBars = o.cfg.EMAPeriod
	}
	closes := make([]float64, 0, len(prompt.Candles))
	for _, c := range prompt.Candles {
		closes = append(closes, c.Close)
	}
	if len(closes) < minBars {
		return Recommendation{
			Action:     ActionNoDecision,
			Confidence: 0,
			Reasoning:  fmt.Sprintf("insufficient history: %d candles, need %d", len(closes), minBars),
			ProducedAt: time.Now().UTC(),
		}, nil
	}

	rsi := lastValue(momentum.NewRsiWithPeriod[float64](o.cfg.RSIPeriod).Compute(sliceToChan(closes)))
	ema := lastValue(trend.NewEmaWithPeriod[float64](o.cfg.EMAPeriod).Compute(sliceToChan(closes)))
	price := prompt.Quote.Mid()
	if price == 0 {
		price = closes[len(closes)-1]
	}

	action, confidence, reasoning := o.vote(rsi, ema, price)

	o.logger.Debug().
		Str("instrument", prompt.Instrument.Key()).
		Float64("rsi", rsi).
		Float64("ema", ema).
		Str("action", string(action)).
		Msg("Technical vote")

	return Recommendation{
		Action:     action,
		Confidence: confidence,
		Reasoning:  reasoning,
		ProducedAt: time.Now().UTC(),
	}, nil
}

func (o *TechnicalOracle) vote(rsi, ema, price float64) (Action, int, string) {
	uptrend := price > ema
	switch {
	case rsi < o.cfg.Oversold && uptrend:
		return ActionBuy, scaleConfidence(o.cfg.Oversold - rsi),
			fmt.Sprintf("RSI %.1f oversold with price %.4f above EMA %.4f", rsi, price, ema)
	case rsi > o.cfg.Overbought && !uptrend:
		return ActionSell, scaleConfidence(rsi - o.cfg.Overbought),
			fmt.Sprintf("RSI %.1f overbought with price %.4f below EMA %.4f", rsi, price, ema)
	default:
		return ActionHold, 50,
			fmt.Sprintf("RSI %.1f neutral relative to EMA %.4f", rsi, ema)
	}
}

// scaleConfidence maps the distance past the RSI threshold onto [55, 95].
func scaleConfidence(excess float64) int {
	conf := 55 + int(excess*2)
	if conf > 95 {
		conf = 95
	}
	return conf
}

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastValue(ch <-chan float64) float64 {
	var last float64
	for v := range ch {
		last = v
	}
	return last
}
