package indicator

import (
	"context"

	"lunara-sentinel/internal/exchange"
)

// CalculateSMA calculates Simple Moving Average over the last period closes.
func CalculateSMA(klines []exchange.Kline, period int) float64 {
	if len(klines) < period {
		return 0
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average.
func CalculateEMA(klines []exchange.Kline, period int) float64 {
	if len(klines) < period {
		return 0
	}
	ema := CalculateSMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// CalculateRSI calculates the Relative Strength Index.
func CalculateRSI(klines []exchange.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// KlineSource is anything that can serve candlesticks.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error)
}

// Source computes indicators from live market data.
type Source struct {
	klines   KlineSource
	interval string
	period   int
}

func NewSource(klines KlineSource, interval string, period int) *Source {
	if interval == "" {
		interval = "1h"
	}
	if period <= 0 {
		period = 14
	}
	return &Source{klines: klines, interval: interval, period: period}
}

// RSI returns the current RSI for a symbol.
func (s *Source) RSI(ctx context.Context, symbol string) (float64, error) {
	klines, err := s.klines.GetKlines(ctx, symbol, s.interval, s.period*3)
	if err != nil {
		return 0, err
	}
	return CalculateRSI(klines, s.period), nil
}
