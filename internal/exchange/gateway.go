package exchange

import (
	"context"
	"sync"
	"time"

	"lunara-sentinel/internal/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Gateway wraps a Client with bounded retry and explicit availability
// state. Transient faults are retried with exponential backoff; repeated
// failure flips the gateway unavailable so callers can skip a cycle
// instead of hammering a dead API. The first success after an outage
// triggers the recovery callback with the number of cycles skipped.
type Gateway struct {
	client       Client
	log          zerolog.Logger
	maxRetries   uint64
	failureLimit int

	mu            sync.Mutex
	available     bool
	failures      int
	skippedCycles int
	onRecovery    func(skippedCycles int)
}

func NewGateway(client Client, maxRetries uint64, failureLimit int) *Gateway {
	if failureLimit <= 0 {
		failureLimit = 3
	}
	return &Gateway{
		client:       client,
		log:          logging.Component("gateway"),
		maxRetries:   maxRetries,
		failureLimit: failureLimit,
		available:    true,
	}
}

// SetRecoveryCallback registers a hook invoked when the gateway comes back
// after an outage.
func (g *Gateway) SetRecoveryCallback(fn func(skippedCycles int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRecovery = fn
}

// Available reports whether the market data API answered recently.
func (g *Gateway) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// RecordSkippedCycle notes that a monitoring cycle stood down because the
// API is unavailable.
func (g *Gateway) RecordSkippedCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skippedCycles++
	g.log.Warn().Int("skipped_cycles", g.skippedCycles).Msg("cycle skipped, market data unavailable")
}

func (g *Gateway) recordFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.available && g.failures >= g.failureLimit {
		g.available = false
		g.log.Error().Err(err).Int("failures", g.failures).Msg("market data API marked unavailable")
	}
}

func (g *Gateway) recordSuccess() {
	g.mu.Lock()
	recovered := !g.available
	skipped := g.skippedCycles
	callback := g.onRecovery
	g.available = true
	g.failures = 0
	g.skippedCycles = 0
	g.mu.Unlock()

	if recovered {
		g.log.Info().Int("skipped_cycles", skipped).Msg("market data API recovered")
		if callback != nil {
			callback(skipped)
		}
	}
}

// retry runs op with exponential backoff, giving up immediately on
// non-transient errors.
func (g *Gateway) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackOff(), g.maxRetries), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil {
		g.recordFailure(err)
		return err
	}
	g.recordSuccess()
	return nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// GetPrice fetches the current price with retry.
func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := g.retry(ctx, func() error {
		var err error
		price, err = g.client.GetPrice(ctx, symbol)
		return err
	})
	return price, err
}

// GetKlines fetches candlesticks with retry.
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var klines []Kline
	err := g.retry(ctx, func() error {
		var err error
		klines, err = g.client.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return klines, err
}

// PlaceMarketSell submits a sell order. Orders are never retried: a timed
// out submission may still have filled, and repeating it would double-sell.
func (g *Gateway) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	result, err := g.client.PlaceMarketSell(ctx, symbol, quantity)
	if err != nil {
		if IsTransient(err) {
			g.recordFailure(err)
		}
		return nil, err
	}
	g.recordSuccess()
	return result, nil
}

// Ping probes connectivity, updating availability state.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.retry(ctx, func() error { return g.client.Ping(ctx) })
}
