package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kline represents a candlestick.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// OrderResult is the outcome of a filled order.
type OrderResult struct {
	Symbol      string  `json:"symbol"`
	OrderID     int64   `json:"orderId"`
	ExecutedQty float64 `json:"executedQty,string"`
	QuoteQty    float64 `json:"cummulativeQuoteQty,string"`
	Status      string  `json:"status"`
	Side        string  `json:"side"`
}

// AvgFillPrice returns the effective fill price of the order.
func (o *OrderResult) AvgFillPrice() float64 {
	if o.ExecutedQty == 0 {
		return 0
	}
	return o.QuoteQty / o.ExecutedQty
}

// Client is the exchange API surface the service depends on.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error)
	Ping(ctx context.Context) error
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// OrderRejectedError means the exchange refused the order itself (balance,
// lot size, notional filters). It is a business outcome, not a transport
// fault: callers fail open rather than retrying.
type OrderRejectedError struct {
	Symbol string
	Code   int
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s (code %d): %s", e.Symbol, e.Code, e.Reason)
}

// IsTransient reports whether an error is worth retrying: network faults,
// timeouts, rate limiting and server-side errors. Client errors and order
// rejections are permanent.
func IsTransient(err error) bool {
	var rejected *OrderRejectedError
	if errors.As(err, &rejected) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 418 || apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
