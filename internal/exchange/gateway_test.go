package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rate limited", err: &APIError{StatusCode: 429}, want: true},
		{name: "banned teapot", err: &APIError{StatusCode: 418}, want: true},
		{name: "server error", err: &APIError{StatusCode: 502}, want: true},
		{name: "bad request", err: &APIError{StatusCode: 400, Code: -1121}, want: false},
		{name: "unauthorized", err: &APIError{StatusCode: 401}, want: false},
		{name: "order rejected", err: &OrderRejectedError{Symbol: "BTCUSDT", Code: -2010}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "plain error", err: errors.New("weird"), want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

// scriptedClient returns canned responses per call, simulating flapping
// upstream behavior.
type scriptedClient struct {
	priceErrs []error
	price     float64
	calls     int
}

func (c *scriptedClient) nextErr() error {
	var err error
	if c.calls < len(c.priceErrs) {
		err = c.priceErrs[c.calls]
	}
	c.calls++
	return err
}

func (c *scriptedClient) GetPrice(context.Context, string) (float64, error) {
	if err := c.nextErr(); err != nil {
		return 0, err
	}
	return c.price, nil
}

func (c *scriptedClient) GetKlines(context.Context, string, string, int) ([]Kline, error) {
	if err := c.nextErr(); err != nil {
		return nil, err
	}
	return []Kline{{Close: c.price}}, nil
}

func (c *scriptedClient) PlaceMarketSell(_ context.Context, symbol string, qty float64) (*OrderResult, error) {
	if err := c.nextErr(); err != nil {
		return nil, err
	}
	return &OrderResult{Symbol: symbol, ExecutedQty: qty, QuoteQty: qty * c.price, Status: "FILLED"}, nil
}

func (c *scriptedClient) Ping(context.Context) error { return c.nextErr() }

func transient() error { return &APIError{StatusCode: 503} }

func TestGatewayRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{priceErrs: []error{transient(), transient(), nil}, price: 42.0}
	g := NewGateway(client, 3, 3)

	price, err := g.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Equal(t, 3, client.calls)
	assert.True(t, g.Available())
}

func TestGatewayDoesNotRetryPermanentErrors(t *testing.T) {
	client := &scriptedClient{priceErrs: []error{&APIError{StatusCode: 400, Code: -1121}}}
	g := NewGateway(client, 3, 3)

	_, err := g.GetPrice(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "permanent errors must fail immediately")
	assert.True(t, g.Available(), "one business error does not mean the API is down")
}

func TestGatewayBecomesUnavailableAfterRepeatedFailures(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = transient()
	}
	client := &scriptedClient{priceErrs: errs}
	g := NewGateway(client, 1, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.GetPrice(ctx, "BTCUSDT")
		require.Error(t, err)
	}
	assert.False(t, g.Available())
}

func TestGatewayRecoveryCallback(t *testing.T) {
	errs := []error{transient(), transient(), transient(), transient(), transient(), transient(), nil}
	client := &scriptedClient{priceErrs: errs, price: 42.0}
	g := NewGateway(client, 1, 3)

	var recoveredAfter = -1
	g.SetRecoveryCallback(func(skipped int) { recoveredAfter = skipped })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = g.GetPrice(ctx, "BTCUSDT")
	}
	require.False(t, g.Available())
	g.RecordSkippedCycle()
	g.RecordSkippedCycle()

	price, err := g.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.True(t, g.Available())
	assert.Equal(t, 2, recoveredAfter, "recovery reports how many cycles were skipped")
}

func TestGatewayNeverRetriesOrders(t *testing.T) {
	client := &scriptedClient{priceErrs: []error{transient()}}
	g := NewGateway(client, 3, 3)

	_, err := g.PlaceMarketSell(context.Background(), "BTCUSDT", 1.0)
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "a timed-out sell may have filled; retrying could double-sell")
}

func TestMockClientSellRejectsInvalidQuantity(t *testing.T) {
	mc := NewMockClient()
	_, err := mc.PlaceMarketSell(context.Background(), "BTCUSDT", 0)

	var rejected *OrderRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestOrderResultAvgFillPrice(t *testing.T) {
	r := &OrderResult{ExecutedQty: 2.0, QuoteQty: 220.0}
	assert.InDelta(t, 110.0, r.AvgFillPrice(), 1e-9)

	empty := &OrderResult{}
	assert.Equal(t, 0.0, empty.AvgFillPrice())
}
