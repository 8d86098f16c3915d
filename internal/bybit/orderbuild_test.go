package bybit

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/bybitconn/errs"
)

// fakePriceSource serves a fixed reference price and counts lookups so
// tests can prove when no network-facing work happened.
type fakePriceSource struct {
	price   decimal.Decimal
	err     error
	lookups int
}

func (f *fakePriceSource) ReferencePrice(_ context.Context, _ string, _ Side) (decimal.Decimal, error) {
	f.lookups++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildStopLimitTriggerDirection(t *testing.T) {
	prices := &fakePriceSource{price: dec("50000")}
	builder := NewOrderBuilder(CategoryLinear, prices)

	above := &OrderIntent{
		Symbol:       "BTCUSDT",
		Direction:    DirectionBuy,
		Kind:         KindStopLimit,
		Quantity:     dec("0.5"),
		LimitPrice:   dec("50600"),
		TriggerPrice: dec("50500"),
	}
	req, err := builder.BuildPlace(context.Background(), above)
	require.NoError(t, err)
	require.Equal(t, triggerRise, req.TriggerDirection)
	require.Equal(t, "Limit", req.OrderType)
	require.Equal(t, "50500", req.TriggerPrice)
	require.Equal(t, "50600", req.Price)

	below := &OrderIntent{
		Symbol:       "BTCUSDT",
		Direction:    DirectionSell,
		Kind:         KindStopLimit,
		Quantity:     dec("0.5"),
		LimitPrice:   dec("49000"),
		TriggerPrice: dec("49500"),
	}
	req, err = builder.BuildPlace(context.Background(), below)
	require.NoError(t, err)
	require.Equal(t, triggerFall, req.TriggerDirection)
}

func TestBuildTrailingStopFailsBeforeAnyLookup(t *testing.T) {
	prices := &fakePriceSource{price: dec("100")}
	builder := NewOrderBuilder(CategoryLinear, prices)

	_, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:    "ETHUSDT",
		Direction: DirectionBuy,
		Kind:      KindTrailingStop,
		Quantity:  dec("1"),
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	require.Zero(t, prices.lookups, "trailing stop must fail before any price lookup")
}

func TestBuildHoldDirectionFailsFast(t *testing.T) {
	builder := NewOrderBuilder(CategoryLinear, &fakePriceSource{price: dec("100")})
	_, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:    "ETHUSDT",
		Direction: DirectionHold,
		Kind:      KindMarket,
		Quantity:  dec("1"),
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestBuildSpotMarketBuyRewritesNotional(t *testing.T) {
	prices := &fakePriceSource{price: dec("40000")}
	builder := NewOrderBuilder(CategorySpot, prices)

	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:    "BTCUSDT",
		Direction: DirectionBuy,
		Kind:      KindMarket,
		Quantity:  dec("0.25"),
	})
	require.NoError(t, err)
	require.Equal(t, "10000", req.Qty)
	require.Equal(t, "IOC", req.TimeInForce)
	require.Equal(t, 1, prices.lookups)

	// Sells keep the base quantity.
	req, err = builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:    "BTCUSDT",
		Direction: DirectionSell,
		Kind:      KindMarket,
		Quantity:  dec("0.25"),
	})
	require.NoError(t, err)
	require.Equal(t, "0.25", req.Qty)
}

func TestBuildStopMarketSpotBuyUsesStopPriceForNotional(t *testing.T) {
	prices := &fakePriceSource{price: dec("40000")}
	builder := NewOrderBuilder(CategorySpot, prices)

	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:       "BTCUSDT",
		Direction:    DirectionBuy,
		Kind:         KindStopMarket,
		Quantity:     dec("0.1"),
		TriggerPrice: dec("42000"),
	})
	require.NoError(t, err)
	require.Equal(t, "4200", req.Qty)
	require.Equal(t, "StopOrder", req.OrderFilter)
	require.False(t, req.ReduceOnly, "spot orders carry no reduce-only flag")
}

func TestBuildStopMarketDerivativeImplicitlyReduceOnly(t *testing.T) {
	builder := NewOrderBuilder(CategoryLinear, &fakePriceSource{price: dec("50000")})

	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:       "BTCUSDT",
		Direction:    DirectionSell,
		Kind:         KindStopMarket,
		Quantity:     dec("1"),
		TriggerPrice: dec("48000"),
	})
	require.NoError(t, err)
	require.True(t, req.ReduceOnly)
	require.Empty(t, req.OrderFilter, "only spot tags the conditional book")
}

func TestBuildLimitPostOnlyTimeInForce(t *testing.T) {
	builder := NewOrderBuilder(CategoryLinear, nil)

	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:     "BTCUSDT",
		Direction:  DirectionBuy,
		Kind:       KindLimit,
		Quantity:   dec("1"),
		LimitPrice: dec("45000"),
		PostOnly:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "PostOnly", req.TimeInForce)

	req, err = builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:     "BTCUSDT",
		Direction:  DirectionBuy,
		Kind:       KindLimit,
		Quantity:   dec("1"),
		LimitPrice: dec("45000"),
	})
	require.NoError(t, err)
	require.Equal(t, "GTC", req.TimeInForce)
}

func TestBuildLimitIfTouchedCarriesBothPrices(t *testing.T) {
	builder := NewOrderBuilder(CategoryInverse, &fakePriceSource{price: dec("30000")})

	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:       "BTCUSD",
		Direction:    DirectionBuy,
		Kind:         KindLimitIfTouched,
		Quantity:     dec("100"),
		LimitPrice:   dec("29400"),
		TriggerPrice: dec("29500"),
	})
	require.NoError(t, err)
	require.Equal(t, "Limit", req.OrderType)
	require.Equal(t, "29500", req.TriggerPrice)
	require.Equal(t, triggerFall, req.TriggerDirection)
}

func TestBuildPriceUnavailablePropagates(t *testing.T) {
	prices := &fakePriceSource{price: decimal.Zero}
	builder := NewOrderBuilder(CategoryLinear, prices)

	_, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:       "BTCUSDT",
		Direction:    DirectionBuy,
		Kind:         KindStopLimit,
		Quantity:     dec("1"),
		LimitPrice:   dec("100"),
		TriggerPrice: dec("101"),
	})
	require.True(t, errs.HasCode(err, errs.CodePriceUnavailable))
}

func TestBuildGeneratesLinkIDWhenAbsent(t *testing.T) {
	builder := NewOrderBuilder(CategoryLinear, nil)
	req, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:     "BTCUSDT",
		Direction:  DirectionBuy,
		Kind:       KindLimit,
		Quantity:   dec("1"),
		LimitPrice: dec("45000"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, req.OrderLinkID)

	req2, err := builder.BuildPlace(context.Background(), &OrderIntent{
		Symbol:      "BTCUSDT",
		Direction:   DirectionBuy,
		Kind:        KindLimit,
		Quantity:    dec("1"),
		LimitPrice:  dec("45000"),
		OrderLinkID: "caller-chosen",
	})
	require.NoError(t, err)
	require.Equal(t, "caller-chosen", req2.OrderLinkID)
}

func TestBuildCancelSpotConditionalDiscriminator(t *testing.T) {
	builder := NewOrderBuilder(CategorySpot, nil)
	req, err := builder.BuildCancel(OrderRef{Symbol: "BTCUSDT", OrderID: "abc"}, true)
	require.NoError(t, err)
	require.Equal(t, "StopOrder", req.OrderFilter)

	plain, err := builder.BuildCancel(OrderRef{Symbol: "BTCUSDT", OrderID: "abc"}, false)
	require.NoError(t, err)
	require.Empty(t, plain.OrderFilter)

	linear := NewOrderBuilder(CategoryLinear, nil)
	req, err = linear.BuildCancel(OrderRef{Symbol: "BTCUSDT", OrderID: "abc"}, true)
	require.NoError(t, err)
	require.Empty(t, req.OrderFilter)
}

func TestBuildAmendRequiresIdAndChange(t *testing.T) {
	builder := NewOrderBuilder(CategoryLinear, nil)

	_, err := builder.BuildAmend(OrderRef{Symbol: "BTCUSDT"}, dec("1"), decimal.Zero, decimal.Zero)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	_, err = builder.BuildAmend(OrderRef{Symbol: "BTCUSDT", OrderID: "abc"}, decimal.Zero, decimal.Zero, decimal.Zero)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	req, err := builder.BuildAmend(OrderRef{Symbol: "BTCUSDT", OrderID: "abc"}, decimal.Zero, dec("45100"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, "45100", req.Price)
	require.Empty(t, req.Qty)
}
