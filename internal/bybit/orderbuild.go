package bybit

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/errs"
)

// PriceSource supplies the reference price consulted when a conditional
// order's trigger direction must be inferred, or when a spot market buy is
// rewritten into quote notional. Lookups are side-dependent: buys reference
// the ask, sells the bid.
type PriceSource interface {
	ReferencePrice(ctx context.Context, symbol string, side Side) (decimal.Decimal, error)
}

// OrderBuilder maps generic order intents onto exchange wire payloads for
// one product category. Building a conditional order performs a reference
// price lookup as a side effect and is therefore fallible before any order
// traffic is sent.
type OrderBuilder struct {
	category Category
	prices   PriceSource
}

// NewOrderBuilder constructs a builder for the category backed by the given
// price source.
func NewOrderBuilder(category Category, prices PriceSource) *OrderBuilder {
	return &OrderBuilder{category: category, prices: prices}
}

// BuildPlace translates the intent into a placement payload. TrailingStop
// intents and Hold directions fail fast before any network call.
func (b *OrderBuilder) BuildPlace(ctx context.Context, intent *OrderIntent) (*PlaceOrderRequest, error) {
	side, err := intent.Side()
	if err != nil {
		return nil, err
	}
	if !intent.Quantity.IsPositive() {
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("order quantity must be positive"),
			errs.WithField("symbol", intent.Symbol))
	}

	req := &PlaceOrderRequest{
		Category:    string(b.category),
		Symbol:      intent.Symbol,
		Side:        string(side),
		OrderLinkID: intent.OrderLinkID,
	}
	if req.OrderLinkID == "" {
		req.OrderLinkID = uuid.NewString()
	}

	switch intent.Kind {
	case KindMarket:
		req.OrderType = "Market"
		req.TimeInForce = "IOC"
		qty := intent.Quantity
		if b.category == CategorySpot && side == SideBuy {
			// Spot market buys are quoted in the quote currency; rewrite the
			// base quantity into notional at the current reference price.
			reference, err := b.referencePrice(ctx, intent.Symbol, side)
			if err != nil {
				return nil, err
			}
			qty = qty.Mul(reference)
		}
		req.Qty = qty.String()

	case KindLimit:
		if err := requirePrice(intent.LimitPrice, "limit price", intent.Symbol); err != nil {
			return nil, err
		}
		req.OrderType = "Limit"
		req.Qty = intent.Quantity.String()
		req.Price = intent.LimitPrice.String()
		req.TimeInForce = timeInForce(intent.PostOnly)
		req.ReduceOnly = intent.ReduceOnly && b.category.IsDerivative()

	case KindStopLimit:
		if err := requirePrice(intent.LimitPrice, "limit price", intent.Symbol); err != nil {
			return nil, err
		}
		if err := requirePrice(intent.TriggerPrice, "trigger price", intent.Symbol); err != nil {
			return nil, err
		}
		direction, err := b.triggerDirection(ctx, intent.Symbol, side, intent.TriggerPrice)
		if err != nil {
			return nil, err
		}
		req.OrderType = "Limit"
		req.Qty = intent.Quantity.String()
		req.Price = intent.LimitPrice.String()
		req.TriggerPrice = intent.TriggerPrice.String()
		req.TriggerDirection = direction
		req.TimeInForce = timeInForce(intent.PostOnly)
		req.ReduceOnly = intent.ReduceOnly && b.category.IsDerivative()
		b.tagConditional(req)

	case KindStopMarket:
		if err := requirePrice(intent.TriggerPrice, "trigger price", intent.Symbol); err != nil {
			return nil, err
		}
		direction, err := b.triggerDirection(ctx, intent.Symbol, side, intent.TriggerPrice)
		if err != nil {
			return nil, err
		}
		req.OrderType = "Market"
		req.TimeInForce = "IOC"
		qty := intent.Quantity
		if b.category == CategorySpot && side == SideBuy {
			// No live price is needed here: the stop price is the price the
			// order will execute near once triggered.
			qty = qty.Mul(intent.TriggerPrice)
		}
		req.Qty = qty.String()
		req.TriggerPrice = intent.TriggerPrice.String()
		req.TriggerDirection = direction
		// Stop markets exist to exit a position.
		req.ReduceOnly = b.category.IsDerivative()
		b.tagConditional(req)

	case KindLimitIfTouched:
		if err := requirePrice(intent.LimitPrice, "limit price", intent.Symbol); err != nil {
			return nil, err
		}
		if err := requirePrice(intent.TriggerPrice, "trigger price", intent.Symbol); err != nil {
			return nil, err
		}
		direction, err := b.triggerDirection(ctx, intent.Symbol, side, intent.TriggerPrice)
		if err != nil {
			return nil, err
		}
		req.OrderType = "Limit"
		req.Qty = intent.Quantity.String()
		req.Price = intent.LimitPrice.String()
		req.TriggerPrice = intent.TriggerPrice.String()
		req.TriggerDirection = direction
		req.TimeInForce = timeInForce(intent.PostOnly)
		req.ReduceOnly = intent.ReduceOnly && b.category.IsDerivative()
		b.tagConditional(req)

	case KindTrailingStop:
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("trailing stop orders are not supported"),
			errs.WithField("symbol", intent.Symbol))

	default:
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("unknown order kind"),
			errs.WithField("kind", string(intent.Kind)))
	}

	return req, nil
}

// BuildAmend translates an amendment of price, quantity, or trigger price
// for an existing order.
func (b *OrderBuilder) BuildAmend(ref OrderRef, qty, limitPrice, triggerPrice decimal.Decimal) (*AmendOrderRequest, error) {
	if ref.OrderID == "" && ref.OrderLinkID == "" {
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("amend requires an order id or link id"),
			errs.WithField("symbol", ref.Symbol))
	}
	req := &AmendOrderRequest{
		Category:    string(b.category),
		Symbol:      ref.Symbol,
		OrderID:     ref.OrderID,
		OrderLinkID: ref.OrderLinkID,
	}
	if qty.IsPositive() {
		req.Qty = qty.String()
	}
	if limitPrice.IsPositive() {
		req.Price = limitPrice.String()
	}
	if triggerPrice.IsPositive() {
		req.TriggerPrice = triggerPrice.String()
	}
	if req.Qty == "" && req.Price == "" && req.TriggerPrice == "" {
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("amend changes nothing"),
			errs.WithField("symbol", ref.Symbol))
	}
	return req, nil
}

// BuildCancel translates a cancellation. Conditional spot orders live in a
// separate book and must carry the StopOrder discriminator.
func (b *OrderBuilder) BuildCancel(ref OrderRef, conditional bool) (*CancelOrderRequest, error) {
	if ref.OrderID == "" && ref.OrderLinkID == "" {
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("cancel requires an order id or link id"),
			errs.WithField("symbol", ref.Symbol))
	}
	req := &CancelOrderRequest{
		Category:    string(b.category),
		Symbol:      ref.Symbol,
		OrderID:     ref.OrderID,
		OrderLinkID: ref.OrderLinkID,
	}
	if conditional && b.category == CategorySpot {
		req.OrderFilter = "StopOrder"
	}
	return req, nil
}

// triggerDirection infers whether the trigger sits above (rise) or below
// (fall) the market by fetching the side-dependent reference price.
func (b *OrderBuilder) triggerDirection(ctx context.Context, symbol string, side Side, trigger decimal.Decimal) (int, error) {
	reference, err := b.referencePrice(ctx, symbol, side)
	if err != nil {
		return 0, err
	}
	if trigger.GreaterThan(reference) {
		return triggerRise, nil
	}
	return triggerFall, nil
}

func (b *OrderBuilder) referencePrice(ctx context.Context, symbol string, side Side) (decimal.Decimal, error) {
	if b.prices == nil {
		return decimal.Zero, errs.New(venue, errs.CodePriceUnavailable,
			errs.WithMessage("no price source configured"),
			errs.WithField("symbol", symbol))
	}
	price, err := b.prices.ReferencePrice(ctx, symbol, side)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, errs.New(venue, errs.CodePriceUnavailable,
			errs.WithMessage("reference price lookup returned no price"),
			errs.WithField("symbol", symbol))
	}
	return price, nil
}

// tagConditional marks the request as belonging to the conditional order
// book where the category requires it.
func (b *OrderBuilder) tagConditional(req *PlaceOrderRequest) {
	if b.category == CategorySpot {
		req.OrderFilter = "StopOrder"
	}
}

func timeInForce(postOnly bool) string {
	if postOnly {
		return "PostOnly"
	}
	return "GTC"
}

func requirePrice(price decimal.Decimal, name, symbol string) error {
	if price.IsPositive() {
		return nil
	}
	return errs.New(venue, errs.CodeInvalid,
		errs.WithMessage(name+" must be positive"),
		errs.WithField("symbol", symbol))
}
