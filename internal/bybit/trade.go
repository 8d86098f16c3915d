package bybit

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/internal/rest"
)

const (
	pathOrderCreate = "/v5/order/create"
	pathOrderAmend  = "/v5/order/amend"
	pathOrderCancel = "/v5/order/cancel"
	pathOpenOrders  = "/v5/order/realtime"
	pathExecutions  = "/v5/execution/list"

	ordersLimit     = 50
	executionsLimit = 100
)

// TradeClient exposes authenticated order endpoints. Placement runs the
// order intent through the builder, so conditional intents may perform a
// reference price lookup before any order traffic leaves the process.
type TradeClient struct {
	c       *Client
	builder *OrderBuilder
}

// PlaceOrder translates and submits the intent. On success the exchange
// order id is attached to the intent and the generated link id, if any, is
// written back so the caller can correlate stream events.
func (t *TradeClient) PlaceOrder(ctx context.Context, intent *OrderIntent) (OrderAck, error) {
	wire, err := t.builder.BuildPlace(ctx, intent)
	if err != nil {
		t.record(ctx, "build_error")
		return OrderAck{}, err
	}
	var ack OrderAck
	err = t.c.transport.Do(ctx, rest.Request{
		Method:       http.MethodPost,
		Path:         pathOrderCreate,
		Body:         wire,
		Authenticate: true,
	}, &ack)
	if err != nil {
		t.record(ctx, "rejected")
		return OrderAck{}, err
	}
	intent.AttachBrokerID(ack.OrderID)
	if intent.OrderLinkID == "" {
		intent.OrderLinkID = wire.OrderLinkID
	}
	t.record(ctx, "ok")
	return ack, nil
}

// AmendOrder changes quantity, limit price, or trigger price of a resting
// order. Zero-valued fields are left untouched.
func (t *TradeClient) AmendOrder(ctx context.Context, ref OrderRef, qty, limitPrice, triggerPrice decimal.Decimal) (OrderAck, error) {
	wire, err := t.builder.BuildAmend(ref, qty, limitPrice, triggerPrice)
	if err != nil {
		return OrderAck{}, err
	}
	var ack OrderAck
	err = t.c.transport.Do(ctx, rest.Request{
		Method:       http.MethodPost,
		Path:         pathOrderAmend,
		Body:         wire,
		Authenticate: true,
	}, &ack)
	if err != nil {
		return OrderAck{}, err
	}
	return ack, nil
}

// CancelOrder cancels by exchange id or link id. conditional selects the
// stop-order book where the category distinguishes it.
func (t *TradeClient) CancelOrder(ctx context.Context, ref OrderRef, conditional bool) (OrderAck, error) {
	wire, err := t.builder.BuildCancel(ref, conditional)
	if err != nil {
		return OrderAck{}, err
	}
	var ack OrderAck
	err = t.c.transport.Do(ctx, rest.Request{
		Method:       http.MethodPost,
		Path:         pathOrderCancel,
		Body:         wire,
		Authenticate: true,
	}, &ack)
	if err != nil {
		return OrderAck{}, err
	}
	return ack, nil
}

// GetOpenOrders returns all resting orders, following the cursor to
// exhaustion. A non-empty symbol narrows the query.
func (t *TradeClient) GetOpenOrders(ctx context.Context, symbol string) ([]OrderSnapshot, error) {
	query := t.c.query()
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	return rest.FetchAll[OrderSnapshot](ctx, t.c.transport, rest.Request{
		Method:       http.MethodGet,
		Path:         pathOpenOrders,
		Query:        query,
		Authenticate: true,
	}, ordersLimit)
}

// GetExecutions returns fill history, following the cursor to exhaustion.
func (t *TradeClient) GetExecutions(ctx context.Context, symbol string) ([]Execution, error) {
	query := t.c.query()
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	return rest.FetchAll[Execution](ctx, t.c.transport, rest.Request{
		Method:       http.MethodGet,
		Path:         pathExecutions,
		Query:        query,
		Authenticate: true,
	}, executionsLimit)
}

func (t *TradeClient) record(ctx context.Context, result string) {
	if t.c.metrics != nil {
		t.c.metrics.RecordOrderSubmitted(ctx, string(t.c.category), result)
	}
}
