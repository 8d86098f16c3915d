// Package reconcile turns parsed stream envelopes into local order events
// and market ticks, matched against the session's tracked orders.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/internal/bybit"
	"github.com/tidemark/bybitconn/internal/numeric"
	"github.com/tidemark/bybitconn/internal/observability"
	"github.com/tidemark/bybitconn/internal/stream"
	"github.com/tidemark/bybitconn/internal/telemetry"
)

// Stream topics consumed.
const (
	topicOrder        = "order"
	topicTradePrefix  = "publicTrade."
	topicTickerPrefix = "tickers."
)

// OrderRegistry resolves a stream update's broker order id to the locally
// tracked order. Updates for ids the registry does not know are dropped
// silently; they may belong to another session on the same account.
type OrderRegistry interface {
	FindByBrokerID(brokerID string) (*bybit.OrderIntent, bool)
}

// TickSink receives market ticks. Calls are serialized under the tick lock,
// so implementations need no locking of their own.
type TickSink interface {
	PushQuote(Quote)
	PushTrade(Trade)
}

// Quote is a top-of-book snapshot with both sides present.
type Quote struct {
	Symbol   string
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
	At       time.Time
}

// Trade is one public trade print.
type Trade struct {
	Symbol string
	Side   bybit.Side
	Price  decimal.Decimal
	Size   decimal.Decimal
	At     time.Time
}

// OrderEventKind enumerates the externally visible order transitions.
// Intermediate exchange statuses are logged, not emitted.
type OrderEventKind string

const (
	// OrderSubmitted is emitted by the owning session right after a REST
	// placement succeeds, never by the reconciler itself.
	OrderSubmitted OrderEventKind = "Submitted"
	OrderFilled    OrderEventKind = "Filled"
	OrderCanceled  OrderEventKind = "Canceled"
)

// OrderEvent is one visible transition of a tracked order.
type OrderEvent struct {
	Kind        OrderEventKind
	Order       *bybit.OrderIntent
	BrokerID    string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	At          time.Time
}

// OrderEventHandler consumes order events. It runs under the order lock, so
// it never races a REST-side place/amend/cancel in the same session.
type OrderEventHandler func(OrderEvent)

// Options wires the reconciler's collaborators. TickLock and OrderLock may
// be shared with the owning session; they default to private mutexes.
type Options struct {
	Registry  OrderRegistry
	Sink      TickSink
	OnOrder   OrderEventHandler
	TickLock  sync.Locker
	OrderLock sync.Locker
	Metrics   *telemetry.Metrics
}

// Reconciler applies stream envelopes to local state. One instance serves
// all connections of a session; per-topic handlers tolerate malformed data
// by logging and skipping, never by failing the stream.
type Reconciler struct {
	opts Options

	mu       sync.Mutex
	terminal map[string]struct{}
}

// New builds a reconciler. Registry, Sink, and OnOrder may each be nil, in
// which case the corresponding envelopes are dropped.
func New(opts Options) *Reconciler {
	if opts.TickLock == nil {
		opts.TickLock = &sync.Mutex{}
	}
	if opts.OrderLock == nil {
		opts.OrderLock = &sync.Mutex{}
	}
	return &Reconciler{opts: opts, terminal: make(map[string]struct{})}
}

// Handle routes one parsed envelope. It is the stream session's Handler.
func (r *Reconciler) Handle(envelope stream.Envelope) {
	switch {
	case envelope.Topic == topicOrder:
		r.handleOrders(envelope)
	case strings.HasPrefix(envelope.Topic, topicTickerPrefix):
		r.handleTicker(envelope)
	case strings.HasPrefix(envelope.Topic, topicTradePrefix):
		r.handleTrades(envelope)
	default:
		observability.Log().Debug("unhandled stream topic",
			observability.F("topic", envelope.Topic))
	}
}

func (r *Reconciler) handleOrders(envelope stream.Envelope) {
	if r.opts.Registry == nil || r.opts.OnOrder == nil {
		return
	}
	var updates []bybit.OrderSnapshot
	if err := json.Unmarshal(envelope.Data, &updates); err != nil {
		observability.Log().Warn("order update did not parse",
			observability.F("error", err.Error()))
		return
	}
	for i := range updates {
		r.ApplySnapshot(&updates[i], envelope.TS.Time)
	}
}

// ApplySnapshot maps one order snapshot onto at most one visible event.
// Unknown broker ids are dropped; a terminal transition fires exactly once
// even if the exchange repeats it. The order lock is held across lookup
// and emission, so a REST placement in flight finishes registering its
// broker id before any stream update for that order is resolved. Sessions
// also call this directly when resyncing order state after a reconnect.
func (r *Reconciler) ApplySnapshot(update *bybit.OrderSnapshot, at time.Time) {
	if r.opts.Registry == nil || r.opts.OnOrder == nil {
		return
	}
	r.opts.OrderLock.Lock()
	defer r.opts.OrderLock.Unlock()

	order, ok := r.opts.Registry.FindByBrokerID(update.OrderID)
	if !ok {
		observability.Log().Debug("order update for unknown broker id",
			observability.F("order_id", update.OrderID))
		return
	}

	var kind OrderEventKind
	switch update.OrderStatus {
	case bybit.StatusFilled:
		kind = OrderFilled
	case bybit.StatusCancelled, bybit.StatusDeactivated:
		kind = OrderCanceled
	default:
		observability.Log().Debug("order status update",
			observability.F("order_id", update.OrderID),
			observability.F("status", string(update.OrderStatus)))
		return
	}

	r.mu.Lock()
	if _, seen := r.terminal[update.OrderID]; seen {
		r.mu.Unlock()
		return
	}
	r.terminal[update.OrderID] = struct{}{}
	r.mu.Unlock()

	event := OrderEvent{
		Kind:        kind,
		Order:       order,
		BrokerID:    update.OrderID,
		Quantity:    update.CumExecQty.Decimal,
		Price:       update.AvgPrice.Decimal,
		Fee:         update.CumExecFee.Decimal,
		FeeCurrency: update.FeeCurrency,
		At:          at,
	}
	r.opts.OnOrder(event)
}

// tickerUpdate mirrors the tickers topic payload. Delta frames may omit
// either side entirely.
type tickerUpdate struct {
	Symbol    string          `json:"symbol"`
	Bid1Price numeric.Decimal `json:"bid1Price"`
	Bid1Size  numeric.Decimal `json:"bid1Size"`
	Ask1Price numeric.Decimal `json:"ask1Price"`
	Ask1Size  numeric.Decimal `json:"ask1Size"`
}

// handleTicker emits a Quote only when both sides carry price and size;
// partial snapshots are dropped.
func (r *Reconciler) handleTicker(envelope stream.Envelope) {
	if r.opts.Sink == nil {
		return
	}
	var update tickerUpdate
	if err := json.Unmarshal(envelope.Data, &update); err != nil {
		observability.Log().Warn("ticker update did not parse",
			observability.F("topic", envelope.Topic),
			observability.F("error", err.Error()))
		return
	}
	if !update.Bid1Price.IsPositive() || !update.Bid1Size.IsPositive() ||
		!update.Ask1Price.IsPositive() || !update.Ask1Size.IsPositive() {
		return
	}
	symbol := update.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(envelope.Topic, topicTickerPrefix)
	}
	quote := Quote{
		Symbol:   symbol,
		BidPrice: update.Bid1Price.Decimal,
		BidSize:  update.Bid1Size.Decimal,
		AskPrice: update.Ask1Price.Decimal,
		AskSize:  update.Ask1Size.Decimal,
		At:       envelope.TS.Time,
	}
	r.opts.TickLock.Lock()
	defer r.opts.TickLock.Unlock()
	r.opts.Sink.PushQuote(quote)
	r.opts.Metrics.RecordTick(context.Background(), "quote")
}

// tradeRow mirrors one publicTrade entry.
type tradeRow struct {
	Time   numeric.TimeMS  `json:"T"`
	Symbol string          `json:"s"`
	Side   bybit.Side      `json:"S"`
	Size   numeric.Decimal `json:"v"`
	Price  numeric.Decimal `json:"p"`
}

// handleTrades always emits a Trade tick per well-formed row; malformed
// rows are logged and skipped.
func (r *Reconciler) handleTrades(envelope stream.Envelope) {
	if r.opts.Sink == nil {
		return
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(envelope.Data, &rows); err != nil {
		observability.Log().Warn("trade update did not parse",
			observability.F("topic", envelope.Topic),
			observability.F("error", err.Error()))
		return
	}
	for _, raw := range rows {
		var row tradeRow
		if err := json.Unmarshal(raw, &row); err != nil {
			observability.Log().Warn("trade row skipped",
				observability.F("topic", envelope.Topic),
				observability.F("error", err.Error()))
			continue
		}
		trade := Trade{
			Symbol: row.Symbol,
			Side:   row.Side,
			Price:  row.Price.Decimal,
			Size:   row.Size.Decimal,
			At:     row.Time.Time,
		}
		r.opts.TickLock.Lock()
		r.opts.Sink.PushTrade(trade)
		r.opts.Metrics.RecordTick(context.Background(), "trade")
		r.opts.TickLock.Unlock()
	}
}
