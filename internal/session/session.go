// Package session ties one set of credentials to a REST client, a stream
// session, and a reconciler, and enforces the ordering contract between
// REST order actions and streaming order updates.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/config"
	"github.com/tidemark/bybitconn/internal/bybit"
	"github.com/tidemark/bybitconn/internal/observability"
	"github.com/tidemark/bybitconn/internal/reconcile"
	"github.com/tidemark/bybitconn/internal/rest"
	"github.com/tidemark/bybitconn/internal/stream"
	"github.com/tidemark/bybitconn/internal/telemetry"
)

const privateOrderTopic = "order"

// SymbolTranslator maps between caller-side symbol names and the
// exchange's native instrument names. Sessions without a translator use
// symbols as-is.
type SymbolTranslator interface {
	ToExchange(symbol string) string
	FromExchange(symbol string) string
}

// Session is one brokerage session: credentials, rate limiter, tracked
// orders, tick lock, stream connections, and the reconciler stitching them
// together. Order actions and streaming order updates are serialized under
// a single mutex, so a placement has its broker id registered and its
// Submitted event emitted before any stream update for that order is
// resolved.
type Session struct {
	category bybit.Category
	client   *bybit.Client
	streams  *stream.Session
	rec      *reconcile.Reconciler
	metrics  *telemetry.Metrics
	clock    func() time.Time
	onOrder  reconcile.OrderEventHandler
	symbols  SymbolTranslator

	// orderMu is the locked-stream critical section shared with the
	// reconciler. tickMu serializes sink pushes.
	orderMu sync.Mutex
	tickMu  sync.Mutex

	trackMu  sync.Mutex
	byBroker map[string]*bybit.OrderIntent
	byLink   map[string]*bybit.OrderIntent

	ctx    context.Context
	cancel context.CancelFunc
	errc   chan error

	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*options)

type options struct {
	client     *bybit.Client
	streams    *stream.Session
	metrics    *telemetry.Metrics
	clock      func() time.Time
	translator SymbolTranslator
}

// WithClient injects a pre-built REST client, primarily for tests.
func WithClient(client *bybit.Client) Option {
	return func(o *options) { o.client = client }
}

// WithStreamSession injects a pre-built stream session.
func WithStreamSession(streams *stream.Session) Option {
	return func(o *options) { o.streams = streams }
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithClock overrides the session clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithSymbolTranslator maps subscription symbols to the exchange's
// instrument names on the way out and tick symbols back on the way in.
func WithSymbolTranslator(translator SymbolTranslator) Option {
	return func(o *options) { o.translator = translator }
}

// New builds a session for one product category. sink receives Quote and
// Trade ticks; onOrder receives Submitted, Filled, and Canceled events.
func New(cfg config.Settings, category bybit.Category, sink reconcile.TickSink, onOrder reconcile.OrderEventHandler, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	if o.translator != nil && sink != nil {
		sink = translatingSink{next: sink, symbols: o.translator}
	}

	s := &Session{
		category: category,
		metrics:  o.metrics,
		clock:    o.clock,
		onOrder:  onOrder,
		symbols:  o.translator,
		byBroker: make(map[string]*bybit.OrderIntent),
		byLink:   make(map[string]*bybit.OrderIntent),
		errc:     make(chan error, 32),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	client := o.client
	if client == nil {
		var err error
		client, err = bybit.NewClient(category, cfg, bybit.WithMetrics(o.metrics))
		if err != nil {
			s.cancel()
			return nil, err
		}
	}
	s.client = client

	s.rec = reconcile.New(reconcile.Options{
		Registry:  s,
		Sink:      sink,
		OnOrder:   onOrder,
		TickLock:  &s.tickMu,
		OrderLock: &s.orderMu,
		Metrics:   o.metrics,
	})

	streams := o.streams
	if streams == nil {
		var err error
		streams, err = stream.NewSession(stream.Options{
			PublicURL:      cfg.Websocket.PublicURL + "/" + string(category),
			PrivateURL:     cfg.Websocket.PrivateURL,
			Signer:         rest.NewSigner(cfg.Credentials.APIKey, cfg.Credentials.APISecret),
			MaxArgsPerConn: cfg.Websocket.MaxArgsPerConn,
			ControlRate:    cfg.Websocket.ControlRate,
			Keepalive:      cfg.Websocket.KeepaliveEvery,
			Handshake:      cfg.Websocket.HandshakeTimeout,
			AuthWindow:     cfg.Websocket.AuthWindow,
			Clock:          o.clock,
			Metrics:        o.metrics,
		}, s.rec.Handle, s.errc)
		if err != nil {
			s.cancel()
			return nil, err
		}
	}
	s.streams = streams
	return s, nil
}

// Start opens the private connection and begins order-state resync on every
// (re)connect. Callers without credentials can skip Start and use the
// public surface only.
func (s *Session) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		err = s.streams.ConnectPrivate(ctx, privateOrderTopic)
		if err != nil {
			return
		}
		go s.resyncLoop()
	})
	return err
}

// Errors exposes stream-side problems. The channel is never closed; drain
// it or drop it.
func (s *Session) Errors() <-chan error { return s.errc }

// Client exposes the REST surface for reads the session does not wrap.
func (s *Session) Client() *bybit.Client { return s.client }

// SubscribeQuotes subscribes the tickers topic for the symbols.
func (s *Session) SubscribeQuotes(ctx context.Context, symbols ...string) error {
	return s.streams.Subscribe(ctx, s.topics("tickers.", symbols)...)
}

// SubscribeTrades subscribes the publicTrade topic for the symbols.
func (s *Session) SubscribeTrades(ctx context.Context, symbols ...string) error {
	return s.streams.Subscribe(ctx, s.topics("publicTrade.", symbols)...)
}

// UnsubscribeQuotes removes the tickers topic for the symbols.
func (s *Session) UnsubscribeQuotes(ctx context.Context, symbols ...string) error {
	return s.streams.Unsubscribe(ctx, s.topics("tickers.", symbols)...)
}

// UnsubscribeTrades removes the publicTrade topic for the symbols.
func (s *Session) UnsubscribeTrades(ctx context.Context, symbols ...string) error {
	return s.streams.Unsubscribe(ctx, s.topics("publicTrade.", symbols)...)
}

func (s *Session) topics(prefix string, symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if s.symbols != nil {
			symbol = s.symbols.ToExchange(symbol)
		}
		out = append(out, prefix+symbol)
	}
	return out
}

// translatingSink rewrites tick symbols back to the caller's naming
// before handing them to the configured sink.
type translatingSink struct {
	next    reconcile.TickSink
	symbols SymbolTranslator
}

func (t translatingSink) PushQuote(quote reconcile.Quote) {
	quote.Symbol = t.symbols.FromExchange(quote.Symbol)
	t.next.PushQuote(quote)
}

func (t translatingSink) PushTrade(trade reconcile.Trade) {
	trade.Symbol = t.symbols.FromExchange(trade.Symbol)
	t.next.PushTrade(trade)
}

// PlaceOrder submits the intent inside the locked-stream critical section:
// the broker id is registered and the Submitted event emitted before any
// streaming update for this order can be reconciled.
func (s *Session) PlaceOrder(ctx context.Context, intent *bybit.OrderIntent) (bybit.OrderAck, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	ack, err := s.client.Trade.PlaceOrder(ctx, intent)
	if err != nil {
		return bybit.OrderAck{}, err
	}
	s.track(intent)
	s.emit(reconcile.OrderEvent{
		Kind:     reconcile.OrderSubmitted,
		Order:    intent,
		BrokerID: ack.OrderID,
		Quantity: intent.Quantity,
		At:       s.clock(),
	})
	return ack, nil
}

// AmendOrder amends a tracked or externally known order under the same
// critical section.
func (s *Session) AmendOrder(ctx context.Context, ref bybit.OrderRef, qty, limitPrice, triggerPrice decimal.Decimal) (bybit.OrderAck, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return s.client.Trade.AmendOrder(ctx, ref, qty, limitPrice, triggerPrice)
}

// CancelOrder cancels under the critical section. The Canceled event
// arrives later via the stream, reconciled against the tracked order.
func (s *Session) CancelOrder(ctx context.Context, ref bybit.OrderRef, conditional bool) (bybit.OrderAck, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return s.client.Trade.CancelOrder(ctx, ref, conditional)
}

// FindByBrokerID resolves a broker order id to the tracked intent. It is
// the reconciler's registry.
func (s *Session) FindByBrokerID(brokerID string) (*bybit.OrderIntent, bool) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	order, ok := s.byBroker[brokerID]
	return order, ok
}

// track indexes the intent by broker id and link id.
func (s *Session) track(intent *bybit.OrderIntent) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	for _, id := range intent.BrokerOrderIDs {
		s.byBroker[id] = intent
	}
	if intent.OrderLinkID != "" {
		s.byLink[intent.OrderLinkID] = intent
	}
}

func (s *Session) emit(event reconcile.OrderEvent) {
	if s.onOrder != nil {
		s.onOrder(event)
	}
}

// resyncLoop re-pulls open orders every time the private connection comes
// up. The stream does not replay events missed while disconnected, so the
// snapshots are pushed through the reconciler to surface terminal
// transitions that happened in the gap.
func (s *Session) resyncLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.streams.PrivateUp():
			if err := s.resync(s.ctx); err != nil {
				s.reportError(err)
			}
		}
	}
}

func (s *Session) resync(ctx context.Context) error {
	snapshots, err := s.client.Trade.GetOpenOrders(ctx, "")
	if err != nil {
		return err
	}
	now := s.clock()
	for i := range snapshots {
		snapshot := &snapshots[i]
		s.adopt(snapshot)
		s.rec.ApplySnapshot(snapshot, now)
	}
	observability.Log().Info("order state resynced",
		observability.F("orders", len(snapshots)))
	return nil
}

// adopt links a snapshot back to a tracked intent by link id when the
// broker id is not indexed yet, e.g. when the ack was lost to a timeout.
func (s *Session) adopt(snapshot *bybit.OrderSnapshot) {
	if snapshot.OrderID == "" || snapshot.OrderLinkID == "" {
		return
	}
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if _, ok := s.byBroker[snapshot.OrderID]; ok {
		return
	}
	order, ok := s.byLink[snapshot.OrderLinkID]
	if !ok {
		return
	}
	order.AttachBrokerID(snapshot.OrderID)
	s.byBroker[snapshot.OrderID] = order
}

func (s *Session) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case s.errc <- err:
	default:
		observability.Log().Warn("session error dropped",
			observability.F("error", err.Error()))
	}
}

// Close stops the resync loop and tears down all stream connections.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.streams.Close(ctx)
	})
	return err
}

var _ reconcile.OrderRegistry = (*Session)(nil)
