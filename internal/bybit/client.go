package bybit

import (
	"net/http"

	"github.com/tidemark/bybitconn/config"
	"github.com/tidemark/bybitconn/internal/rest"
	"github.com/tidemark/bybitconn/internal/telemetry"
)

// Client is the typed v5 API surface for one product category. Credentials
// and category are fixed at construction; the rate gate and signer are the
// only shared mutable state, so one instance is safe for concurrent callers.
// Multiple independent clients never share limiter state.
type Client struct {
	category  Category
	transport *rest.Transport
	metrics   *telemetry.Metrics

	Market   *MarketClient
	Account  *AccountClient
	Position *PositionClient
	Trade    *TradeClient
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	transport *rest.Transport
	metrics   *telemetry.Metrics
	prices    PriceSource
}

// WithTransport injects a pre-built transport, primarily for tests.
func WithTransport(transport *rest.Transport) Option {
	return func(o *clientOptions) { o.transport = transport }
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *clientOptions) { o.metrics = metrics }
}

// WithPriceSource overrides the reference-price lookup used while building
// conditional orders. Sessions use this to consult cached quotes before
// falling back to REST.
func WithPriceSource(prices PriceSource) Option {
	return func(o *clientOptions) { o.prices = prices }
}

// NewClient builds a client for the category from the given settings.
func NewClient(category Category, cfg config.Settings, opts ...Option) (*Client, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	var options clientOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	transport := options.transport
	if transport == nil {
		signer := rest.NewSigner(cfg.Credentials.APIKey, cfg.Credentials.APISecret)
		gate := rest.NewGate(cfg.REST.RequestsPerSecond, cfg.REST.Burst)
		transportOpts := []rest.Option{
			rest.WithHTTPClient(&http.Client{Timeout: cfg.REST.HTTPTimeout}),
			rest.WithRecvWindow(cfg.REST.RecvWindow),
		}
		if options.metrics != nil {
			transportOpts = append(transportOpts, rest.WithMetrics(options.metrics))
		}
		transport = rest.NewTransport(cfg.REST.BaseURL, signer, gate, transportOpts...)
	}

	c := &Client{
		category:  category,
		transport: transport,
		metrics:   options.metrics,
	}
	c.Market = &MarketClient{c: c}
	c.Account = &AccountClient{c: c}
	c.Position = &PositionClient{c: c}

	prices := options.prices
	if prices == nil {
		prices = &tickerPriceSource{market: c.Market}
	}
	c.Trade = &TradeClient{c: c, builder: NewOrderBuilder(category, prices)}
	return c, nil
}

// Category returns the product category the client was built for.
func (c *Client) Category() Category { return c.category }

// Transport exposes the underlying signed transport.
func (c *Client) Transport() *rest.Transport { return c.transport }

// Builder returns the order-request builder bound to this client.
func (c *Client) Builder() *OrderBuilder { return c.Trade.builder }

func (c *Client) query() *rest.Params {
	return rest.NewParams().Set("category", string(c.category))
}
