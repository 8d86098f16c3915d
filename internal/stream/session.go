package stream

import (
	"context"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/observability"
	"github.com/tidemark/bybitconn/internal/rest"
	"github.com/tidemark/bybitconn/internal/telemetry"
	"github.com/tidemark/bybitconn/lib/async"
)

const (
	// DefaultMaxArgsPerConn caps the topic set one public connection owns.
	DefaultMaxArgsPerConn = 10
	// DefaultMaxPublicConns bounds how many public connections a session
	// opens before refusing new topics.
	DefaultMaxPublicConns = 10
	// DefaultControlRate paces subscribe/unsubscribe/ping frames per session.
	DefaultControlRate = 3

	defaultWorkers    = 4
	defaultQueueDepth = 64
	defaultAuthWindow = 10 * time.Second
)

// Handler consumes parsed data frames. It runs on pool workers, one frame
// at a time per connection.
type Handler func(Envelope)

// Options configures a Session.
type Options struct {
	PublicURL  string
	PrivateURL string
	// Signer authenticates the private connection. Nil means public only.
	Signer *rest.Signer

	MaxArgsPerConn int
	MaxPublicConns int
	ControlRate    float64
	Keepalive      time.Duration
	Handshake      time.Duration
	AuthWindow     time.Duration

	Workers    int
	QueueDepth int

	Clock   func() time.Time
	Metrics *telemetry.Metrics
}

func (o *Options) fill() {
	if o.MaxArgsPerConn <= 0 {
		o.MaxArgsPerConn = DefaultMaxArgsPerConn
	}
	if o.MaxPublicConns <= 0 {
		o.MaxPublicConns = DefaultMaxPublicConns
	}
	if o.ControlRate <= 0 {
		o.ControlRate = DefaultControlRate
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	if o.AuthWindow <= 0 {
		o.AuthWindow = defaultAuthWindow
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Session multiplexes stream topics over a set of public connections, each
// owning a disjoint capacity-bounded topic set, plus one authenticated
// private connection. Control frames across all connections share one
// limiter because the exchange throttles subscription churn per session.
type Session struct {
	opts    Options
	handler Handler
	errc    chan<- error

	ctx     context.Context
	cancel  context.CancelFunc
	control *rate.Limiter
	pool    *async.Pool

	mu      sync.Mutex
	public  []*conn
	owner   map[string]*conn
	private *conn
	closed  bool

	privateUp chan struct{}
}

// NewSession builds a session. handler receives every parsed data frame;
// errc, if non-nil, receives transport and parse problems without ever
// stopping the stream.
func NewSession(opts Options, handler Handler, errc chan<- error) (*Session, error) {
	if handler == nil {
		return nil, errs.New("bybit", errs.CodeInvalid,
			errs.WithMessage("stream session requires a handler"))
	}
	opts.fill()
	pool, err := async.NewPool(opts.Workers, opts.QueueDepth)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:      opts,
		handler:   handler,
		errc:      errc,
		ctx:       ctx,
		cancel:    cancel,
		control:   rate.NewLimiter(rate.Limit(opts.ControlRate), 1),
		pool:      pool,
		owner:     make(map[string]*conn),
		privateUp: make(chan struct{}, 1),
	}, nil
}

// Subscribe assigns each topic to a public connection with spare capacity,
// opening new connections as needed up to the configured maximum. Topics
// already subscribed are ignored.
func (s *Session) Subscribe(ctx context.Context, topics ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("bybit", errs.CodeUnavailable, errs.WithMessage("session closed"))
	}
	batches := make(map[*conn][]string)
	for _, topic := range topics {
		if _, ok := s.owner[topic]; ok {
			continue
		}
		target, err := s.placeLocked(topic, batches)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.owner[topic] = target
		batches[target] = append(batches[target], topic)
	}
	s.mu.Unlock()

	for target, assigned := range batches {
		if err := target.subscribe(ctx, assigned); err != nil {
			return err
		}
	}
	return nil
}

// placeLocked picks the connection for one new topic, counting assignments
// pending in the current batch against capacity.
func (s *Session) placeLocked(topic string, pending map[*conn][]string) (*conn, error) {
	for _, c := range s.public {
		if c.assignedCount()+len(pending[c]) < s.opts.MaxArgsPerConn {
			return c, nil
		}
	}
	if len(s.public) >= s.opts.MaxPublicConns {
		return nil, errs.New("bybit", errs.CodeSubscriptionLimit,
			errs.WithMessage("all stream connections at capacity"),
			errs.WithField("topic", topic),
			errs.WithField("connections", strconv.Itoa(len(s.public))))
	}
	c := newConn(s.ctx, "public", s.opts.PublicURL, s.control,
		s.opts.Keepalive, s.opts.Handshake, s.errc, s.opts.Metrics)
	if err := c.start(); err != nil {
		return nil, err
	}
	go s.dispatch(c)
	s.public = append(s.public, c)
	return c, nil
}

// Unsubscribe removes topics from their owning connections.
func (s *Session) Unsubscribe(ctx context.Context, topics ...string) error {
	s.mu.Lock()
	batches := make(map[*conn][]string)
	for _, topic := range topics {
		owner, ok := s.owner[topic]
		if !ok {
			continue
		}
		delete(s.owner, topic)
		batches[owner] = append(batches[owner], topic)
	}
	s.mu.Unlock()

	for owner, removed := range batches {
		if err := owner.unsubscribe(ctx, removed); err != nil {
			return err
		}
	}
	return nil
}

// ConnectPrivate opens the authenticated connection and subscribes the
// given private topics. Every successful (re)connect, first included, is
// signalled on PrivateUp so the owner can resync order state.
func (s *Session) ConnectPrivate(ctx context.Context, topics ...string) error {
	if s.opts.Signer == nil {
		return errs.New("bybit", errs.CodeAuth,
			errs.WithMessage("private stream requires credentials"))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("bybit", errs.CodeUnavailable, errs.WithMessage("session closed"))
	}
	if s.private != nil {
		s.mu.Unlock()
		return errs.New("bybit", errs.CodeInvalid,
			errs.WithMessage("private stream already connected"))
	}
	c := newConn(s.ctx, "private", s.opts.PrivateURL, s.control,
		s.opts.Keepalive, s.opts.Handshake, s.errc, s.opts.Metrics)
	c.onConnect = s.authenticate
	c.notify = func() {
		select {
		case s.privateUp <- struct{}{}:
		default:
		}
	}
	s.private = c
	s.mu.Unlock()

	c.topicsMu.Lock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
	c.topicsMu.Unlock()

	if err := c.start(); err != nil {
		s.mu.Lock()
		s.private = nil
		s.mu.Unlock()
		return err
	}
	go s.dispatch(c)
	return nil
}

// PrivateUp signals each time the private connection has authenticated and
// resubscribed, including the initial connect. Missed signals coalesce.
func (s *Session) PrivateUp() <-chan struct{} { return s.privateUp }

// authenticate sends the auth frame and is called before resubscription on
// every private (re)connect.
func (s *Session) authenticate(ctx context.Context, c *conn) error {
	expires := s.opts.Clock().Add(s.opts.AuthWindow).UnixMilli()
	signature := s.opts.Signer.SignWebsocketAuth(expires)
	return c.send(ctx, controlFrame{
		Op:   opAuth,
		Args: []any{s.opts.Signer.APIKey(), expires, signature},
	})
}

// Close tears down every connection and drains the parse pool.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.public)+1)
	conns = append(conns, s.public...)
	if s.private != nil {
		conns = append(conns, s.private)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.stop()
	}
	return s.pool.Shutdown(ctx)
}

// dispatch is the single consumer of one connection's raw queue. Each frame
// is parsed on a pool worker; the consumer waits for completion so frames
// from one connection never reorder, while the pool bounds parse work
// across all connections.
func (s *Session) dispatch(c *conn) {
	for data := range c.raw {
		payload := data
		done := make(chan struct{})
		err := s.pool.Submit(s.ctx, func(context.Context) error {
			defer close(done)
			s.handle(payload)
			return nil
		})
		if err != nil {
			s.opts.Metrics.RecordStreamDropped(s.ctx, "pool_saturated")
			continue
		}
		select {
		case <-done:
		case <-s.ctx.Done():
			return
		}
	}
}

// handle parses one data frame. Malformed frames are reported and skipped,
// never fatal to the stream.
func (s *Session) handle(data []byte) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.reportParse(data, err)
		return
	}
	if envelope.Topic == "" {
		s.reportParse(data, nil)
		return
	}
	s.handler(envelope)
}

func (s *Session) reportParse(data []byte, cause error) {
	s.opts.Metrics.RecordStreamDropped(s.ctx, "malformed")
	observability.Log().Warn("malformed stream frame",
		observability.F("bytes", len(data)))
	if s.errc == nil {
		return
	}
	opts := []errs.Option{
		errs.WithMessage("stream frame did not parse"),
		errs.WithRawBody(string(data)),
	}
	if cause != nil {
		opts = append(opts, errs.WithCause(cause))
	}
	err := errs.New("bybit", errs.CodeDecode, opts...)
	select {
	case s.errc <- err:
	default:
	}
}
