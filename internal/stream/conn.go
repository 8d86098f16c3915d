package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/observability"
	"github.com/tidemark/bybitconn/internal/telemetry"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	controlWriteTimeout     = 5 * time.Second
	// rawQueueDepth bounds the per-connection dispatch queue. A full queue
	// drops the newest frame rather than stalling the read loop.
	rawQueueDepth = 256
)

// conn owns one websocket connection: dialing, reconnect with exponential
// backoff, the read loop, keepalive pings, and resubscription of its
// assigned topics after every reconnect.
type conn struct {
	role string
	url  string

	ctx    context.Context
	cancel context.CancelFunc

	ws   *websocket.Conn
	wsMu sync.RWMutex

	topics   map[string]struct{}
	topicsMu sync.Mutex

	control   *rate.Limiter
	keepalive time.Duration
	handshake time.Duration

	// onConnect runs after each successful dial, before resubscription.
	// The private connection authenticates here.
	onConnect func(context.Context, *conn) error
	// notify runs after each fully established connection, once topics are
	// re-issued. The session uses it to trigger post-reconnect resync.
	notify func()

	raw     chan []byte
	errors  chan<- error
	metrics *telemetry.Metrics

	ready     chan struct{}
	readyOnce sync.Once
}

func newConn(parent context.Context, role, url string, control *rate.Limiter, keepalive, handshake time.Duration, errc chan<- error, metrics *telemetry.Metrics) *conn {
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(parent)
	return &conn{
		role:      role,
		url:       url,
		ctx:       ctx,
		cancel:    cancel,
		topics:    make(map[string]struct{}),
		control:   control,
		keepalive: keepalive,
		handshake: handshake,
		raw:       make(chan []byte, rawQueueDepth),
		errors:    errc,
		metrics:   metrics,
		ready:     make(chan struct{}),
	}
}

// start runs the connection loop in the background and waits for the first
// successful dial.
func (c *conn) start() error {
	go c.run()
	select {
	case <-c.ready:
		return nil
	case <-time.After(c.handshake):
		c.cancel()
		return errs.New("bybit", errs.CodeNetwork,
			errs.WithMessage("timeout waiting for websocket connection"),
			errs.WithField("url", c.url))
	case <-c.ctx.Done():
		return errs.New("bybit", errs.CodeNetwork,
			errs.WithMessage("websocket connection cancelled"),
			errs.WithCause(c.ctx.Err()))
	}
}

// stop tears the connection down and ends the loop.
func (c *conn) stop() {
	c.cancel()
	c.wsMu.Lock()
	if c.ws != nil {
		_ = c.ws.Close(websocket.StatusNormalClosure, "shutdown")
		c.ws = nil
	}
	c.wsMu.Unlock()
}

// run dials until cancelled, re-establishing state after every drop.
func (c *conn) run() {
	defer close(c.raw)
	policy := backoff.NewExponentialBackOff()
	first := true

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		ws, _, err := websocket.Dial(c.ctx, c.url, nil)
		if err != nil {
			c.report(fmt.Errorf("dial %s: %w", c.url, err))
			if !c.sleep(policy.NextBackOff()) {
				return
			}
			continue
		}

		c.wsMu.Lock()
		c.ws = ws
		c.wsMu.Unlock()
		policy.Reset()

		if c.onConnect != nil {
			if err := c.onConnect(c.ctx, c); err != nil {
				c.report(err)
				c.dropSocket(ws)
				if !c.sleep(policy.NextBackOff()) {
					return
				}
				continue
			}
		}
		if err := c.resubscribe(); err != nil {
			c.report(fmt.Errorf("resubscribe after reconnect: %w", err))
		}
		if !first {
			c.metrics.RecordStreamReconnect(c.ctx, c.role)
		}
		first = false
		c.readyOnce.Do(func() { close(c.ready) })
		if c.notify != nil {
			c.notify()
		}

		stopPing := make(chan struct{})
		go c.keepaliveLoop(stopPing)

		err = c.readLoop(ws)
		close(stopPing)
		c.dropSocket(ws)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			c.report(fmt.Errorf("read loop: %w", err))
		}
		if !c.sleep(policy.NextBackOff()) {
			return
		}
	}
}

func (c *conn) dropSocket(ws *websocket.Conn) {
	_ = ws.Close(websocket.StatusNormalClosure, "")
	c.wsMu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.wsMu.Unlock()
}

func (c *conn) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// assigned returns a snapshot of the topics this connection owns.
func (c *conn) assigned() []string {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}

func (c *conn) assignedCount() int {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()
	return len(c.topics)
}

// subscribe records the topics and issues a subscribe frame for the ones
// not already assigned.
func (c *conn) subscribe(ctx context.Context, topics []string) error {
	c.topicsMu.Lock()
	added := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, ok := c.topics[topic]; !ok {
			c.topics[topic] = struct{}{}
			added = append(added, topic)
		}
	}
	c.topicsMu.Unlock()
	if len(added) == 0 {
		return nil
	}
	return c.send(ctx, controlFrame{Op: opSubscribe, Args: subscribeArgs(added)})
}

// unsubscribe removes the topics and issues an unsubscribe frame for the
// ones that were assigned.
func (c *conn) unsubscribe(ctx context.Context, topics []string) error {
	c.topicsMu.Lock()
	removed := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, ok := c.topics[topic]; ok {
			delete(c.topics, topic)
			removed = append(removed, topic)
		}
	}
	c.topicsMu.Unlock()
	if len(removed) == 0 {
		return nil
	}
	return c.send(ctx, controlFrame{Op: opUnsubscribe, Args: subscribeArgs(removed)})
}

func (c *conn) resubscribe() error {
	topics := c.assigned()
	if len(topics) == 0 {
		return nil
	}
	return c.send(c.ctx, controlFrame{Op: opSubscribe, Args: subscribeArgs(topics)})
}

// send writes one control frame, paced by the shared control limiter.
func (c *conn) send(ctx context.Context, frame controlFrame) error {
	if err := c.control.Wait(ctx); err != nil {
		return fmt.Errorf("control pacing: %w", err)
	}
	c.wsMu.RLock()
	ws := c.ws
	c.wsMu.RUnlock()
	if ws == nil {
		return errs.New("bybit", errs.CodeNetwork,
			errs.WithMessage("websocket not connected"),
			errs.WithField("role", c.role))
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Op, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Op, err)
	}
	return nil
}

func (c *conn) keepaliveLoop(stop <-chan struct{}) {
	if c.keepalive <= 0 {
		return
	}
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(c.ctx, controlFrame{Op: opPing}); err != nil {
				c.report(fmt.Errorf("keepalive: %w", err))
			}
		}
	}
}

// readLoop pushes data frames into the dispatch queue and consumes control
// acks inline. A full queue drops the frame; the read loop never blocks on
// a slow consumer.
func (c *conn) readLoop(ws *websocket.Conn) error {
	for {
		msgType, data, err := ws.Read(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var ack controlAck
		if err := json.Unmarshal(data, &ack); err == nil && ack.Op != "" {
			if ack.Success != nil && !*ack.Success {
				c.report(errs.New("bybit", errs.CodeExchange,
					errs.WithMessage("control frame rejected"),
					errs.WithField("op", ack.Op),
					errs.WithField("ret_msg", ack.RetMsg)))
			}
			continue
		}

		select {
		case c.raw <- data:
		default:
			c.metrics.RecordStreamDropped(c.ctx, "queue_full")
			observability.Log().Warn("stream frame dropped",
				observability.F("role", c.role))
		}
	}
}

func (c *conn) report(err error) {
	if err == nil || c.errors == nil {
		return
	}
	select {
	case <-c.ctx.Done():
	case c.errors <- err:
	default:
	}
}
