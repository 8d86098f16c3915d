// Package rest implements the signed, rate-limited HTTP surface of the
// exchange: request signing, envelope unwrapping, and cursor pagination.
package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/numeric"
	"github.com/tidemark/bybitconn/internal/telemetry"
)

const venue = "bybit"

// Request describes one REST call before signing.
type Request struct {
	Method       string
	Path         string
	Query        *Params
	Body         any
	Authenticate bool
}

// Envelope is the outer wrapper common to all REST responses. The business
// return code travels separately from the HTTP status.
type Envelope struct {
	RetCode    int64           `json:"retCode"`
	RetMsg     string          `json:"retMsg"`
	Result     json.RawMessage `json:"result"`
	RetExtInfo json.RawMessage `json:"retExtInfo"`
	Time       numeric.TimeMS  `json:"time"`
}

// Transport executes signed requests against the exchange and unwraps the
// response envelope. One instance per client; signer and gate are its only
// shared mutable state and both are safe for concurrent use.
type Transport struct {
	baseURL    string
	client     *http.Client
	signer     *Signer
	gate       *Gate
	recvWindow time.Duration
	clock      func() time.Time
	metrics    *telemetry.Metrics
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithClock overrides the timestamp source, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(t *Transport) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithRecvWindow sets the X-BAPI-RECV-WINDOW tolerance on signed calls.
func WithRecvWindow(window time.Duration) Option {
	return func(t *Transport) {
		t.recvWindow = window
	}
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(t *Transport) {
		t.metrics = metrics
	}
}

// NewTransport builds a transport for the base URL using the given signer
// and rate gate.
func NewTransport(baseURL string, signer *Signer, gate *Gate, opts ...Option) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
		gate:    gate,
		clock:   time.Now,
	}
	if t.signer == nil {
		t.signer = NewSigner("", "")
	}
	if t.gate == nil {
		t.gate = NewGate(0, 0)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Do executes the request and decodes the envelope result into out. A nil
// out discards the result payload. Errors preserve the exchange's own
// code and message verbatim.
func (t *Transport) Do(ctx context.Context, req Request, out any) error {
	if err := t.gate.Wait(ctx); err != nil {
		return err
	}

	query := ""
	if req.Query != nil {
		query = req.Query.Encode()
	}

	var bodyBytes []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return errs.New(venue, errs.CodeInvalid,
				errs.WithMessage("encode request body"),
				errs.WithField("endpoint", req.Path),
				errs.WithCause(err))
		}
		bodyBytes = encoded
	}

	endpoint := t.baseURL + req.Path
	if query != "" {
		endpoint += "?" + query
	}

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, reader)
	if err != nil {
		return errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("create request"),
			errs.WithField("endpoint", req.Path),
			errs.WithCause(err))
	}
	if bodyBytes != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Authenticate {
		queryOrBody := query
		if req.Method != http.MethodGet && bodyBytes != nil {
			queryOrBody = string(bodyBytes)
		}
		timestamp := t.clock().UTC().UnixMilli()
		httpReq.Header.Set("X-BAPI-SIGN", t.signer.SignRequest(timestamp, queryOrBody))
		httpReq.Header.Set("X-BAPI-API-KEY", t.signer.APIKey())
		httpReq.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		httpReq.Header.Set("X-BAPI-SIGN-TYPE", SignTypeHMAC)
		if t.recvWindow > 0 {
			httpReq.Header.Set("X-BAPI-RECV-WINDOW", strconv.FormatInt(t.recvWindow.Milliseconds(), 10))
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.record(ctx, req.Path, "network_error")
		return errs.New(venue, errs.CodeNetwork,
			errs.WithMessage("execute request"),
			errs.WithField("endpoint", req.Path),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		t.record(ctx, req.Path, "network_error")
		return errs.New(venue, errs.CodeNetwork,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("read response body"),
			errs.WithField("endpoint", req.Path),
			errs.WithCause(err))
	}

	if resp.StatusCode != http.StatusOK {
		t.record(ctx, req.Path, "http_error")
		code := errs.CodeNetwork
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = errs.CodeAuth
		} else if resp.StatusCode == http.StatusTooManyRequests {
			code = errs.CodeRateLimited
		}
		return errs.New(venue, code,
			errs.WithHTTP(resp.StatusCode),
			errs.WithField("endpoint", req.Path),
			errs.WithRawBody(strings.TrimSpace(string(raw))))
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.record(ctx, req.Path, "decode_error")
		return errs.New(venue, errs.CodeDecode,
			errs.WithMessage("decode response envelope"),
			errs.WithField("endpoint", req.Path),
			errs.WithRawBody(strings.TrimSpace(string(raw))),
			errs.WithCause(err))
	}

	if envelope.RetCode != 0 {
		t.record(ctx, req.Path, "exchange_error")
		return errs.New(venue, errs.CodeExchange,
			errs.WithRetCode(envelope.RetCode),
			errs.WithRetMsg(envelope.RetMsg),
			errs.WithField("endpoint", req.Path),
			errs.WithRawBody(strings.TrimSpace(string(raw))))
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			t.record(ctx, req.Path, "decode_error")
			return errs.New(venue, errs.CodeDecode,
				errs.WithMessage("decode result payload"),
				errs.WithField("endpoint", req.Path),
				errs.WithRawBody(strings.TrimSpace(string(envelope.Result))),
				errs.WithCause(err))
		}
	}

	t.record(ctx, req.Path, "ok")
	return nil
}

// Clock exposes the transport's timestamp source.
func (t *Transport) Clock() func() time.Time { return t.clock }

// Signer exposes the signer for auth frames on the stream side.
func (t *Transport) Signer() *Signer { return t.signer }

func (t *Transport) record(ctx context.Context, endpoint, result string) {
	if t.metrics != nil {
		t.metrics.RecordRESTRequest(ctx, endpoint, result)
	}
}
