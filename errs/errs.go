// Package errs provides structured error types shared across the connectivity core.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category raised by the connectivity core.
type Code string

const (
	// CodeNetwork indicates an HTTP transport failure (non-200 status or I/O error).
	CodeNetwork Code = "network"
	// CodeExchange indicates a business rejection carried inside a 200 envelope.
	CodeExchange Code = "exchange_error"
	// CodeDecode indicates a response body that did not parse as the expected envelope.
	CodeDecode Code = "decode"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodePriceUnavailable indicates that trigger-direction resolution found no reference price.
	CodePriceUnavailable Code = "price_unavailable"
	// CodeSubscriptionLimit indicates a per-connection stream subscription cap was reached.
	CodeSubscriptionLimit Code = "subscription_limit"
	// CodeUnavailable indicates a component that is closed or saturated.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the core.
type E struct {
	Venue    string
	Code     Code
	HTTP     int
	RetCode  int64
	RetMsg   string
	Message  string
	RawBody  string
	Metadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue: strings.TrimSpace(venue),
		Code:  code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRetCode captures the exchange business return code verbatim.
func WithRetCode(code int64) Option {
	return func(e *E) {
		e.RetCode = code
	}
}

// WithRetMsg captures the exchange business return message verbatim.
func WithRetMsg(msg string) Option {
	return func(e *E) {
		e.RetMsg = msg
	}
}

// WithRawBody preserves the raw response body for operator inspection.
func WithRawBody(body string) Option {
	return func(e *E) {
		e.RawBody = body
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.RetCode != 0 {
		parts = append(parts, "ret_code="+strconv.FormatInt(e.RetCode, 10))
	}
	if e.RetMsg != "" {
		parts = append(parts, "ret_msg="+strconv.Quote(e.RetMsg))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.RawBody != "" {
		parts = append(parts, "raw="+strconv.Quote(e.RawBody))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err is an *E carrying the given category.
func HasCode(err error, code Code) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// RetCodeOf extracts the exchange business return code from err, or zero.
func RetCodeOf(err error) int64 {
	var e *E
	if errors.As(err, &e) {
		return e.RetCode
	}
	return 0
}
