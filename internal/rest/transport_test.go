package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/numeric"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms).UTC() }
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTransport(server.URL, NewSigner("test-key", "test-secret"), NewGate(1000, 1000),
		WithClock(fixedClock(1700000000000)),
		WithRecvWindow(5*time.Second))
}

func TestDoAttachesAuthHeaders(t *testing.T) {
	var got http.Header
	var gotQuery string
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{},"time":1700000000000}`))
	})

	query := NewParams().Set("category", "linear").Set("symbol", "BTCUSDT")
	err := transport.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/v5/position/list",
		Query:        query,
		Authenticate: true,
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "test-key", got.Get("X-BAPI-API-KEY"))
	require.Equal(t, "1700000000000", got.Get("X-BAPI-TIMESTAMP"))
	require.Equal(t, SignTypeHMAC, got.Get("X-BAPI-SIGN-TYPE"))
	require.Equal(t, "5000", got.Get("X-BAPI-RECV-WINDOW"))
	// Signature covers timestamp+key+query exactly as transmitted.
	want := Sign("test-secret", "1700000000000test-keycategory=linear&symbol=BTCUSDT")
	require.Equal(t, want, got.Get("X-BAPI-SIGN"))
	require.Equal(t, "category=linear&symbol=BTCUSDT", gotQuery)
}

func TestDoPOSTSignsExactBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-BAPI-SIGN")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
	})

	body := map[string]string{"category": "linear", "symbol": "BTCUSDT"}
	err := transport.Do(context.Background(), Request{
		Method:       http.MethodPost,
		Path:         "/v5/order/create",
		Body:         body,
		Authenticate: true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, Sign("test-secret", "1700000000000test-key"+string(gotBody)), gotSig)
}

func TestDoNon200RaisesNetworkError(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream sad"))
	})

	err := transport.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v5/market/time"}, nil)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeNetwork))
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, http.StatusBadGateway, e.HTTP)
	require.Equal(t, "upstream sad", e.RawBody)
}

func TestDoBusinessErrorInside200(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	})

	err := transport.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v5/order/realtime"}, nil)
	require.True(t, errs.HasCode(err, errs.CodeExchange))
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.EqualValues(t, 10001, e.RetCode)
	require.Equal(t, "params error", e.RetMsg)
}

func TestDoMalformedEnvelopeIsDecodeError(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})

	err := transport.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v5/market/time"}, nil)
	require.True(t, errs.HasCode(err, errs.CodeDecode))
	// Distinct from a business rejection so callers can tell a broken
	// integration from a legitimate refusal.
	require.False(t, errs.HasCode(err, errs.CodeExchange))
}

func TestDoDecodesFlexibleNumericsInResult(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"a":"9e-8","b":9e-8,"c":"0.00000009"}}`))
	})

	var result struct {
		A numeric.Decimal `json:"a"`
		B numeric.Decimal `json:"b"`
		C numeric.Decimal `json:"c"`
	}
	require.NoError(t, transport.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &result))
	want := decimal.RequireFromString("0.00000009")
	require.True(t, result.A.Equal(want))
	require.True(t, result.B.Equal(want))
	require.True(t, result.C.Equal(want))
}

func TestDoRateLimitStatusMapsToRateLimited(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := transport.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.True(t, errs.HasCode(err, errs.CodeRateLimited))
}
