package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/rest"
)

// newWSServer runs handler for every accepted websocket connection and
// returns the ws:// URL.
func newWSServer(t *testing.T, handler func(ctx context.Context, ws *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		handler(r.Context(), ws)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readFrame(ctx context.Context, t *testing.T, ws *websocket.Conn) controlFrame {
	t.Helper()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Logf("server read: %v", err)
			return controlFrame{}
		}
		var frame controlFrame
		if json.Unmarshal(data, &frame) == nil && frame.Op != "" {
			return frame
		}
	}
}

func TestSubscribeDeliversParsedFrames(t *testing.T) {
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		frame := readFrame(ctx, t, ws)
		if frame.Op != opSubscribe {
			return
		}
		_ = ws.Write(ctx, websocket.MessageText,
			[]byte(`{"op":"subscribe","success":true}`))
		_ = ws.Write(ctx, websocket.MessageText,
			[]byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT"}}`))
		<-ctx.Done()
	})

	got := make(chan Envelope, 1)
	session, err := NewSession(Options{PublicURL: url}, func(e Envelope) {
		select {
		case got <- e:
		default:
		}
	}, nil)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.Subscribe(context.Background(), "tickers.BTCUSDT"))

	select {
	case envelope := <-got:
		require.Equal(t, "tickers.BTCUSDT", envelope.Topic)
		require.Equal(t, "snapshot", envelope.Type)
		require.Equal(t, int64(1700000000000), envelope.TS.UnixMilli())
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestSubscribeSpreadsTopicsAcrossConnections(t *testing.T) {
	var conns atomic.Int64
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		conns.Add(1)
		for {
			if readFrame(ctx, t, ws).Op == "" {
				return
			}
		}
	})

	session, err := NewSession(Options{
		PublicURL:      url,
		MaxArgsPerConn: 1,
		MaxPublicConns: 3,
	}, func(Envelope) {}, nil)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.Subscribe(context.Background(),
		"tickers.BTCUSDT", "tickers.ETHUSDT", "tickers.SOLUSDT"))
	require.Eventually(t, func() bool { return conns.Load() == 3 },
		2*time.Second, 10*time.Millisecond,
		"each topic owns its own connection at capacity 1")

	for _, c := range session.public {
		require.Equal(t, 1, c.assignedCount(), "topic sets stay disjoint")
	}
}

func TestSubscribeBeyondCapacityFails(t *testing.T) {
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		for {
			if readFrame(ctx, t, ws).Op == "" {
				return
			}
		}
	})

	session, err := NewSession(Options{
		PublicURL:      url,
		MaxArgsPerConn: 2,
		MaxPublicConns: 1,
	}, func(Envelope) {}, nil)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.Subscribe(context.Background(), "tickers.BTCUSDT", "tickers.ETHUSDT"))
	err = session.Subscribe(context.Background(), "tickers.SOLUSDT")
	require.True(t, errs.HasCode(err, errs.CodeSubscriptionLimit))

	// Duplicate topics never consume capacity.
	require.NoError(t, session.Subscribe(context.Background(), "tickers.BTCUSDT"))
}

func TestPrivateConnectionAuthenticates(t *testing.T) {
	const (
		apiKey = "test-key"
		secret = "test-secret"
	)
	authed := make(chan controlFrame, 1)
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		frame := readFrame(ctx, t, ws)
		if frame.Op == opAuth {
			authed <- frame
			_ = ws.Write(ctx, websocket.MessageText, []byte(`{"op":"auth","success":true}`))
		}
		<-ctx.Done()
	})

	now := time.UnixMilli(1_700_000_000_000)
	session, err := NewSession(Options{
		PrivateURL: url,
		Signer:     rest.NewSigner(apiKey, secret),
		AuthWindow: 10 * time.Second,
		Clock:      func() time.Time { return now },
	}, func(Envelope) {}, nil)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.ConnectPrivate(context.Background(), "order"))

	select {
	case frame := <-authed:
		require.Len(t, frame.Args, 3)
		require.Equal(t, apiKey, frame.Args[0])
		expires := now.Add(10 * time.Second).UnixMilli()
		require.EqualValues(t, expires, frame.Args[1])
		require.Equal(t, rest.Sign(secret, "GET/realtime1700000010000"), frame.Args[2])
	case <-time.After(5 * time.Second):
		t.Fatal("no auth frame received")
	}

	select {
	case <-session.PrivateUp():
	case <-time.After(5 * time.Second):
		t.Fatal("private connect not signalled")
	}
}

func TestMalformedFrameIsReportedNotFatal(t *testing.T) {
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		frame := readFrame(ctx, t, ws)
		if frame.Op != opSubscribe {
			return
		}
		_ = ws.Write(ctx, websocket.MessageText, []byte(`this is not json`))
		_ = ws.Write(ctx, websocket.MessageText,
			[]byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":2,"data":[]}`))
		<-ctx.Done()
	})

	errc := make(chan error, 4)
	got := make(chan Envelope, 1)
	session, err := NewSession(Options{PublicURL: url}, func(e Envelope) {
		select {
		case got <- e:
		default:
		}
	}, errc)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.Subscribe(context.Background(), "publicTrade.BTCUSDT"))

	select {
	case envelope := <-got:
		require.Equal(t, "publicTrade.BTCUSDT", envelope.Topic,
			"the frame after the malformed one still flows")
	case <-time.After(5 * time.Second):
		t.Fatal("stream died on a malformed frame")
	}

	select {
	case reported := <-errc:
		require.True(t, errs.HasCode(reported, errs.CodeDecode))
	case <-time.After(time.Second):
		t.Fatal("malformed frame not reported")
	}
}

func TestUnsubscribeReleasesCapacity(t *testing.T) {
	url := newWSServer(t, func(ctx context.Context, ws *websocket.Conn) {
		for {
			if readFrame(ctx, t, ws).Op == "" {
				return
			}
		}
	})

	session, err := NewSession(Options{
		PublicURL:      url,
		MaxArgsPerConn: 1,
		MaxPublicConns: 1,
	}, func(Envelope) {}, nil)
	require.NoError(t, err)
	defer session.Close(context.Background())

	require.NoError(t, session.Subscribe(context.Background(), "tickers.BTCUSDT"))
	require.True(t, errs.HasCode(
		session.Subscribe(context.Background(), "tickers.ETHUSDT"),
		errs.CodeSubscriptionLimit))

	require.NoError(t, session.Unsubscribe(context.Background(), "tickers.BTCUSDT"))
	require.NoError(t, session.Subscribe(context.Background(), "tickers.ETHUSDT"))
}
