package bybit

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/numeric"
	"github.com/tidemark/bybitconn/internal/rest"
)

const (
	pathMarketTime  = "/v5/market/time"
	pathTickers     = "/v5/market/tickers"
	pathKline       = "/v5/market/kline"
	pathInstruments = "/v5/market/instruments-info"

	// maxKlinePageSize is the largest candle page the endpoint serves.
	maxKlinePageSize = 1000
	instrumentsLimit = 500
)

// MarketClient exposes public market-data endpoints.
type MarketClient struct {
	c *Client
}

type serverTimeResult struct {
	TimeSecond numeric.TimeSec `json:"timeSecond"`
	TimeNano   string          `json:"timeNano"`
}

// GetServerTime returns the exchange clock reading.
func (m *MarketClient) GetServerTime(ctx context.Context) (time.Time, error) {
	var result serverTimeResult
	err := m.c.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   pathMarketTime,
	}, &result)
	if err != nil {
		return time.Time{}, err
	}
	return result.TimeSecond.Time, nil
}

// GetTicker returns the current ticker snapshot for one symbol.
func (m *MarketClient) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	var result tickerResult
	err := m.c.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   pathTickers,
		Query:  m.c.query().Set("symbol", symbol),
	}, &result)
	if err != nil {
		return Ticker{}, err
	}
	if len(result.List) == 0 {
		return Ticker{}, errs.New(venue, errs.CodePriceUnavailable,
			errs.WithMessage("no ticker returned"),
			errs.WithField("symbol", symbol))
	}
	return result.List[0], nil
}

// GetInstruments returns every tradeable instrument in the category,
// following the pagination cursor to exhaustion.
func (m *MarketClient) GetInstruments(ctx context.Context) ([]InstrumentInfo, error) {
	return rest.FetchAll[InstrumentInfo](ctx, m.c.transport, rest.Request{
		Method: http.MethodGet,
		Path:   pathInstruments,
		Query:  m.c.query(),
	}, instrumentsLimit)
}

// GetKlines fetches candles covering [from, to) at the given resolution,
// chunking the window into page-sized requests. Pages arrive newest-first
// and are reversed before emission; candles at or after to are dropped. An
// empty page means no more data, not a failure.
func (m *MarketClient) GetKlines(ctx context.Context, symbol string, resolution time.Duration, from, to time.Time) ([]Kline, error) {
	interval, err := intervalToken(resolution)
	if err != nil {
		return nil, err
	}
	resolutionMs := resolution.Milliseconds()
	maxSpan := int64(maxKlinePageSize) * resolutionMs

	var out []Kline
	cursor := from.UnixMilli()
	end := to.UnixMilli()
	for cursor < end {
		windowEnd := cursor + maxSpan
		if windowEnd > end {
			windowEnd = end
		}
		query := m.c.query().
			Set("symbol", symbol).
			Set("interval", interval).
			Set("start", strconv.FormatInt(cursor, 10)).
			Set("end", strconv.FormatInt(windowEnd-1, 10)).
			Set("limit", strconv.Itoa(maxKlinePageSize))

		var result klineResult
		err := m.c.transport.Do(ctx, rest.Request{
			Method: http.MethodGet,
			Path:   pathKline,
			Query:  query,
		}, &result)
		if err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			break
		}

		page := result.List
		sort.Slice(page, func(i, j int) bool {
			return page[i].OpenTime.Before(page[j].OpenTime)
		})
		appended := false
		for _, candle := range page {
			openMs := candle.OpenTime.UnixMilli()
			if openMs < cursor || openMs >= end {
				continue
			}
			out = append(out, candle)
			appended = true
		}
		if !appended {
			break
		}
		last := out[len(out)-1].OpenTime.UnixMilli()
		next := last + resolutionMs
		if next <= cursor {
			break
		}
		cursor = next
	}
	return out, nil
}

// intervalToken maps a resolution onto the exchange's kline interval
// vocabulary.
func intervalToken(resolution time.Duration) (string, error) {
	switch resolution {
	case time.Minute:
		return "1", nil
	case 3 * time.Minute:
		return "3", nil
	case 5 * time.Minute:
		return "5", nil
	case 15 * time.Minute:
		return "15", nil
	case 30 * time.Minute:
		return "30", nil
	case time.Hour:
		return "60", nil
	case 2 * time.Hour:
		return "120", nil
	case 4 * time.Hour:
		return "240", nil
	case 6 * time.Hour:
		return "360", nil
	case 12 * time.Hour:
		return "720", nil
	case 24 * time.Hour:
		return "D", nil
	case 7 * 24 * time.Hour:
		return "W", nil
	}
	return "", errs.New(venue, errs.CodeInvalid,
		errs.WithMessage("unsupported kline resolution"),
		errs.WithField("resolution", resolution.String()))
}

// tickerPriceSource resolves reference prices from the REST ticker
// endpoint: asks for buys, bids for sells, last price as fallback.
type tickerPriceSource struct {
	market *MarketClient
}

func (s *tickerPriceSource) ReferencePrice(ctx context.Context, symbol string, side Side) (decimal.Decimal, error) {
	ticker, err := s.market.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price := ticker.Bid1Price.Decimal
	if side == SideBuy {
		price = ticker.Ask1Price.Decimal
	}
	if !price.IsPositive() {
		price = ticker.LastPrice.Decimal
	}
	return price, nil
}
