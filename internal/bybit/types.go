// Package bybit provides the typed v5 API surface: market data, account,
// position, and trade endpoints plus the order-request translation layer.
package bybit

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidemark/bybitconn/errs"
	"github.com/tidemark/bybitconn/internal/numeric"
)

const venue = "bybit"

// Side is the exchange's order side vocabulary.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderStatus is the exchange's own status vocabulary, carried verbatim.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "Created"
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusTriggered       OrderStatus = "Triggered"
	StatusUntriggered     OrderStatus = "Untriggered"
	StatusDeactivated     OrderStatus = "Deactivated"
)

// IsTerminal reports whether no further updates can follow this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusDeactivated:
		return true
	}
	return false
}

// Ticker is one row of the tickers endpoint and the tickers stream topic.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice numeric.Decimal `json:"lastPrice"`
	Bid1Price numeric.Decimal `json:"bid1Price"`
	Bid1Size  numeric.Decimal `json:"bid1Size"`
	Ask1Price numeric.Decimal `json:"ask1Price"`
	Ask1Size  numeric.Decimal `json:"ask1Size"`
	Volume24H numeric.Decimal `json:"volume24h"`
	Turnover  numeric.Decimal `json:"turnover24h"`
}

type tickerResult struct {
	Category string   `json:"category"`
	List     []Ticker `json:"list"`
}

// Kline is one candle with a millisecond-resolution open time.
type Kline struct {
	OpenTime time.Time
	Open     numeric.Decimal
	High     numeric.Decimal
	Low      numeric.Decimal
	Close    numeric.Decimal
	Volume   numeric.Decimal
	Turnover numeric.Decimal
}

// UnmarshalJSON decodes the positional kline row
// [openTime, open, high, low, close, volume, turnover].
func (k *Kline) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return errs.New(venue, errs.CodeDecode,
			errs.WithMessage("kline row is not an array"),
			errs.WithRawBody(string(data)),
			errs.WithCause(err))
	}
	if len(row) < 5 {
		return errs.New(venue, errs.CodeDecode,
			errs.WithMessage("kline row too short"),
			errs.WithRawBody(string(data)))
	}
	openTime, err := decodeCandleTime(row[0])
	if err != nil {
		return err
	}
	k.OpenTime = openTime
	fields := []*numeric.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Turnover}
	for i, field := range fields {
		if i+1 >= len(row) {
			break
		}
		if err := json.Unmarshal(row[i+1], field); err != nil {
			return err
		}
	}
	return nil
}

// decodeCandleTime accepts either epoch milliseconds (13-digit integers,
// quoted or bare) or epoch seconds with an optional fractional part. Only
// millisecond precision is meaningful in either form.
func decodeCandleTime(raw json.RawMessage) (time.Time, error) {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if strings.ContainsAny(trimmed, ".eE") || len(trimmed) <= 10 {
		var ts numeric.TimeSec
		if err := ts.UnmarshalJSON(raw); err != nil {
			return time.Time{}, err
		}
		return ts.Time, nil
	}
	var ts numeric.TimeMS
	if err := ts.UnmarshalJSON(raw); err != nil {
		return time.Time{}, err
	}
	return ts.Time, nil
}

type klineResult struct {
	Category string  `json:"category"`
	Symbol   string  `json:"symbol"`
	List     []Kline `json:"list"`
}

// InstrumentInfo describes one tradeable symbol.
type InstrumentInfo struct {
	Symbol        string         `json:"symbol"`
	BaseCoin      string         `json:"baseCoin"`
	QuoteCoin     string         `json:"quoteCoin"`
	Status        string         `json:"status"`
	LotSizeFilter LotSizeFilter  `json:"lotSizeFilter"`
	PriceFilter   PriceFilter    `json:"priceFilter"`
	LaunchTime    numeric.TimeMS `json:"launchTime"`
}

// LotSizeFilter bounds order quantities for a symbol.
type LotSizeFilter struct {
	MinOrderQty numeric.Decimal `json:"minOrderQty"`
	MaxOrderQty numeric.Decimal `json:"maxOrderQty"`
	QtyStep     numeric.Decimal `json:"qtyStep"`
}

// PriceFilter bounds order prices for a symbol.
type PriceFilter struct {
	MinPrice numeric.Decimal `json:"minPrice"`
	MaxPrice numeric.Decimal `json:"maxPrice"`
	TickSize numeric.Decimal `json:"tickSize"`
}

// CoinBalance is one coin row inside a wallet account.
type CoinBalance struct {
	Coin          string          `json:"coin"`
	WalletBalance numeric.Decimal `json:"walletBalance"`
	Equity        numeric.Decimal `json:"equity"`
	Locked        numeric.Decimal `json:"locked"`
}

type walletAccount struct {
	AccountType string        `json:"accountType"`
	Coin        []CoinBalance `json:"coin"`
}

type walletResult struct {
	List []walletAccount `json:"list"`
}

// FeeRate is the maker/taker fee pair for a symbol.
type FeeRate struct {
	Symbol       string          `json:"symbol"`
	TakerFeeRate numeric.Decimal `json:"takerFeeRate"`
	MakerFeeRate numeric.Decimal `json:"makerFeeRate"`
}

// Position is one open position row.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Size          numeric.Decimal `json:"size"`
	AvgPrice      numeric.Decimal `json:"avgPrice"`
	PositionValue numeric.Decimal `json:"positionValue"`
	UnrealisedPnl numeric.Decimal `json:"unrealisedPnl"`
	Leverage      numeric.Decimal `json:"leverage"`
	UpdatedTime   numeric.TimeMS  `json:"updatedTime"`
}

// OrderSnapshot is the authoritative external view of one order, produced by
// REST responses and the private order stream topic. Local order objects are
// updated from it, never the reverse.
type OrderSnapshot struct {
	OrderID          string          `json:"orderId"`
	OrderLinkID      string          `json:"orderLinkId"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	OrderType        string          `json:"orderType"`
	OrderStatus      OrderStatus     `json:"orderStatus"`
	Price            numeric.Decimal `json:"price"`
	Qty              numeric.Decimal `json:"qty"`
	CumExecQty       numeric.Decimal `json:"cumExecQty"`
	AvgPrice         numeric.Decimal `json:"avgPrice"`
	CumExecFee       numeric.Decimal `json:"cumExecFee"`
	FeeCurrency      string          `json:"feeCurrency"`
	TriggerPrice     numeric.Decimal `json:"triggerPrice"`
	TriggerDirection int             `json:"triggerDirection"`
	ReduceOnly       numeric.Bool    `json:"reduceOnly"`
	TimeInForce      string          `json:"timeInForce"`
	CreatedTime      numeric.TimeMS  `json:"createdTime"`
	UpdatedTime      numeric.TimeMS  `json:"updatedTime"`
}

// Execution is one fill row from the execution list endpoint.
type Execution struct {
	Symbol    string          `json:"symbol"`
	OrderID   string          `json:"orderId"`
	ExecID    string          `json:"execId"`
	Side      Side            `json:"side"`
	ExecPrice numeric.Decimal `json:"execPrice"`
	ExecQty   numeric.Decimal `json:"execQty"`
	ExecFee   numeric.Decimal `json:"execFee"`
	IsMaker   numeric.Bool    `json:"isMaker"`
	ExecTime  numeric.TimeMS  `json:"execTime"`
}

// OrderRef identifies an order on the wire by exchange id or caller link id.
type OrderRef struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
}
