package bybit

import (
	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/errs"
)

// Direction is the caller-facing order direction.
type Direction string

const (
	DirectionBuy  Direction = "Buy"
	DirectionSell Direction = "Sell"
	// DirectionHold represents no actionable side and is rejected at build time.
	DirectionHold Direction = "Hold"
)

// OrderKind enumerates the generic order abstraction. Adding a kind forces
// every switch over it to be revisited.
type OrderKind string

const (
	KindMarket         OrderKind = "Market"
	KindLimit          OrderKind = "Limit"
	KindStopLimit      OrderKind = "StopLimit"
	KindStopMarket     OrderKind = "StopMarket"
	KindLimitIfTouched OrderKind = "LimitIfTouched"
	KindTrailingStop   OrderKind = "TrailingStop"
)

// OrderIntent is the generic order a caller wants placed. The core mutates
// it only by attaching broker-assigned ids after successful placement.
type OrderIntent struct {
	Symbol       string
	Direction    Direction
	Kind         OrderKind
	Quantity     decimal.Decimal
	LimitPrice   decimal.Decimal
	TriggerPrice decimal.Decimal
	ReduceOnly   bool
	PostOnly     bool
	// OrderLinkID is the caller-chosen client id; generated when empty.
	OrderLinkID string
	// BrokerOrderIDs accumulates exchange ids in assignment order.
	BrokerOrderIDs []string
}

// Side maps the direction onto the exchange side vocabulary. Hold has no
// actionable side and fails fast.
func (i *OrderIntent) Side() (Side, error) {
	switch i.Direction {
	case DirectionBuy:
		return SideBuy, nil
	case DirectionSell:
		return SideSell, nil
	}
	return "", errs.New(venue, errs.CodeInvalid,
		errs.WithMessage("order direction has no actionable side"),
		errs.WithField("direction", string(i.Direction)))
}

// AttachBrokerID records an exchange-assigned order id.
func (i *OrderIntent) AttachBrokerID(id string) {
	if id == "" {
		return
	}
	for _, existing := range i.BrokerOrderIDs {
		if existing == id {
			return
		}
	}
	i.BrokerOrderIDs = append(i.BrokerOrderIDs, id)
}

// BrokerID returns the most recently attached exchange order id.
func (i *OrderIntent) BrokerID() string {
	if len(i.BrokerOrderIDs) == 0 {
		return ""
	}
	return i.BrokerOrderIDs[len(i.BrokerOrderIDs)-1]
}

// Trigger directions the exchange understands for conditional orders.
const (
	triggerRise = 1
	triggerFall = 2
)

// PlaceOrderRequest is the wire payload for order placement. Field order and
// presence follow the category and order-kind eligibility rules.
type PlaceOrderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	OrderFilter      string `json:"orderFilter,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly,omitempty"`
	OrderLinkID      string `json:"orderLinkId,omitempty"`
}

// AmendOrderRequest is the wire payload for order amendment.
type AmendOrderRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId,omitempty"`
	OrderLinkID  string `json:"orderLinkId,omitempty"`
	Qty          string `json:"qty,omitempty"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
}

// CancelOrderRequest is the wire payload for order cancellation.
type CancelOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	OrderFilter string `json:"orderFilter,omitempty"`
}

// OrderAck is the exchange's acknowledgement of a placement, amendment, or
// cancellation.
type OrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}
