// Package stream maintains the websocket side: public connections with
// capacity-bounded topic sets, one authenticated private connection,
// keepalive, and reconnect with resubscription.
package stream

import (
	json "github.com/goccy/go-json"

	"github.com/tidemark/bybitconn/internal/numeric"
)

// Control opcodes understood by the exchange.
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opAuth        = "auth"
	opPing        = "ping"
	opPong        = "pong"
)

// controlFrame is the outbound control message shape shared by subscribe,
// unsubscribe, auth, and ping.
type controlFrame struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// controlAck is the exchange's reply to a control frame. Data frames carry
// no "op" field, which is how the read loop tells them apart.
type controlAck struct {
	Op      string `json:"op"`
	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	ConnID  string `json:"conn_id,omitempty"`
}

// Envelope is one parsed data frame. Data stays raw so topic-specific
// decoding happens at the consumer, off the socket goroutine.
type Envelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    numeric.TimeMS  `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

func subscribeArgs(topics []string) []any {
	args := make([]any, 0, len(topics))
	for _, topic := range topics {
		args = append(args, topic)
	}
	return args
}
