// pkg/coinbase/message.go
package coinbase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Candle is one time bucket of a product. Start is the bucket start in
// unix seconds; the price and volume fields are carried through untouched.
type Candle struct {
	Start  int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// CandleUpdate is a single wire record: a candle tagged with its product.
type CandleUpdate struct {
	ProductID string
	Candle
}

type candleWire struct {
	Start     unixSeconds     `json:"start"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Open      decimal.Decimal `json:"open"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	ProductID string          `json:"product_id"`
}

// UnmarshalJSON decodes the string encoded wire form.
func (u *CandleUpdate) UnmarshalJSON(data []byte) error {
	var w candleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = CandleUpdate{
		ProductID: w.ProductID,
		Candle: Candle{
			Start:  int64(w.Start),
			Open:   w.Open,
			High:   w.High,
			Low:    w.Low,
			Close:  w.Close,
			Volume: w.Volume,
		},
	}
	return nil
}

// MarshalJSON produces the same shape Coinbase sends.
func (u CandleUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(candleWire{
		Start:     unixSeconds(u.Start),
		High:      u.High,
		Low:       u.Low,
		Open:      u.Open,
		Close:     u.Close,
		Volume:    u.Volume,
		ProductID: u.ProductID,
	})
}

// unixSeconds accepts both "1688998200" and 1688998200.
type unixSeconds int64

func (s *unixSeconds) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(data, `"`)
	if len(raw) == 0 {
		return errors.New("coinbase: empty candle start")
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("coinbase: candle start %s: %w", data, err)
	}
	*s = unixSeconds(v)
	return nil
}

func (s unixSeconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(s), 10))), nil
}

// Event is one element of a message's events array. Only candle events
// carry data the tracker reads; other fields are ignored.
type Event struct {
	Type    string         `json:"type"`
	Candles []CandleUpdate `json:"candles,omitempty"`
}

// Message is a decoded data frame.
type Message struct {
	Channel     string  `json:"channel"`
	ClientID    string  `json:"client_id"`
	Timestamp   string  `json:"timestamp"`
	SequenceNum uint64  `json:"sequence_num"`
	Events      []Event `json:"events"`
}

// ErrorFrame is returned by Decode when the server sent {"type":"error"}.
type ErrorFrame struct {
	Message string
	Reason  string
}

func (e *ErrorFrame) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("coinbase: %s: %s", e.Message, e.Reason)
	}
	return "coinbase: " + e.Message
}

// Decode parses a raw frame into a Message. Server error frames come
// back as *ErrorFrame.
func Decode(data []byte) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("coinbase: decode: invalid json")
	}
	if gjson.GetBytes(data, "type").String() == "error" {
		res := gjson.GetManyBytes(data, "message", "reason")
		return nil, &ErrorFrame{Message: res[0].String(), Reason: res[1].String()}
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("coinbase: decode %q: %w", gjson.GetBytes(data, "channel").String(), err)
	}
	if msg.Channel == "" {
		return nil, fmt.Errorf("coinbase: decode: frame without channel")
	}
	return &msg, nil
}

// SubscribeRequest is the client frame that starts a channel.
type SubscribeRequest struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

// Subscribe builds a subscribe frame for channel.
func Subscribe(channel string, productIDs []string) SubscribeRequest {
	return SubscribeRequest{Type: "subscribe", Channel: channel, ProductIDs: productIDs}
}
