// internal/sink/payload.go
//
// Package sink holds the wire payload shared by the completion sinks.
package sink

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/YaganovValera/candle-tracker/internal/tracker"
)

// CompletedCandle is the JSON document published for a finished candle.
type CompletedCandle struct {
	ProductID  string          `json:"product_id"`
	Start      int64           `json:"start"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	Processed  uint64          `json:"processed"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Encode serialises c, stamping it with at.
func Encode(c tracker.Completion, at time.Time) ([]byte, error) {
	return json.Marshal(CompletedCandle{
		ProductID:  c.ProductID,
		Start:      c.Candle.Start,
		Open:       c.Candle.Open,
		High:       c.Candle.High,
		Low:        c.Candle.Low,
		Close:      c.Candle.Close,
		Volume:     c.Candle.Volume,
		Processed:  c.Processed,
		DetectedAt: at.UTC(),
	})
}

// Decode is the inverse of Encode.
func Decode(data []byte) (CompletedCandle, error) {
	var cc CompletedCandle
	err := json.Unmarshal(data, &cc)
	return cc, err
}
