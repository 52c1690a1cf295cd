// internal/tracker/normalizer.go
package tracker

import (
	"sort"

	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
)

// Normalize reduces a candles message to the single record the session
// will apply. seen is the number of records the message carried, all of
// which count as processed whether applied or not.
//
// Records of every event are flattened in order and the one with the
// latest start wins; ties keep wire order. Everything else is dropped,
// including records of other products in the same message.
func Normalize(msg *coinbase.Message) (update coinbase.CandleUpdate, seen int, ok bool) {
	if msg == nil || msg.Channel != coinbase.ChannelCandles || len(msg.Events) == 0 {
		return coinbase.CandleUpdate{}, 0, false
	}

	var updates []coinbase.CandleUpdate
	for _, ev := range msg.Events {
		updates = append(updates, ev.Candles...)
	}
	seen = len(updates)

	switch {
	case seen == 0:
		return coinbase.CandleUpdate{}, 0, false
	case seen > 1:
		sort.SliceStable(updates, func(i, j int) bool {
			return updates[i].Start > updates[j].Start
		})
	}
	return updates[0], seen, true
}
