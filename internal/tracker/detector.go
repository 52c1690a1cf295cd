// internal/tracker/detector.go
package tracker

import "github.com/YaganovValera/candle-tracker/pkg/coinbase"

// Detect decides whether incoming closes the bucket held in current.
//
// With no current candle the incoming one is simply adopted. A strictly
// later start means the current bucket is finished: it is returned as
// completed and incoming becomes the new state. Any other start, equal
// or older, overwrites the state without emitting anything.
func Detect(current *coinbase.Candle, incoming coinbase.Candle) (next coinbase.Candle, completed *coinbase.Candle) {
	if current == nil {
		return incoming, nil
	}
	if incoming.Start > current.Start {
		done := *current
		return incoming, &done
	}
	return incoming, nil
}
