// pkg/coinbase/interface.go
package coinbase

import "context"

// Connector describes the low-level Coinbase WebSocket connector.
type Connector interface {
	Stream(ctx context.Context) (<-chan RawMessage, error)
	Close() error
}

// RawMessage is one frame read from the socket, or the error that
// interrupted reading. Exactly one of Data and Err is set.
type RawMessage struct {
	Data    []byte
	Channel string // "candles", "heartbeats", ... or "" when unknown
	Err     error
}
