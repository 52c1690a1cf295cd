// pkg/coinbase/ws_test.go
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name     string
		input    Config
		wantErr  bool
		wantBuf  int
		wantRead time.Duration
	}{
		{"empty gets defaults", Config{}, false, 256, 30 * time.Second},
		{"bad scheme", Config{URL: "http://foo"}, true, 256, 30 * time.Second},
		{"custom", Config{
			URL: "ws://foo", Channels: []string{"candles"},
			BufferSize: 5, ReadTimeout: 7 * time.Second,
		}, false, 5, 7 * time.Second},
		{"blank channel", Config{URL: "ws://foo", Channels: []string{" "}}, true, 256, 30 * time.Second},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.ApplyDefaults()
			if got := cfg.BufferSize; got != c.wantBuf {
				t.Errorf("BufferSize = %v; want %v", got, c.wantBuf)
			}
			if got := cfg.ReadTimeout; got != c.wantRead {
				t.Errorf("ReadTimeout = %v; want %v", got, c.wantRead)
			}
			err := cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestSubscribeFrames(t *testing.T) {
	products := make([]string, MaxProductsPerSubscribe+1)
	for i := range products {
		products[i] = fmt.Sprintf("P%d-USD", i)
	}

	frames := subscribeFrames([]string{ChannelHeartbeats, ChannelCandles}, products)
	if len(frames) != 3 {
		t.Fatalf("frames = %d; want 3", len(frames))
	}
	if frames[0].Channel != ChannelHeartbeats || len(frames[0].ProductIDs) != 0 {
		t.Errorf("first frame = %+v; want heartbeats without products", frames[0])
	}
	if got := len(frames[1].ProductIDs); got != MaxProductsPerSubscribe {
		t.Errorf("second frame products = %d; want %d", got, MaxProductsPerSubscribe)
	}
	if got := frames[2].ProductIDs; len(got) != 1 || got[0] != products[MaxProductsPerSubscribe] {
		t.Errorf("third frame products = %v", got)
	}

	frames = subscribeFrames([]string{ChannelCandles}, nil)
	if len(frames) != 1 || frames[0].ProductIDs != nil {
		t.Errorf("empty product list frames = %+v", frames)
	}
}

func fastBackoff() backoff.Config {
	return backoff.Config{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          1,
		MaxInterval:         time.Millisecond,
	}
}

// The server accepts two subscribes, sends one candle frame and hangs up.
func TestConnector_StreamIntegration(t *testing.T) {
	var dials atomic.Int32
	upg := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		dials.Add(1)

		for _, want := range []string{ChannelHeartbeats, ChannelCandles} {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return // client went away
			}
			var req SubscribeRequest
			if err := json.Unmarshal(msg, &req); err != nil || req.Type != "subscribe" || req.Channel != want {
				t.Errorf("unexpected subscribe %s", msg)
				return
			}
		}

		frame := `{"channel":"candles","events":[{"type":"snapshot","candles":[{"start":"60","product_id":"BTC-USD"}]}]}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}))
	defer server.Close()

	cfg := Config{
		URL:           "ws" + strings.TrimPrefix(server.URL, "http"),
		ProductIDs:    []string{"BTC-USD"},
		BackoffConfig: fastBackoff(),
	}
	conn, err := NewConnector(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := conn.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	first := <-ch
	if first.Err != nil {
		t.Fatalf("first message err = %v", first.Err)
	}
	if first.Channel != ChannelCandles {
		t.Errorf("Channel = %q; want candles", first.Channel)
	}
	if !strings.Contains(string(first.Data), `"BTC-USD"`) {
		t.Errorf("Data = %s", first.Data)
	}

	// the hang-up surfaces as an error, then the connector redials
	second := <-ch
	if second.Err == nil {
		t.Errorf("expected read error after server hang-up, got %s", second.Data)
	}

	cancel()
	for range ch {
	}
	if conn.Connected() {
		t.Error("Connected() = true after stream ended")
	}
	if dials.Load() < 1 {
		t.Error("server was never dialed")
	}
}

func TestConnector_StreamAfterClose(t *testing.T) {
	conn, err := NewConnector(Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := conn.Stream(context.Background()); err == nil {
		t.Error("expected error from Stream after Close")
	}
}

// A consumer slower than ReadTimeout must not make a healthy feed time out.
func TestConnector_SlowConsumerKeepsConnection(t *testing.T) {
	var dials atomic.Int32
	upg := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)

		for i := 0; i < 2; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for n := 0; ; n++ {
			<-ticker.C
			frame := fmt.Sprintf(`{"channel":"candles","events":[{"type":"update","candles":[{"start":"%d","product_id":"BTC-USD"}]}]}`, n*60)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := Config{
		URL:           "ws" + strings.TrimPrefix(server.URL, "http"),
		ProductIDs:    []string{"BTC-USD"},
		BufferSize:    1,
		ReadTimeout:   200 * time.Millisecond,
		BackoffConfig: fastBackoff(),
	}
	conn, err := NewConnector(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := conn.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	for i := 0; i < 4; i++ {
		msg, ok := <-ch
		if !ok {
			t.Fatal("stream closed early")
		}
		if msg.Err != nil {
			t.Fatalf("message %d: unexpected error %v", i, msg.Err)
		}
		time.Sleep(2 * cfg.ReadTimeout)
	}

	cancel()
	for range ch {
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("connections = %d; want 1", got)
	}
}
