// pkg/httpserver/server_test.go
package httpserver_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/candle-tracker/pkg/httpserver"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ready := false
	srv, err := httpserver.New(httpserver.Config{Addr: ":0"}, reg, logger.NewNop(),
		func(context.Context) error { return nil },
		func(context.Context) error {
			if !ready {
				return errors.New("websocket not connected")
			}
			return nil
		},
	)
	assert.NoError(t, err)
	h := srv.Handler()

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT READY: websocket not connected", body)

	ready = true
	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body)

	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "test_counter_total 1"))
}

func TestNew_RequiresAddr(t *testing.T) {
	_, err := httpserver.New(httpserver.Config{}, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestServer_ReadyzListsEveryFailure(t *testing.T) {
	srv, err := httpserver.New(httpserver.Config{Addr: ":0"}, prometheus.NewRegistry(), logger.NewNop(),
		func(context.Context) error { return errors.New("coinbase stream not connected") },
		func(context.Context) error { return nil },
		func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("check ran without deadline")
			}
			return errors.New("kafka: broker unreachable")
		},
	)
	assert.NoError(t, err)

	code, body := get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT READY: coinbase stream not connected; kafka: broker unreachable", body)
}

func TestServer_StartServesAndStopsOnCancel(t *testing.T) {
	srv, err := httpserver.New(httpserver.Config{Addr: "127.0.0.1:0"}, nil, logger.NewNop())
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		if addr := srv.Addr(); addr != "127.0.0.1:0" {
			resp, err = http.Get("http://" + addr + "/healthz")
			if err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestServer_StartReportsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln.Close()

	srv, err := httpserver.New(httpserver.Config{Addr: ln.Addr().String()}, nil, logger.NewNop())
	assert.NoError(t, err)
	assert.Error(t, srv.Start(context.Background()))
}
