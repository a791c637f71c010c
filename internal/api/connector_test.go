package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConnectorHandleMessage(t *testing.T) {
	c := NewConnector("ws://unused", []string{"KRW-BTC"}, zaptest.NewLogger(t))

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"type":"trade","code":"KRW-BTC","trade_price":1}`))
	c.handleMessage([]byte(`{"type":"ticker","code":"KRW-BTC","trade_price":0}`))
	_, ok := c.LastPrice("KRW-BTC")
	assert.False(t, ok)

	c.handleMessage([]byte(`{"type":"ticker","code":"KRW-BTC","trade_price":50000000,"timestamp":1709283600000}`))
	tick, ok := c.LastPrice("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 50_000_000.0, tick.Price)
	assert.Equal(t, "KRW-BTC", tick.Market)
	assert.Equal(t, int64(1709283600000), tick.Timestamp.UnixMilli())
}

func TestConnectorStreamsTicker(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- msg

		_ = conn.WriteMessage(websocket.BinaryMessage,
			[]byte(`{"type":"ticker","code":"KRW-BTC","trade_price":51000000,"timestamp":1709283600000}`))

		// 保持连接直到客户端断开
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewConnector("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"KRW-BTC"}, zaptest.NewLogger(t))
	stopped := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(stopped)
	}()

	select {
	case msg := <-subscribed:
		assert.Contains(t, string(msg), `"type":"ticker"`)
		assert.Contains(t, string(msg), `"KRW-BTC"`)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not received")
	}

	assert.Eventually(t, func() bool {
		tick, ok := c.LastPrice("KRW-BTC")
		return ok && tick.Price == 51_000_000
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("connector did not stop")
	}
}
