package api

import (
	"context"
	"sync"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultReconnectDelay = 5 * time.Second

// Connector 订阅 Upbit ticker 频道，缓存每个市场的最新成交价
type Connector struct {
	wsURL          string
	markets        []string
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	prices map[string]model.Ticker
}

func NewConnector(wsURL string, markets []string, logger *zap.Logger) *Connector {
	logger = logger.With(zap.String("component", "connector"))
	logger.Info("Connector initialized", zap.Strings("Markets", markets))

	return &Connector{
		wsURL:          wsURL,
		markets:        markets,
		reconnectDelay: defaultReconnectDelay,
		logger:         logger,
		prices:         make(map[string]model.Ticker, len(markets)),
	}
}

// Start 启动 WebSocket 连接，断开后按固定间隔重连，直到 ctx 结束
func (c *Connector) Start(ctx context.Context) {
	c.logger.Info("Starting Upbit WS connection...", zap.String("URL", c.wsURL))

	for {
		err := c.run(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Connector stopped")
			return
		}
		c.logger.Error("WS connection lost, attempting to reconnect...", zap.Error(err), zap.Duration("Delay", c.reconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Connector) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// ctx 结束时关闭连接以中断阻塞的读取
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subscribe := []map[string]any{
		{"ticket": uuid.NewString()},
		{"type": "ticker", "codes": c.markets},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}
	c.logger.Info("Subscribed to Upbit ticker stream", zap.Strings("Markets", c.markets))

	return c.readLoop(conn)
}

// readLoop 持续读取 WS 消息并处理
func (c *Connector) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(message)
	}
}

func (c *Connector) handleMessage(message []byte) {
	if !gjson.ValidBytes(message) {
		return
	}
	msg := gjson.ParseBytes(message)
	if msg.Get("type").String() != "ticker" {
		return
	}

	code := msg.Get("code").String()
	price := msg.Get("trade_price").Float()
	if code == "" || price <= 0 {
		return
	}

	ticker := model.Ticker{
		Market:    code,
		Timestamp: time.UnixMilli(msg.Get("timestamp").Int()),
		Price:     price,
	}

	c.mu.Lock()
	c.prices[code] = ticker
	c.mu.Unlock()
}

// LastPrice 最近一次推送的价格
func (c *Connector) LastPrice(market string) (model.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.prices[market]
	return t, ok
}
