package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxCandleCount Upbit 单次最多返回 200 根 K 线
const MaxCandleCount = 200

const candleTimeLayout = "2006-01-02T15:04:05"

var (
	ErrNoCredentials   = errors.New("exchange credentials not configured")
	ErrInvalidResponse = errors.New("invalid exchange response")
)

// APIError 交易所返回的非成功响应
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("upbit: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upbit: HTTP %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// PriceFeed 实时价格来源 (Connector)
type PriceFeed interface {
	LastPrice(market string) (model.Ticker, bool)
}

type ClientConfig struct {
	BaseURL        string
	AccessKey      string
	SecretKey      string
	Timeout        time.Duration
	PriceStaleness time.Duration
}

// Client Upbit REST 客户端，同时提供 K 线数据和交易能力
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	feed       PriceFeed
	staleness  time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		staleness:  cfg.PriceStaleness,
		logger:     logger.With(zap.String("component", "upbit")),
		now:        time.Now,
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		c.signer = NewSigner(cfg.AccessKey, cfg.SecretKey)
	}
	return c
}

// SetPriceFeed 设置实时价格来源，CurrentPrice 优先使用未过期的推送价格
func (c *Client) SetPriceFeed(feed PriceFeed) {
	c.feed = feed
}

type candleResponse struct {
	Market         string  `json:"market"`
	CandleTimeUTC  string  `json:"candle_date_time_utc"`
	OpeningPrice   float64 `json:"opening_price"`
	HighPrice      float64 `json:"high_price"`
	LowPrice       float64 `json:"low_price"`
	TradePrice     float64 `json:"trade_price"`
	AccTradeVolume float64 `json:"candle_acc_trade_volume"`
}

// FetchCandles 查询分钟 K 线，按时间从旧到新返回
func (c *Client) FetchCandles(ctx context.Context, market string, unit, count int) ([]model.Candle, error) {
	if count > MaxCandleCount {
		count = MaxCandleCount
	}
	query := url.Values{}
	query.Set("market", market)
	query.Set("count", strconv.Itoa(count))

	var raw []candleResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/candles/minutes/%d", unit), query, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(raw))
	// 交易所返回最新在前
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		openTime, err := time.ParseInLocation(candleTimeLayout, r.CandleTimeUTC, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: candle time %q", ErrInvalidResponse, r.CandleTimeUTC)
		}
		candles = append(candles, model.Candle{
			OpenTime: openTime,
			Open:     r.OpeningPrice,
			High:     r.HighPrice,
			Low:      r.LowPrice,
			Close:    r.TradePrice,
			Volume:   r.AccTradeVolume,
		})
	}
	return candles, nil
}

type tickerResponse struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
	Timestamp  int64   `json:"timestamp"`
}

// CurrentPrice 最新成交价
func (c *Client) CurrentPrice(ctx context.Context, market string) (float64, error) {
	if c.feed != nil {
		if tick, ok := c.feed.LastPrice(market); ok && c.now().Sub(tick.Timestamp) <= c.staleness {
			return tick.Price, nil
		}
	}

	query := url.Values{}
	query.Set("markets", market)

	var raw []tickerResponse
	if err := c.do(ctx, http.MethodGet, "/v1/ticker", query, false, &raw); err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: empty ticker for %s", ErrInvalidResponse, market)
	}
	return raw[0].TradePrice, nil
}

type accountResponse struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked"`
}

// Balance 可用余额；账户中没有该币种时返回 0
func (c *Client) Balance(ctx context.Context, currency string) (float64, error) {
	var accounts []accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true, &accounts); err != nil {
		return 0, err
	}

	for _, a := range accounts {
		if a.Currency != currency {
			continue
		}
		balance, err := decimal.NewFromString(a.Balance)
		if err != nil {
			return 0, fmt.Errorf("%w: balance %q", ErrInvalidResponse, a.Balance)
		}
		return balance.InexactFloat64(), nil
	}
	return 0, nil
}

type orderResponse struct {
	UUID string `json:"uuid"`
}

// SubmitMarketBuy 市价买入，notional 为计价货币金额 (取整)
func (c *Client) SubmitMarketBuy(ctx context.Context, market string, notional float64) (model.OrderReceipt, error) {
	query := url.Values{}
	query.Set("market", market)
	query.Set("side", "bid")
	query.Set("ord_type", "price")
	query.Set("price", decimal.NewFromFloat(notional).Truncate(0).String())
	return c.submitOrder(ctx, query)
}

// SubmitMarketSell 市价卖出，quantity 保留 8 位小数
func (c *Client) SubmitMarketSell(ctx context.Context, market string, quantity float64) (model.OrderReceipt, error) {
	query := url.Values{}
	query.Set("market", market)
	query.Set("side", "ask")
	query.Set("ord_type", "market")
	query.Set("volume", decimal.NewFromFloat(quantity).Truncate(8).String())
	return c.submitOrder(ctx, query)
}

func (c *Client) submitOrder(ctx context.Context, query url.Values) (model.OrderReceipt, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", query, true, &resp); err != nil {
		return model.OrderReceipt{}, err
	}
	if resp.UUID == "" {
		return model.OrderReceipt{}, fmt.Errorf("%w: order without uuid", ErrInvalidResponse)
	}

	c.logger.Info("Order accepted",
		zap.String("Market", query.Get("market")),
		zap.String("Side", query.Get("side")),
		zap.String("OrderID", resp.UUID))
	return model.OrderReceipt{OrderID: resp.UUID}, nil
}

type errorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, signed bool, out any) error {
	encoded := query.Encode()
	target := c.baseURL + path
	if encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		if c.signer == nil {
			return ErrNoCredentials
		}
		token, err := c.signer.Token(encoded)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(body, &e) == nil {
			apiErr.Name = e.Error.Name
			apiErr.Message = e.Error.Message
		}
		c.logger.Warn("Exchange request failed", zap.String("Path", path), zap.Error(apiErr))
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	return nil
}
