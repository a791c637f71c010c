package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/executor"
	"github.com/JohnBaeGH/Upbit/internal/metrics"
	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/internal/strategy"
	"github.com/JohnBaeGH/Upbit/internal/trader"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

type flatSource struct{}

func (flatSource) FetchCandles(context.Context, string, int, int) ([]model.Candle, error) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, 25)
	for i := range candles {
		candles[i] = model.Candle{OpenTime: base.Add(time.Duration(i) * 5 * time.Minute), Close: 50_000_000, Volume: 1}
	}
	return candles, nil
}

type fixedPrice struct {
	price float64
	err   error
}

func (p fixedPrice) CurrentPrice(context.Context, string) (float64, error) { return p.price, p.err }

type marketPrices map[string]float64

func (p marketPrices) CurrentPrice(_ context.Context, market string) (float64, error) {
	price, ok := p[market]
	if !ok {
		return 0, errors.New("unknown market " + market)
	}
	return price, nil
}

type fixture struct {
	handler http.Handler
	trader  *trader.Trader
	tracker *strategy.PositionTracker
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, prices PriceSource) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tracker := strategy.NewPositionTracker(logger)

	cfg := service.DefaultStrategyConfig()
	cfg.EvaluationInterval = time.Hour
	tr, err := trader.New(trader.Config{
		Candles:   flatSource{},
		Tracker:   tracker,
		Simulator: executor.NewSimulatorExecutor(tracker, logger),
		Strategy:  cfg,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	tr.AddObserver(m)

	h := NewHandler(context.Background(), tr, prices, reg, logger)
	return fixture{handler: h.Routes(), trader: tr, tracker: tracker, metrics: m}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusFlat(t *testing.T) {
	f := newFixture(t, fixedPrice{price: 1})

	rec := f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := gjson.Parse(rec.Body.String())
	assert.True(t, body.Get("success").Bool())
	assert.False(t, body.Get("data.is_running").Bool())
	assert.Equal(t, "simulated", body.Get("data.mode").String())
	assert.Equal(t, "FLAT", body.Get("data.state").String())
	assert.Equal(t, "KRW-BTC", body.Get("data.config.market").String())
	assert.Equal(t, "5m0s", body.Get("data.config.evaluation_interval").String())
	assert.False(t, body.Get("data.current_price").Exists())
}

func TestStatusWithPositionAddsMarkPrice(t *testing.T) {
	f := newFixture(t, fixedPrice{price: 52_500_000})
	require.NoError(t, f.tracker.Open(
		model.Position{EntryPrice: 50_000_000, EntryTime: time.Now(), Notional: 100_000},
		model.TradeRecord{Action: model.ActionBuy, Price: 50_000_000},
	))

	body := gjson.Parse(f.do(http.MethodGet, "/api/status", "").Body.String())
	assert.Equal(t, "OPEN", body.Get("data.state").String())
	assert.Equal(t, 50_000_000.0, body.Get("data.current_position.entry_price").Float())
	assert.Equal(t, 52_500_000.0, body.Get("data.current_price").Float())
	assert.InDelta(t, 0.05, body.Get("data.unrealized_profit_ratio").Float(), 1e-9)
}

func TestStatusMarkPriceFailure(t *testing.T) {
	f := newFixture(t, fixedPrice{err: errors.New("timeout")})
	require.NoError(t, f.tracker.Open(
		model.Position{EntryPrice: 50_000_000, EntryTime: time.Now(), Notional: 100_000},
		model.TradeRecord{Action: model.ActionBuy, Price: 50_000_000},
	))

	rec := f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "data.current_price").Exists())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/auto-trading/stop", "").Code)

	rec := f.do(http.MethodPost, "/api/auto-trading/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.trader.Running())
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/auto-trading/start", "").Code)

	rec = f.do(http.MethodPost, "/api/auto-trading/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.trader.Wait()
	assert.False(t, f.trader.Running())

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/auto-trading/start", "").Code)
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/auto-trading/config", `{"short_ma_period":3,"evaluation_interval":"1m"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(f.do(http.MethodGet, "/api/status", "").Body.String(), "data.pending_updates").Int())

	rec = f.do(http.MethodPost, "/api/auto-trading/config", `{"short_ma_period":30}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "success").Bool())

	rec = f.do(http.MethodPost, "/api/auto-trading/config", `{"simulation_mode":false}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/auto-trading/config", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/auto-trading/config", `{"evaluation_interval":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisTradesPerformanceLogs(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/auto-trading/analysis", "").Code)

	trades := gjson.Parse(f.do(http.MethodGet, "/api/auto-trading/trades", "").Body.String())
	assert.True(t, trades.Get("data").IsArray())
	assert.Empty(t, trades.Get("data").Array())

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/auto-trading/start", "").Code)
	assert.Eventually(t, func() bool {
		return f.do(http.MethodGet, "/api/auto-trading/analysis", "").Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	analysis := gjson.Parse(f.do(http.MethodGet, "/api/auto-trading/analysis", "").Body.String())
	assert.Equal(t, 50_000_000.0, analysis.Get("data.current_price").Float())

	perf := gjson.Parse(f.do(http.MethodGet, "/api/auto-trading/performance", "").Body.String())
	assert.Equal(t, int64(0), perf.Get("data.total_trades").Int())
	assert.False(t, perf.Get("data.current_position").Bool())

	logs := gjson.Parse(f.do(http.MethodGet, "/api/auto-trading/logs?limit=1", "").Body.String())
	assert.Len(t, logs.Get("data").Array(), 1)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/auto-trading/logs?limit=x", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.metrics.OnCycle(model.CycleResult{Action: model.ActionHold})

	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "data.running").Bool())

	rec = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trader_cycles_total{result="hold"} 1`)
}

func TestStatusMarksPositionMarket(t *testing.T) {
	f := newFixture(t, marketPrices{"KRW-ETH": 4_200_000})
	require.NoError(t, f.tracker.Open(
		model.Position{Market: "KRW-ETH", EntryPrice: 4_000_000, EntryTime: time.Now(), Notional: 100_000},
		model.TradeRecord{Action: model.ActionBuy, Price: 4_000_000},
	))

	body := gjson.Parse(f.do(http.MethodGet, "/api/status", "").Body.String())
	assert.Equal(t, "KRW-BTC", body.Get("data.config.market").String())
	assert.Equal(t, "KRW-ETH", body.Get("data.current_position.market").String())
	assert.Equal(t, 4_200_000.0, body.Get("data.current_price").Float())
	assert.InDelta(t, 0.05, body.Get("data.unrealized_profit_ratio").Float(), 1e-9)
}

func TestStartAfterShutdownConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.trader.Close()

	rec := f.do(http.MethodPost, "/api/auto-trading/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, f.trader.Running())
}
