package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/internal/trader"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultLogLimit  = 50
	priceLookupLimit = 3 * time.Second
	maxBodyBytes     = 1 << 16
)

// PriceSource 状态接口用于计算浮动盈亏
type PriceSource interface {
	CurrentPrice(ctx context.Context, market string) (float64, error)
}

// Handler 策略控制 HTTP 接口
type Handler struct {
	trader   *trader.Trader
	prices   PriceSource // 可为 nil
	gatherer prometheus.Gatherer
	ctx      context.Context // 策略循环的父 ctx
	logger   *zap.Logger
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusView struct {
	trader.Status
	CurrentPrice          *float64 `json:"current_price,omitempty"`
	UnrealizedProfitRatio *float64 `json:"unrealized_profit_ratio,omitempty"`
}

// NewHandler ctx 作为 start 接口启动策略循环时的父 ctx
func NewHandler(ctx context.Context, t *trader.Trader, prices PriceSource, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	return &Handler{
		trader:   t,
		prices:   prices,
		gatherer: gatherer,
		ctx:      ctx,
		logger:   logger.With(zap.String("component", "control")),
	}
}

// Routes 注册所有路由
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/auto-trading/start", h.start)
	mux.HandleFunc("POST /api/auto-trading/stop", h.stop)
	mux.HandleFunc("POST /api/auto-trading/config", h.updateConfig)
	mux.HandleFunc("GET /api/auto-trading/performance", h.performance)
	mux.HandleFunc("GET /api/auto-trading/analysis", h.analysis)
	mux.HandleFunc("GET /api/auto-trading/trades", h.trades)
	mux.HandleFunc("GET /api/auto-trading/logs", h.logs)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]bool{"running": h.trader.Running()}})
	})
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	view := statusView{Status: h.trader.Status()}

	if view.Position != nil && h.prices != nil {
		ctx, cancel := context.WithTimeout(r.Context(), priceLookupLimit)
		defer cancel()
		market := view.Position.Market
		if market == "" {
			market = view.Config.Market
		}
		price, err := h.prices.CurrentPrice(ctx, market)
		if err != nil {
			h.logger.Warn("Mark price unavailable", zap.Error(err))
		} else {
			ratio := view.Position.ProfitRatio(price)
			view.CurrentPrice = &price
			view.UnrealizedProfitRatio = &ratio
		}
	}

	writeJSON(w, http.StatusOK, response{Success: true, Data: view})
}

func (h *Handler) start(w http.ResponseWriter, _ *http.Request) {
	if !h.trader.Start(h.ctx) {
		writeJSON(w, http.StatusConflict, response{Success: false, Error: "auto trading already running or shut down"})
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "auto trading started"})
}

func (h *Handler) stop(w http.ResponseWriter, _ *http.Request) {
	if !h.trader.Stop() {
		writeJSON(w, http.StatusConflict, response{Success: false, Error: "auto trading not running"})
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "auto trading stopping after current cycle"})
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var patch service.ConfigPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "invalid body: " + err.Error()})
		return
	}

	if err := h.trader.UpdateConfig(patch); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, trader.ErrLiveUnavailable) {
			status = http.StatusConflict
		}
		writeJSON(w, status, response{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, response{Success: true, Message: "config update queued for next cycle"})
}

func (h *Handler) performance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: h.trader.Performance()})
}

func (h *Handler) analysis(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := h.trader.LastSnapshot()
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Success: false, Error: "no analysis yet"})
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: snapshot})
}

func (h *Handler) trades(w http.ResponseWriter, _ *http.Request) {
	trades := h.trader.Trades()
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: trades})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "invalid limit"})
			return
		}
		limit = min(n, trader.DefaultActivityCapacity)
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: h.trader.Activity(limit)})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
