package metrics

import (
	"github.com/JohnBaeGH/Upbit/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 策略引擎的 Prometheus 指标，同时作为观察者接收周期事件
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec // labels: result
	TradesTotal    *prometheus.CounterVec // labels: action, mode
	CycleDuration  prometheus.Histogram
	LastPrice      prometheus.Gauge
	LastRSI        prometheus.Gauge
	PositionOpen   prometheus.Gauge // 0=FLAT, 1=OPEN
	RealizedProfit prometheus.Gauge
	ObserverDrops  *prometheus.CounterVec // labels: observer
}

// NewMetrics 创建并注册所有指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Strategy cycles by result",
		}, []string{"result"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Executed trades by action and executor mode",
		}, []string{"action", "mode"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Strategy cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_last_price",
			Help: "Current price from the latest analysis snapshot",
		}),
		LastRSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_last_rsi",
			Help: "RSI from the latest analysis snapshot",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_position_open",
			Help: "1 when a position is open",
		}),
		RealizedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_realized_profit",
			Help: "Sum of realized profit amounts in quote currency",
		}),
		ObserverDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_observer_drops_total",
			Help: "Events dropped because an observer queue was full",
		}, []string{"observer"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.TradesTotal,
		m.CycleDuration,
		m.LastPrice,
		m.LastRSI,
		m.PositionOpen,
		m.RealizedProfit,
		m.ObserverDrops,
	)

	return m
}

func cycleLabel(r model.CycleResult) string {
	switch {
	case r.Failed:
		return "failed"
	case r.Executed && r.Success:
		return "executed"
	case r.Error != "":
		return "error"
	default:
		return "hold"
	}
}

func (m *Metrics) OnCycle(r model.CycleResult) {
	m.CyclesTotal.WithLabelValues(cycleLabel(r)).Inc()
	m.CycleDuration.Observe(r.Duration.Seconds())
	if r.PositionOpen {
		m.PositionOpen.Set(1)
	} else {
		m.PositionOpen.Set(0)
	}
	if r.Snapshot != nil {
		m.LastPrice.Set(r.Snapshot.CurrentPrice)
		m.LastRSI.Set(r.Snapshot.RSI)
	}
}

func (m *Metrics) OnTrade(r model.TradeRecord) {
	mode := "live"
	if r.Simulated {
		mode = "simulated"
	}
	m.TradesTotal.WithLabelValues(r.Action.String(), mode).Inc()

	if r.Action == model.ActionBuy {
		m.PositionOpen.Set(1)
		return
	}
	m.PositionOpen.Set(0)
	if r.ProfitAmount != nil {
		m.RealizedProfit.Add(*r.ProfitAmount)
	}
}

// ObserverDropped 作为 Trader 的丢弃回调
func (m *Metrics) ObserverDropped(observer string) {
	m.ObserverDrops.WithLabelValues(observer).Inc()
}
