package model

import (
	"fmt"
	"time"
)

// Action 定义了一个周期最终决定的操作
type Action string

const (
	ActionHold       Action = "HOLD"
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"        // 信号平仓
	ActionStopLoss   Action = "STOP_LOSS"   // 止损
	ActionTakeProfit Action = "TAKE_PROFIT" // 止盈
	ActionTimeLimit  Action = "TIME_LIMIT"  // 超过最大持仓时间
)

// IsExit 判断是否为任意一种平仓操作
func (a Action) IsExit() bool {
	switch a {
	case ActionSell, ActionStopLoss, ActionTakeProfit, ActionTimeLimit:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// AnalysisSnapshot 每个周期生成一次的市场快照，是信号和风控的唯一输入
type AnalysisSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CurrentPrice     float64   `json:"current_price"`
	PriceChangeRatio float64   `json:"price_change_ratio"`
	ShortMA          float64   `json:"short_ma"`
	LongMA           float64   `json:"long_ma"`
	RSI              float64   `json:"rsi"`
	CurrentVolume    float64   `json:"current_volume"`
	AvgVolume        float64   `json:"avg_volume"`
	VolumeRatio      float64   `json:"volume_ratio"`
}

func (s AnalysisSnapshot) String() string {
	return fmt.Sprintf("price=%.0f change=%+.4f shortMA=%.0f longMA=%.0f RSI=%.1f volRatio=%.2f",
		s.CurrentPrice, s.PriceChangeRatio, s.ShortMA, s.LongMA, s.RSI, s.VolumeRatio)
}

// Position 当前唯一的持仓 (只做多)
type Position struct {
	Market     string    `json:"market"` // 开仓时的市场代码
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Notional   float64   `json:"notional"` // 开仓金额 (计价货币)
	Quantity   float64   `json:"quantity"` // 估算持仓数量
	Simulated  bool      `json:"simulated"`
	OrderID    string    `json:"order_id,omitempty"`
}

// ProfitRatio 以 price 计算的收益率
func (p Position) ProfitRatio(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// TradeRecord 一次成交记录，追加后不再修改
type TradeRecord struct {
	Action       Action    `json:"action"`
	Price        float64   `json:"price"`
	Notional     float64   `json:"notional"`
	Quantity     float64   `json:"quantity"`
	ProfitRatio  *float64  `json:"profit_ratio,omitempty"`
	ProfitAmount *float64  `json:"profit_amount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Simulated    bool      `json:"simulated"`
	OrderID      string    `json:"order_id,omitempty"`
}

func (r TradeRecord) String() string {
	if r.ProfitRatio != nil {
		return fmt.Sprintf("%s @ %.0f | notional %.0f | qty %.8f | profit %+.2f%%",
			r.Action, r.Price, r.Notional, r.Quantity, *r.ProfitRatio*100)
	}
	return fmt.Sprintf("%s @ %.0f | notional %.0f | qty %.8f", r.Action, r.Price, r.Notional, r.Quantity)
}

// OrderReceipt 交易所接受订单后的回执
type OrderReceipt struct {
	OrderID string
}

// CycleResult 一个策略周期的结果，发布给所有观察者
type CycleResult struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	Price     float64           `json:"price"`
	Executed  bool              `json:"executed"` // 是否尝试了下单
	Success   bool              `json:"success"`
	Snapshot  *AnalysisSnapshot `json:"snapshot,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`

	// Failed 表示周期级失败 (取数失败或 panic)，调度器据此退避
	Failed bool `json:"failed"`
	// PositionOpen 周期结束时是否持仓，强制对账后也会反映为 false
	PositionOpen bool `json:"position_open"`
}

// PerformanceSummary 绩效统计，只统计平仓记录
type PerformanceSummary struct {
	TotalTrades   int     `json:"total_trades"`
	TotalProfit   float64 `json:"total_profit"`
	WinRate       float64 `json:"win_rate"` // 百分比
	HasPosition   bool    `json:"current_position"`
	WinningTrades int     `json:"winning_trades"`
}
