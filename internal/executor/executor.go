package executor

import (
	"context"
	"errors"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
)

const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

var (
	// ErrOrderTooSmall 可投资金额低于最小下单金额
	ErrOrderTooSmall = errors.New("order amount below minimum")
	// ErrPositionDiverged 交易所没有可卖出的数量，本地持仓已被强制清空
	ErrPositionDiverged = errors.New("exchange holds no quantity for open position")
)

// Order 一次已决定的操作
type Order struct {
	Action model.Action
	Price  float64   // 本周期快照中的当前价格
	Time   time.Time // 决策时间
	Config service.StrategyConfig
}

// Executor 是执行分发器的通用接口
// 成功时恰好追加一条成交记录并完成一次持仓状态转换；失败时两者都不发生
type Executor interface {
	Execute(ctx context.Context, order Order) (model.TradeRecord, error)

	// 返回 ModeSimulated 或 ModeLive
	Mode() string
}

// ExchangeClient 实盘执行所需的交易所能力
type ExchangeClient interface {
	CurrentPrice(ctx context.Context, market string) (float64, error)
	Balance(ctx context.Context, currency string) (float64, error)
	SubmitMarketBuy(ctx context.Context, market string, notional float64) (model.OrderReceipt, error)
	SubmitMarketSell(ctx context.Context, market string, quantity float64) (model.OrderReceipt, error)
}

// exitRecord 以开仓记录计算平仓收益
func exitRecord(pos model.Position, order Order, quantity float64, simulated bool, orderID string) model.TradeRecord {
	profitRatio := pos.ProfitRatio(order.Price)
	profitAmount := pos.Notional * profitRatio
	return model.TradeRecord{
		Action:       order.Action,
		Price:        order.Price,
		Notional:     quantity * order.Price,
		Quantity:     quantity,
		ProfitRatio:  &profitRatio,
		ProfitAmount: &profitAmount,
		Timestamp:    order.Time,
		Simulated:    simulated,
		OrderID:      orderID,
	}
}
