package executor

import (
	"context"
	"fmt"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SimulatorExecutor 实现了 Executor 接口，不调用交易所，直接以快照价格成交
type SimulatorExecutor struct {
	tracker *strategy.PositionTracker
	logger  *zap.Logger
}

// NewSimulatorExecutor 构造函数
func NewSimulatorExecutor(tracker *strategy.PositionTracker, logger *zap.Logger) *SimulatorExecutor {
	return &SimulatorExecutor{
		tracker: tracker,
		logger:  logger.With(zap.String("executor", "Simulator")),
	}
}

func (e *SimulatorExecutor) Mode() string {
	return ModeSimulated
}

// Execute 模拟下单和成交
func (e *SimulatorExecutor) Execute(ctx context.Context, order Order) (model.TradeRecord, error) {
	if order.Price <= 0 {
		return model.TradeRecord{}, fmt.Errorf("invalid price %.4f", order.Price)
	}

	orderID := "SIM-" + uuid.NewString()

	switch {
	case order.Action == model.ActionBuy:
		amount := order.Config.SimulatedOrderAmount
		pos := model.Position{
			Market:     order.Config.Market,
			EntryPrice: order.Price,
			EntryTime:  order.Time,
			Notional:   amount,
			Quantity:   amount / order.Price,
			Simulated:  true,
			OrderID:    orderID,
		}
		record := model.TradeRecord{
			Action:    model.ActionBuy,
			Price:     order.Price,
			Notional:  pos.Notional,
			Quantity:  pos.Quantity,
			Timestamp: order.Time,
			Simulated: true,
			OrderID:   orderID,
		}
		if err := e.tracker.Open(pos, record); err != nil {
			return model.TradeRecord{}, err
		}

		e.logger.Info("Sim ORDER FILLED (BUY)",
			zap.Float64("Notional", amount),
			zap.Float64("Price", order.Price),
			zap.String("OrderID", orderID))
		return record, nil

	case order.Action.IsExit():
		pos, ok := e.tracker.Position()
		if !ok {
			return model.TradeRecord{}, strategy.ErrNoPosition
		}
		record := exitRecord(pos, order, pos.Quantity, true, orderID)
		// 模拟模式下平仓金额沿用开仓金额
		record.Notional = pos.Notional
		if _, err := e.tracker.Close(record); err != nil {
			return model.TradeRecord{}, err
		}

		e.logger.Info("Sim POSITION CLOSED",
			zap.String("Action", order.Action.String()),
			zap.Float64("Price", order.Price),
			zap.Float64("ProfitRatio", *record.ProfitRatio),
			zap.Float64("Profit", *record.ProfitAmount))
		return record, nil
	}

	return model.TradeRecord{}, fmt.Errorf("unsupported action %s", order.Action)
}
