package executor

import (
	"context"
	"fmt"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/internal/strategy"

	"go.uber.org/zap"
)

// UpbitExecutor 实现了 Executor 接口，通过交易所下市价单
type UpbitExecutor struct {
	client  ExchangeClient
	tracker *strategy.PositionTracker
	logger  *zap.Logger
}

// NewUpbitExecutor 初始化实盘执行器
func NewUpbitExecutor(client ExchangeClient, tracker *strategy.PositionTracker, logger *zap.Logger) *UpbitExecutor {
	return &UpbitExecutor{
		client:  client,
		tracker: tracker,
		logger:  logger.With(zap.String("executor", "Upbit")),
	}
}

func (e *UpbitExecutor) Mode() string {
	return ModeLive
}

// Execute 将已决定的操作转换为交易所市价单
func (e *UpbitExecutor) Execute(ctx context.Context, order Order) (model.TradeRecord, error) {
	if order.Price <= 0 {
		return model.TradeRecord{}, fmt.Errorf("invalid price %.4f", order.Price)
	}
	// 1. 本地状态不允许时不调用交易所
	if err := e.tracker.CheckTransition(order.Action); err != nil {
		return model.TradeRecord{}, err
	}

	if order.Action == model.ActionBuy {
		quote, _, err := service.SplitMarket(order.Config.Market)
		if err != nil {
			return model.TradeRecord{}, err
		}
		return e.buy(ctx, order, quote)
	}
	return e.sell(ctx, order)
}

func (e *UpbitExecutor) buy(ctx context.Context, order Order, quote string) (model.TradeRecord, error) {
	cfg := order.Config

	balance, err := e.client.Balance(ctx, quote)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("query %s balance: %w", quote, err)
	}

	notional := balance * cfg.MaxInvestmentRatio
	if cfg.MaxOrderAmount > 0 && notional > cfg.MaxOrderAmount {
		notional = cfg.MaxOrderAmount
	}
	if notional < cfg.MinOrderAmount {
		e.logger.Warn("Insufficient investable amount",
			zap.Float64("Balance", balance),
			zap.Float64("Notional", notional),
			zap.Float64("MinOrderAmount", cfg.MinOrderAmount))
		return model.TradeRecord{}, fmt.Errorf("%w: %.0f < %.0f %s", ErrOrderTooSmall, notional, cfg.MinOrderAmount, quote)
	}

	receipt, err := e.client.SubmitMarketBuy(ctx, cfg.Market, notional)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("submit market buy: %w", err)
	}

	pos := model.Position{
		Market:     cfg.Market,
		EntryPrice: order.Price,
		EntryTime:  order.Time,
		Notional:   notional,
		Quantity:   notional / order.Price,
		OrderID:    receipt.OrderID,
	}
	record := model.TradeRecord{
		Action:    model.ActionBuy,
		Price:     order.Price,
		Notional:  notional,
		Quantity:  pos.Quantity,
		Timestamp: order.Time,
		OrderID:   receipt.OrderID,
	}
	if err := e.tracker.Open(pos, record); err != nil {
		// 订单已提交但本地状态拒绝，只能人工处理
		e.logger.Error("Order filled but position rejected", zap.String("OrderID", receipt.OrderID), zap.Error(err))
		return model.TradeRecord{}, err
	}

	e.logger.Info("ORDER SUBMITTED (BUY)",
		zap.String("Market", cfg.Market),
		zap.Float64("Notional", notional),
		zap.Float64("Price", order.Price),
		zap.String("OrderID", receipt.OrderID))
	return record, nil
}

func (e *UpbitExecutor) sell(ctx context.Context, order Order) (model.TradeRecord, error) {
	pos, ok := e.tracker.Position()
	if !ok {
		return model.TradeRecord{}, strategy.ErrNoPosition
	}

	// 只卖出开仓时买入的币种
	market := pos.Market
	if market == "" {
		market = order.Config.Market
	}
	_, base, err := service.SplitMarket(market)
	if err != nil {
		return model.TradeRecord{}, err
	}

	// 以交易所余额为准，而不是本地记录的数量
	quantity, err := e.client.Balance(ctx, base)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("query %s balance: %w", base, err)
	}
	if quantity <= 0 {
		e.tracker.Reconcile(fmt.Sprintf("exchange %s balance is zero", base))
		return model.TradeRecord{}, ErrPositionDiverged
	}

	receipt, err := e.client.SubmitMarketSell(ctx, market, quantity)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("submit market sell: %w", err)
	}

	record := exitRecord(pos, order, quantity, false, receipt.OrderID)
	if _, err := e.tracker.Close(record); err != nil {
		e.logger.Error("Order filled but position close rejected", zap.String("OrderID", receipt.OrderID), zap.Error(err))
		return model.TradeRecord{}, err
	}

	e.logger.Info("ORDER SUBMITTED (SELL)",
		zap.String("Action", order.Action.String()),
		zap.Float64("Quantity", quantity),
		zap.Float64("Price", order.Price),
		zap.Float64("ProfitRatio", *record.ProfitRatio),
		zap.String("OrderID", receipt.OrderID))
	return record, nil
}
