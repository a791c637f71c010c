package strategy

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"go.uber.org/zap"
)

var (
	// ErrPositionOpen 已持仓时再次开仓
	ErrPositionOpen = errors.New("position already open")
	// ErrNoPosition 空仓时尝试平仓
	ErrNoPosition = errors.New("no open position")
)

// PositionTracker 持仓状态机：FLAT <-> OPEN
// 只有执行器会修改它，外部读取一律返回副本
type PositionTracker struct {
	mu       sync.RWMutex
	state    PositionState
	position model.Position
	history  []model.TradeRecord // 只追加
	logger   *zap.Logger
}

// NewPositionTracker 初始化为空仓
func NewPositionTracker(logger *zap.Logger) *PositionTracker {
	return &PositionTracker{
		state:  StateFlat,
		logger: logger.With(zap.String("component", "position")),
	}
}

// CurrentState 当前状态
func (pt *PositionTracker) CurrentState() PositionState {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.state
}

// Position 返回当前持仓的副本
func (pt *PositionTracker) Position() (model.Position, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pt.state != StateOpen {
		return model.Position{}, false
	}
	return pt.position, true
}

// CheckTransition 在调用执行器之前校验操作是否合法
func (pt *PositionTracker) CheckTransition(action model.Action) error {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.checkLocked(action)
}

func (pt *PositionTracker) checkLocked(action model.Action) error {
	switch {
	case action == model.ActionBuy && pt.state == StateOpen:
		return ErrPositionOpen
	case action.IsExit() && pt.state == StateFlat:
		return ErrNoPosition
	case action != model.ActionBuy && !action.IsExit():
		return fmt.Errorf("action %s does not change position", action)
	}
	return nil
}

// Open FLAT -> OPEN，同时追加 BUY 记录
func (pt *PositionTracker) Open(pos model.Position, record model.TradeRecord) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if err := pt.checkLocked(model.ActionBuy); err != nil {
		return err
	}
	pt.position = pos
	pt.state = StateOpen
	pt.history = append(pt.history, record)

	pt.logger.Info(
		"!!! State Transition !!!",
		zap.String("From", string(StateFlat)),
		zap.String("To", string(StateOpen)),
		zap.Float64("EntryPrice", pos.EntryPrice),
		zap.Float64("Notional", pos.Notional),
		zap.Bool("Simulated", pos.Simulated),
	)
	return nil
}

// Close OPEN -> FLAT，追加平仓记录并返回被关闭的持仓
func (pt *PositionTracker) Close(record model.TradeRecord) (model.Position, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !record.Action.IsExit() {
		return model.Position{}, fmt.Errorf("action %s is not an exit", record.Action)
	}
	if err := pt.checkLocked(record.Action); err != nil {
		return model.Position{}, err
	}
	closed := pt.position
	pt.position = model.Position{}
	pt.state = StateFlat
	pt.history = append(pt.history, record)

	fields := []zap.Field{
		zap.String("From", string(StateOpen)),
		zap.String("To", string(StateFlat)),
		zap.String("Action", record.Action.String()),
		zap.Float64("ExitPrice", record.Price),
	}
	if record.ProfitRatio != nil {
		fields = append(fields, zap.Float64("ProfitRatio", *record.ProfitRatio))
	}
	pt.logger.Info("!!! State Transition !!!", fields...)
	return closed, nil
}

// Reconcile 本地记录与交易所不一致时强制回到 FLAT，不产生成交记录
func (pt *PositionTracker) Reconcile(reason string) (model.Position, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.state != StateOpen {
		return model.Position{}, false
	}
	dropped := pt.position
	pt.position = model.Position{}
	pt.state = StateFlat

	pt.logger.Warn("Position reconciled to FLAT",
		zap.String("Reason", reason),
		zap.Float64("EntryPrice", dropped.EntryPrice),
		zap.Time("EntryTime", dropped.EntryTime),
	)
	return dropped, true
}

// History 返回成交记录的副本
func (pt *PositionTracker) History() []model.TradeRecord {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return slices.Clone(pt.history)
}

// TradeCount 成交记录条数 (含 BUY)
func (pt *PositionTracker) TradeCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.history)
}

// Performance 只统计平仓记录
func (pt *PositionTracker) Performance() model.PerformanceSummary {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	summary := model.PerformanceSummary{HasPosition: pt.state == StateOpen}
	for _, r := range pt.history {
		if !r.Action.IsExit() {
			continue
		}
		summary.TotalTrades++
		if r.ProfitAmount != nil {
			summary.TotalProfit += *r.ProfitAmount
		}
		if r.ProfitRatio != nil && *r.ProfitRatio > 0 {
			summary.WinningTrades++
		}
	}
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100
	}
	return summary
}
