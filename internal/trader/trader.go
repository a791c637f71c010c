package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/executor"
	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/internal/strategy"

	"go.uber.org/zap"
)

var (
	// ErrLiveUnavailable 没有配置实盘执行器时不能关闭模拟模式
	ErrLiveUnavailable = errors.New("live executor not configured")
	// ErrMarketLocked 持仓期间不能切换市场
	ErrMarketLocked = errors.New("market cannot change while a position is open")
)

// CandleSource 提供分钟 K 线
type CandleSource interface {
	FetchCandles(ctx context.Context, market string, unit, count int) ([]model.Candle, error)
}

// Config 组装 Trader 所需的依赖
type Config struct {
	Candles   CandleSource
	Tracker   *strategy.PositionTracker
	Simulator executor.Executor
	Live      executor.Executor // 可为 nil，此时只能模拟
	Strategy  service.StrategyConfig
	Logger    *zap.Logger
}

// Status 对外的状态快照
type Status struct {
	Running        bool                   `json:"is_running"`
	Mode           string                 `json:"mode"`
	State          strategy.PositionState `json:"state"`
	Position       *model.Position        `json:"current_position"`
	TradeCount     int                    `json:"trade_count"`
	Config         service.StrategyConfig `json:"config"`
	PendingUpdates int                    `json:"pending_updates"`
	LastTradeTime  *time.Time             `json:"last_trade_time"`
	LastResult     *model.CycleResult     `json:"last_result,omitempty"`
}

type configUpdate struct {
	source string
	apply  func(service.StrategyConfig) (service.StrategyConfig, error)
}

// Trader 策略主循环：单个 worker goroutine 顺序执行周期
// 持仓和成交记录只由 worker 修改；配置更新排队，在周期边界生效
type Trader struct {
	candles   CandleSource
	tracker   *strategy.PositionTracker
	simulator executor.Executor
	live      executor.Executor
	logger    *zap.Logger
	activity  *ActivityLog
	observers *broadcaster
	now       func() time.Time

	lifeMu sync.Mutex // 串行化 Start/Stop
	closed bool       // Close 之后不能再启动，受 lifeMu 保护

	mu            sync.RWMutex
	cfg           service.StrategyConfig
	pending       []configUpdate
	running       bool
	stopCh        chan struct{}
	done          chan struct{}
	lastResult    *model.CycleResult
	lastSnapshot  *model.AnalysisSnapshot
	lastTradeTime time.Time
}

func New(cfg Config) (*Trader, error) {
	if cfg.Candles == nil || cfg.Tracker == nil || cfg.Simulator == nil {
		return nil, errors.New("trader: candles, tracker and simulator are required")
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("trader: %w", err)
	}
	if !cfg.Strategy.SimulationMode && cfg.Live == nil {
		return nil, fmt.Errorf("trader: %w", ErrLiveUnavailable)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = service.Logger
	}
	logger = logger.With(zap.String("component", "trader"))

	return &Trader{
		candles:   cfg.Candles,
		tracker:   cfg.Tracker,
		simulator: cfg.Simulator,
		live:      cfg.Live,
		logger:    logger,
		activity:  NewActivityLog(DefaultActivityCapacity),
		observers: newBroadcaster(logger),
		now:       time.Now,
		cfg:       cfg.Strategy,
	}, nil
}

// AddObserver 注册观察者，每个观察者在独立的 goroutine 中接收事件
func (t *Trader) AddObserver(o Observer) {
	t.observers.add(o)
}

// OnObserverDrop 观察者队列已满丢弃事件时回调
func (t *Trader) OnObserverDrop(fn func(observer string)) {
	t.observers.setOnDrop(fn)
}

// Start 启动策略循环；已在运行或已关闭时返回 false
func (t *Trader) Start(ctx context.Context) bool {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.closed {
		return false
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return false
	}
	prev := t.done
	t.mu.Unlock()

	// 上一个 worker 可能仍在完成最后一个周期
	if prev != nil {
		<-prev
	}

	t.mu.Lock()
	stop := make(chan struct{})
	done := make(chan struct{})
	t.running = true
	t.stopCh = stop
	t.done = done
	cfg := t.cfg
	t.mu.Unlock()

	go t.run(ctx, stop, done)

	t.logger.Info("Strategy loop starting",
		zap.String("Market", cfg.Market),
		zap.String("Interval", service.FormatInterval(cfg.EvaluationInterval)),
		zap.Bool("Simulation", cfg.SimulationMode))
	t.activity.Add(LevelInfo, fmt.Sprintf("auto trading started (%s, every %s, simulation=%t)",
		cfg.Market, service.FormatInterval(cfg.EvaluationInterval), cfg.SimulationMode))
	return true
}

// Stop 请求停止：不再开始新的周期，进行中的周期会执行完；未运行时返回 false
func (t *Trader) Stop() bool {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.logger.Info("Strategy loop stop requested")
	t.activity.Add(LevelInfo, "auto trading stopped")
	return true
}

// Wait 阻塞直到最近一次启动的 worker 退出
func (t *Trader) Wait() {
	t.mu.RLock()
	done := t.done
	t.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (t *Trader) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Close 停止循环并关闭观察者队列，之后 Start 不再生效
func (t *Trader) Close() {
	t.lifeMu.Lock()
	t.closed = true
	t.lifeMu.Unlock()

	t.Stop()
	t.Wait()
	t.observers.close()
}

func (t *Trader) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.stopCh == stop && t.running {
			// ctx 结束导致的退出
			t.running = false
		}
		t.mu.Unlock()
		t.logger.Info("Strategy loop exited")
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		cfg := t.applyPending()
		result := t.RunCycle(ctx, cfg)
		t.publish(result)

		delay := cfg.EvaluationInterval
		if result.Failed {
			delay = cfg.ErrorBackoff
			t.logger.Warn("Cycle failed, backing off", zap.Duration("Delay", delay), zap.String("Error", result.Error))
		}

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle 执行一个完整的策略周期：取数 -> 分析 -> 风控 -> 信号 -> 执行
func (t *Trader) RunCycle(ctx context.Context, cfg service.StrategyConfig) (result model.CycleResult) {
	start := t.now()
	result = model.CycleResult{Timestamp: start, Action: model.ActionHold}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Cycle panicked", zap.Any("Panic", r))
			result.Failed = true
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = t.now().Sub(start)
		result.PositionOpen = t.tracker.CurrentState() == strategy.StateOpen
	}()

	candles, err := t.candles.FetchCandles(ctx, cfg.Market, cfg.CandleUnit, cfg.CandleCount)
	if err != nil {
		t.logger.Error("Failed to fetch candles", zap.String("Market", cfg.Market), zap.Error(err))
		t.activity.Add(LevelError, "candle fetch failed: "+err.Error())
		result.Failed = true
		result.Error = err.Error()
		return result
	}

	snapshot, ok := strategy.Analyze(candles, cfg, start)
	if !ok {
		t.logger.Debug("Insufficient candle history", zap.Int("Candles", len(candles)), zap.Int("Required", cfg.LongMAPeriod))
		result.Success = true
		result.Reason = "insufficient data"
		return result
	}
	result.Snapshot = &snapshot
	result.Price = snapshot.CurrentPrice
	t.logger.Info("Market analysis", zap.Stringer("Snapshot", snapshot))

	// 1. 风控优先，触发后不再计算信号
	pos, open := t.tracker.Position()
	if open {
		if d, fired := strategy.CheckRisk(pos, snapshot.CurrentPrice, start, cfg); fired {
			return t.execute(ctx, cfg, d, result)
		}
	}

	// 2. 常规信号
	d := strategy.GenerateSignal(snapshot, open, cfg)
	if d.Action == model.ActionHold {
		t.logger.Debug("HOLD", zap.String("Reason", d.Reason))
		result.Success = true
		result.Reason = d.Reason
		return result
	}

	t.mu.Lock()
	t.lastTradeTime = start
	t.mu.Unlock()
	return t.execute(ctx, cfg, d, result)
}

func (t *Trader) execute(ctx context.Context, cfg service.StrategyConfig, d strategy.Decision, result model.CycleResult) model.CycleResult {
	result.Action = d.Action
	result.Reason = d.Reason

	if err := t.tracker.CheckTransition(d.Action); err != nil {
		t.logger.Warn("Action rejected by position state", zap.String("Action", d.Action.String()), zap.Error(err))
		t.activity.Add(LevelWarning, fmt.Sprintf("%s rejected: %v", d.Action, err))
		result.Error = err.Error()
		return result
	}

	exec := t.executorFor(cfg)
	result.Executed = true
	record, err := exec.Execute(ctx, executor.Order{
		Action: d.Action,
		Price:  result.Price,
		Time:   result.Timestamp,
		Config: cfg,
	})
	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, executor.ErrPositionDiverged) {
			t.logger.Warn("Local position diverged from exchange, reconciled to FLAT", zap.String("Action", d.Action.String()))
			t.activity.Add(LevelWarning, "position reconciled: "+err.Error())
		} else {
			t.logger.Error("Execution failed", zap.String("Action", d.Action.String()), zap.String("Mode", exec.Mode()), zap.Error(err))
			t.activity.Add(LevelError, fmt.Sprintf("%s failed: %v", d.Action, err))
		}
		return result
	}

	result.Success = true
	t.logger.Info("!!! TRADE EXECUTED !!!",
		zap.String("Mode", exec.Mode()),
		zap.Stringer("Record", record),
		zap.String("Reason", d.Reason))
	t.activity.Add(LevelTrade, fmt.Sprintf("[%s] %s (%s)", exec.Mode(), record, d.Reason))
	t.observers.publishTrade(record)
	return result
}

func (t *Trader) executorFor(cfg service.StrategyConfig) executor.Executor {
	if cfg.SimulationMode || t.live == nil {
		return t.simulator
	}
	return t.live
}

func (t *Trader) publish(result model.CycleResult) {
	t.mu.Lock()
	t.lastResult = &result
	if result.Snapshot != nil {
		t.lastSnapshot = result.Snapshot
	}
	t.mu.Unlock()

	t.observers.publishCycle(result)
}

// UpdateConfig 校验并排队部分配置更新，下一个周期开始前生效
func (t *Trader) UpdateConfig(patch service.ConfigPatch) error {
	return t.enqueue(configUpdate{source: "api", apply: patch.Apply})
}

// ReplaceConfig 排队整份策略配置 (配置文件热加载)
func (t *Trader) ReplaceConfig(cfg service.StrategyConfig) error {
	return t.enqueue(configUpdate{
		source: "file",
		apply: func(service.StrategyConfig) (service.StrategyConfig, error) {
			return cfg, cfg.Validate()
		},
	})
}

func (t *Trader) enqueue(u configUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// 在当前配置加上已排队的更新之上预演
	preview := t.cfg
	for _, p := range t.pending {
		if next, err := p.apply(preview); err == nil {
			preview = next
		}
	}
	next, err := u.apply(preview)
	if err != nil {
		return err
	}
	if !next.SimulationMode && t.live == nil {
		return ErrLiveUnavailable
	}
	if err := t.checkMarket(next); err != nil {
		return err
	}

	t.pending = append(t.pending, u)
	t.logger.Info("Config update queued", zap.String("Source", u.source), zap.Int("Pending", len(t.pending)))
	t.activity.Add(LevelInfo, fmt.Sprintf("config update queued (%s)", u.source))
	return nil
}

// checkMarket 持仓期间市场必须与开仓时一致，调用方持有 t.mu
func (t *Trader) checkMarket(next service.StrategyConfig) error {
	pos, open := t.tracker.Position()
	if !open {
		return nil
	}
	market := pos.Market
	if market == "" {
		market = t.cfg.Market
	}
	if next.Market != market {
		return fmt.Errorf("%w: holding %s, requested %s", ErrMarketLocked, market, next.Market)
	}
	return nil
}

// applyPending 在周期边界应用排队的配置，返回本周期使用的配置
func (t *Trader) applyPending() service.StrategyConfig {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return t.cfg
	}

	prev := t.cfg
	applied := 0
	for _, u := range t.pending {
		next, err := u.apply(t.cfg)
		if err == nil {
			// 排队后可能已经开仓
			err = t.checkMarket(next)
		}
		if err != nil {
			t.logger.Warn("Dropping config update", zap.String("Source", u.source), zap.Error(err))
			t.activity.Add(LevelWarning, fmt.Sprintf("config update dropped (%s): %v", u.source, err))
			continue
		}
		t.cfg = next
		applied++
	}
	t.pending = nil
	if applied == 0 {
		return t.cfg
	}

	if prev.SimulationMode != t.cfg.SimulationMode {
		t.logger.Warn("Executor switched", zap.String("Mode", t.executorFor(t.cfg).Mode()))
	}
	t.logger.Info("Config applied",
		zap.String("Market", t.cfg.Market),
		zap.Duration("Interval", t.cfg.EvaluationInterval),
		zap.Bool("Simulation", t.cfg.SimulationMode))
	t.activity.Add(LevelInfo, "config applied")
	return t.cfg
}

// Status 返回状态快照
func (t *Trader) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Status{
		Running:        t.running,
		Mode:           t.executorFor(t.cfg).Mode(),
		State:          t.tracker.CurrentState(),
		TradeCount:     t.tracker.TradeCount(),
		Config:         t.cfg,
		PendingUpdates: len(t.pending),
	}
	if pos, ok := t.tracker.Position(); ok {
		s.Position = &pos
	}
	if !t.lastTradeTime.IsZero() {
		ts := t.lastTradeTime
		s.LastTradeTime = &ts
	}
	if t.lastResult != nil {
		r := *t.lastResult
		s.LastResult = &r
	}
	return s
}

// Performance 绩效统计
func (t *Trader) Performance() model.PerformanceSummary {
	return t.tracker.Performance()
}

// LastSnapshot 最近一次成功分析的市场快照
func (t *Trader) LastSnapshot() (model.AnalysisSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastSnapshot == nil {
		return model.AnalysisSnapshot{}, false
	}
	return *t.lastSnapshot, true
}

// Trades 成交记录副本
func (t *Trader) Trades() []model.TradeRecord {
	return t.tracker.History()
}

// Activity 最近 n 条活动日志
func (t *Trader) Activity(n int) []ActivityEntry {
	return t.activity.Recent(n)
}
