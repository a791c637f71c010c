package strategy

import (
	"fmt"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
)

// CheckRisk 检查持仓是否触发止损、止盈或最大持仓时间
// 优先级: STOP_LOSS > TAKE_PROFIT > TIME_LIMIT，每个周期最多触发一个
func CheckRisk(pos model.Position, price float64, now time.Time, cfg service.StrategyConfig) (Decision, bool) {
	profitRatio := pos.ProfitRatio(price)

	if profitRatio <= cfg.StopLossRatio {
		return Decision{
			Action: model.ActionStopLoss,
			Reason: fmt.Sprintf("profit %.2f%% <= stop loss %.2f%%", profitRatio*100, cfg.StopLossRatio*100),
		}, true
	}

	if profitRatio >= cfg.TakeProfitRatio {
		return Decision{
			Action: model.ActionTakeProfit,
			Reason: fmt.Sprintf("profit %.2f%% >= take profit %.2f%%", profitRatio*100, cfg.TakeProfitRatio*100),
		}, true
	}

	if held := now.Sub(pos.EntryTime); held >= cfg.MaxHoldingDuration {
		return Decision{
			Action: model.ActionTimeLimit,
			Reason: fmt.Sprintf("held %s >= %s", held.Round(time.Minute), cfg.MaxHoldingDuration),
		}, true
	}

	return Decision{}, false
}
