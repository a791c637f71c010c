package strategy

import (
	"fmt"
	"math"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
)

// GenerateSignal 根据市场快照和当前是否持仓，生成 BUY / SELL / HOLD
// 纯函数：相同输入永远得到相同输出；风控平仓在此之前判断
func GenerateSignal(s model.AnalysisSnapshot, hasPosition bool, cfg service.StrategyConfig) Decision {
	// 1. 过滤条件：流动性不足或价格变动太小，一律 HOLD
	if s.VolumeRatio < cfg.MinVolumeRatio {
		return hold("volume ratio %.2f below %.2f", s.VolumeRatio, cfg.MinVolumeRatio)
	}
	if math.Abs(s.PriceChangeRatio) < cfg.MinPriceChangeRatio {
		return hold("price change %.4f below %.4f", math.Abs(s.PriceChangeRatio), cfg.MinPriceChangeRatio)
	}

	goldenCross := s.ShortMA > s.LongMA
	deadCross := s.ShortMA < s.LongMA

	// 2. 开仓：空仓 + 金叉 + RSI 位于超卖和超买之间
	if !hasPosition {
		if goldenCross && s.RSI < cfg.RSIOverbought && s.RSI > cfg.RSIOversold {
			return Decision{
				Action: model.ActionBuy,
				Reason: fmt.Sprintf("golden cross (%.0f > %.0f), RSI %.1f", s.ShortMA, s.LongMA, s.RSI),
			}
		}
		return hold("no entry condition")
	}

	// 3. 平仓：死叉且未超卖，或 RSI 超买
	if deadCross && s.RSI > cfg.RSIOversold {
		return Decision{
			Action: model.ActionSell,
			Reason: fmt.Sprintf("dead cross (%.0f < %.0f), RSI %.1f", s.ShortMA, s.LongMA, s.RSI),
		}
	}
	if s.RSI > cfg.RSIOverbought {
		return Decision{
			Action: model.ActionSell,
			Reason: fmt.Sprintf("RSI overbought %.1f", s.RSI),
		}
	}

	return hold("no exit condition")
}
