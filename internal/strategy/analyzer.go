package strategy

import (
	"slices"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/pkg/ta"
)

// volumeWindow 平均成交量取最近 5 根 K 线
const volumeWindow = 5

// Analyze 由 K 线历史生成市场快照
// K 线数量少于长期均线周期时 ok=false (insufficient data)，调用方应视为 HOLD
func Analyze(candles []model.Candle, cfg service.StrategyConfig, now time.Time) (snapshot model.AnalysisSnapshot, ok bool) {
	if len(candles) < cfg.LongMAPeriod || len(candles) == 0 {
		return model.AnalysisSnapshot{}, false
	}

	candles = sortedByTime(candles)

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	shortMA, okShort := ta.MovingAverage(closes, cfg.ShortMAPeriod)
	longMA, okLong := ta.MovingAverage(closes, cfg.LongMAPeriod)
	if !okShort || !okLong {
		return model.AnalysisSnapshot{}, false
	}

	current := closes[len(closes)-1]
	prev := current
	if len(closes) > 1 {
		prev = closes[len(closes)-2]
	}
	var changeRatio float64
	if prev != 0 {
		changeRatio = (current - prev) / prev
	}

	recent := volumes[max(0, len(volumes)-volumeWindow):]
	var volSum float64
	for _, v := range recent {
		volSum += v
	}
	avgVolume := volSum / float64(len(recent))
	currentVolume := volumes[len(volumes)-1]

	volumeRatio := 1.0
	if avgVolume > 0 {
		volumeRatio = currentVolume / avgVolume
	}

	return model.AnalysisSnapshot{
		Timestamp:        now,
		CurrentPrice:     current,
		PriceChangeRatio: changeRatio,
		ShortMA:          shortMA,
		LongMA:           longMA,
		RSI:              ta.RSI(closes, cfg.RSIPeriod),
		CurrentVolume:    currentVolume,
		AvgVolume:        avgVolume,
		VolumeRatio:      volumeRatio,
	}, true
}

// sortedByTime 保证从旧到新；已有序时直接返回原切片
func sortedByTime(candles []model.Candle) []model.Candle {
	less := func(a, b model.Candle) int { return a.OpenTime.Compare(b.OpenTime) }
	if slices.IsSortedFunc(candles, less) {
		return candles
	}
	sorted := slices.Clone(candles)
	slices.SortStableFunc(sorted, less)
	return sorted
}
