package strategy

import (
	"testing"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"
	"github.com/JohnBaeGH/Upbit/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func candlesFrom(closes []float64, volume float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{
			OpenTime: baseTime.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c, High: c, Low: c, Close: c,
			Volume: volume,
		}
	}
	return candles
}

func flatCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return closes
}

func TestAnalyzeInsufficientData(t *testing.T) {
	cfg := service.DefaultStrategyConfig()

	_, ok := Analyze(nil, cfg, baseTime)
	assert.False(t, ok)

	_, ok = Analyze(candlesFrom(flatCloses(cfg.LongMAPeriod-1, 100), 1), cfg, baseTime)
	assert.False(t, ok)
}

func TestAnalyzeFlatMarket(t *testing.T) {
	cfg := service.DefaultStrategyConfig()
	snap, ok := Analyze(candlesFrom(flatCloses(25, 50_000_000), 3), cfg, baseTime)
	require.True(t, ok)

	assert.Equal(t, baseTime, snap.Timestamp)
	assert.Equal(t, 50_000_000.0, snap.CurrentPrice)
	assert.Zero(t, snap.PriceChangeRatio)
	assert.InDelta(t, 50_000_000, snap.ShortMA, 1e-6)
	assert.InDelta(t, 50_000_000, snap.LongMA, 1e-6)
	assert.Equal(t, 100.0, snap.RSI)
	assert.Equal(t, 1.0, snap.VolumeRatio)
}

func TestAnalyzeVolumeAndChange(t *testing.T) {
	cfg := service.DefaultStrategyConfig()
	cfg.ShortMAPeriod, cfg.LongMAPeriod = 2, 5

	candles := candlesFrom([]float64{100, 100, 100, 100, 100, 110}, 10)
	candles[5].Volume = 60 // 最近 5 根: 10,10,10,10,60 -> 平均 20

	snap, ok := Analyze(candles, cfg, baseTime)
	require.True(t, ok)
	assert.InDelta(t, 0.1, snap.PriceChangeRatio, 1e-12)
	assert.Equal(t, 60.0, snap.CurrentVolume)
	assert.InDelta(t, 20.0, snap.AvgVolume, 1e-12)
	assert.InDelta(t, 3.0, snap.VolumeRatio, 1e-12)
	assert.InDelta(t, 105.0, snap.ShortMA, 1e-9)
	assert.InDelta(t, 102.0, snap.LongMA, 1e-9)
}

func TestAnalyzeZeroVolumeRatioDefaultsToOne(t *testing.T) {
	cfg := service.DefaultStrategyConfig()
	snap, ok := Analyze(candlesFrom(flatCloses(20, 100), 0), cfg, baseTime)
	require.True(t, ok)
	assert.Equal(t, 1.0, snap.VolumeRatio)
}

func TestAnalyzeSortsCandles(t *testing.T) {
	cfg := service.DefaultStrategyConfig()
	cfg.ShortMAPeriod, cfg.LongMAPeriod = 2, 3

	ordered := candlesFrom([]float64{100, 101, 102, 110}, 1)
	reversed := []model.Candle{ordered[3], ordered[2], ordered[1], ordered[0]}

	want, ok := Analyze(ordered, cfg, baseTime)
	require.True(t, ok)
	got, ok := Analyze(reversed, cfg, baseTime)
	require.True(t, ok)

	assert.Equal(t, want, got)
	assert.Equal(t, 110.0, got.CurrentPrice)
	// 输入切片不被修改
	assert.Equal(t, 110.0, reversed[0].Close)
}
