package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultStrategyConfig(), cfg.Strategy)
	assert.Equal(t, "https://api.upbit.com", cfg.Exchange.RESTURL)
	assert.Equal(t, 30*time.Second, cfg.Exchange.PriceStaleness)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.AutoStart)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := writeConfig(t, `
auto_start: true
strategy:
  market: KRW-ETH
  evaluation_interval: 1m
  max_holding_duration: 12h
  short_ma_period: 3
  long_ma_period: 10
log:
  level: debug
`)
	loader := NewConfigLoader(dir)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.True(t, cfg.AutoStart)
	assert.Equal(t, "KRW-ETH", cfg.Strategy.Market)
	assert.Equal(t, time.Minute, cfg.Strategy.EvaluationInterval)
	assert.Equal(t, 12*time.Hour, cfg.Strategy.MaxHoldingDuration)
	assert.Equal(t, 3, cfg.Strategy.ShortMAPeriod)
	assert.Equal(t, 10, cfg.Strategy.LongMAPeriod)
	// 未配置的字段保持默认
	assert.Equal(t, 14, cfg.Strategy.RSIPeriod)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NotEmpty(t, loader.ConfigFileUsed())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TRADER_STRATEGY_MARKET", "KRW-XRP")
	t.Setenv("UPBIT_OPEN_API_ACCESS_KEY", "access")
	t.Setenv("UPBIT_OPEN_API_SECRET_KEY", "secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "KRW-XRP", cfg.Strategy.Market)
	assert.True(t, cfg.Exchange.HasCredentials())
}

func TestLoadConfigRejectsInvalidStrategy(t *testing.T) {
	dir := writeConfig(t, `
strategy:
  short_ma_period: 30
  long_ma_period: 20
`)
	_, err := LoadConfig(dir)
	assert.ErrorContains(t, err, "short_ma_period")
}

func TestLoadConfigLiveNeedsCredentials(t *testing.T) {
	dir := writeConfig(t, `
strategy:
  simulation_mode: false
`)
	_, err := LoadConfig(dir)
	assert.ErrorContains(t, err, "access_key")
}

func TestStrategyConfigValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultStrategyConfig()
	cfg.Market = "BTC"
	cfg.StopLossRatio = 0.1
	cfg.RSIOversold = 80

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid market code")
	assert.ErrorContains(t, err, "stop_loss_ratio")
	assert.ErrorContains(t, err, "rsi thresholds")
	assert.NoError(t, DefaultStrategyConfig().Validate())
}

func TestConfigPatchApply(t *testing.T) {
	interval := "30s"
	short := 7
	sim := false
	patch := ConfigPatch{EvaluationInterval: &interval, ShortMAPeriod: &short, SimulationMode: &sim}

	base := DefaultStrategyConfig()
	got, err := patch.Apply(base)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, got.EvaluationInterval)
	assert.Equal(t, 7, got.ShortMAPeriod)
	assert.False(t, got.SimulationMode)
	assert.Equal(t, base.LongMAPeriod, got.LongMAPeriod)
	// 原配置不被修改
	assert.Equal(t, 5, base.ShortMAPeriod)
}

func TestConfigPatchApplyRejects(t *testing.T) {
	bad := "soon"
	_, err := ConfigPatch{MaxHoldingDuration: &bad}.Apply(DefaultStrategyConfig())
	assert.ErrorContains(t, err, "max_holding_duration")

	long := 3
	_, err = ConfigPatch{LongMAPeriod: &long}.Apply(DefaultStrategyConfig())
	assert.ErrorContains(t, err, "long_ma_period")
}

func TestSplitMarket(t *testing.T) {
	quote, base, err := SplitMarket("KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, "KRW", quote)
	assert.Equal(t, "BTC", base)

	for _, bad := range []string{"", "KRWBTC", "KRW-", "-BTC", "A-B-C"} {
		_, _, err := SplitMarket(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "5m", FormatInterval(5*time.Minute))
	assert.Equal(t, "1h", FormatInterval(time.Hour))
	assert.Equal(t, "30s", FormatInterval(30*time.Second))
	assert.Equal(t, "90m", FormatInterval(90*time.Minute))
}
