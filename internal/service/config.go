// internal/service/config.go
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	AutoStart bool           `mapstructure:"auto_start"`
	Exchange  ExchangeConfig `mapstructure:"exchange"`
	Strategy  StrategyConfig `mapstructure:"strategy"`
	Server    ServerConfig   `mapstructure:"server"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Log       LogConfig      `mapstructure:"log"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	RESTURL        string        `mapstructure:"rest_url"`
	WSURL          string        `mapstructure:"ws_url"`
	StreamPrices   bool          `mapstructure:"stream_prices"`
	PriceStaleness time.Duration `mapstructure:"price_staleness"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HasCredentials 实盘下单需要完整的 API Key
func (e ExchangeConfig) HasCredentials() bool {
	return e.AccessKey != "" && e.SecretKey != ""
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RedisConfig Addr 为空时不启用发布
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StrategyConfig 定义了策略参数，每个周期使用一份不可变的副本
type StrategyConfig struct {
	Market             string        `mapstructure:"market" json:"market"`
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval" json:"evaluation_interval"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff" json:"error_backoff"`
	SimulationMode     bool          `mapstructure:"simulation_mode" json:"simulation_mode"`

	CandleUnit  int `mapstructure:"candle_unit" json:"candle_unit"` // 分钟
	CandleCount int `mapstructure:"candle_count" json:"candle_count"`

	MaxInvestmentRatio   float64 `mapstructure:"max_investment_ratio" json:"max_investment_ratio"`
	MinOrderAmount       float64 `mapstructure:"min_order_amount" json:"min_order_amount"`
	MaxOrderAmount       float64 `mapstructure:"max_order_amount" json:"max_order_amount"` // 0 表示不限
	SimulatedOrderAmount float64 `mapstructure:"simulated_order_amount" json:"simulated_order_amount"`

	ShortMAPeriod int     `mapstructure:"short_ma_period" json:"short_ma_period"`
	LongMAPeriod  int     `mapstructure:"long_ma_period" json:"long_ma_period"`
	RSIPeriod     int     `mapstructure:"rsi_period" json:"rsi_period"`
	RSIOversold   float64 `mapstructure:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" json:"rsi_overbought"`

	StopLossRatio      float64       `mapstructure:"stop_loss_ratio" json:"stop_loss_ratio"`
	TakeProfitRatio    float64       `mapstructure:"take_profit_ratio" json:"take_profit_ratio"`
	MaxHoldingDuration time.Duration `mapstructure:"max_holding_duration" json:"max_holding_duration"`

	MinVolumeRatio      float64 `mapstructure:"min_volume_ratio" json:"min_volume_ratio"`
	MinPriceChangeRatio float64 `mapstructure:"min_price_change_ratio" json:"min_price_change_ratio"`
}

// DefaultStrategyConfig 返回默认策略参数
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Market:               "KRW-BTC",
		EvaluationInterval:   5 * time.Minute,
		ErrorBackoff:         time.Minute,
		SimulationMode:       true,
		CandleUnit:           5,
		CandleCount:          50,
		MaxInvestmentRatio:   0.1,
		MinOrderAmount:       5000,
		SimulatedOrderAmount: 100000,
		ShortMAPeriod:        5,
		LongMAPeriod:         20,
		RSIPeriod:            14,
		RSIOversold:          30,
		RSIOverbought:        70,
		StopLossRatio:        -0.03,
		TakeProfitRatio:      0.05,
		MaxHoldingDuration:   24 * time.Hour,
		MinVolumeRatio:       0.5,
		MinPriceChangeRatio:  0.01,
	}
}

// Validate 校验策略参数，返回所有错误
func (c StrategyConfig) Validate() error {
	var errs []error

	if _, _, err := SplitMarket(c.Market); err != nil {
		errs = append(errs, err)
	}
	if c.EvaluationInterval <= 0 {
		errs = append(errs, errors.New("evaluation_interval must be positive"))
	}
	if c.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("error_backoff must be positive"))
	}
	if c.CandleUnit <= 0 {
		errs = append(errs, errors.New("candle_unit must be positive"))
	}
	if c.ShortMAPeriod <= 0 || c.LongMAPeriod <= 0 || c.RSIPeriod <= 0 {
		errs = append(errs, errors.New("indicator periods must be positive"))
	}
	if c.ShortMAPeriod >= c.LongMAPeriod {
		errs = append(errs, fmt.Errorf("short_ma_period (%d) must be less than long_ma_period (%d)", c.ShortMAPeriod, c.LongMAPeriod))
	}
	if c.CandleCount < c.LongMAPeriod {
		errs = append(errs, fmt.Errorf("candle_count (%d) must be at least long_ma_period (%d)", c.CandleCount, c.LongMAPeriod))
	}
	if c.RSIOversold < 0 || c.RSIOverbought > 100 || c.RSIOversold >= c.RSIOverbought {
		errs = append(errs, fmt.Errorf("rsi thresholds must satisfy 0 <= oversold (%.1f) < overbought (%.1f) <= 100", c.RSIOversold, c.RSIOverbought))
	}
	if c.StopLossRatio >= 0 {
		errs = append(errs, errors.New("stop_loss_ratio must be negative"))
	}
	if c.TakeProfitRatio <= 0 {
		errs = append(errs, errors.New("take_profit_ratio must be positive"))
	}
	if c.MaxHoldingDuration <= 0 {
		errs = append(errs, errors.New("max_holding_duration must be positive"))
	}
	if c.MaxInvestmentRatio <= 0 || c.MaxInvestmentRatio > 1 {
		errs = append(errs, errors.New("max_investment_ratio must be in (0, 1]"))
	}
	if c.MinOrderAmount < 0 || c.MaxOrderAmount < 0 {
		errs = append(errs, errors.New("order amounts must not be negative"))
	}
	if c.SimulatedOrderAmount <= 0 {
		errs = append(errs, errors.New("simulated_order_amount must be positive"))
	}
	if c.MinVolumeRatio < 0 || c.MinPriceChangeRatio < 0 {
		errs = append(errs, errors.New("signal filters must not be negative"))
	}

	return errors.Join(errs...)
}

// MarshalJSON 以可读字符串输出时间参数
func (c StrategyConfig) MarshalJSON() ([]byte, error) {
	type plain StrategyConfig
	return json.Marshal(struct {
		plain
		EvaluationInterval string `json:"evaluation_interval"`
		ErrorBackoff       string `json:"error_backoff"`
		MaxHoldingDuration string `json:"max_holding_duration"`
	}{
		plain:              plain(c),
		EvaluationInterval: c.EvaluationInterval.String(),
		ErrorBackoff:       c.ErrorBackoff.String(),
		MaxHoldingDuration: c.MaxHoldingDuration.String(),
	})
}

// Validate 校验整个配置
func (c *Config) Validate() error {
	err := c.Strategy.Validate()
	if !c.Strategy.SimulationMode && !c.Exchange.HasCredentials() {
		err = errors.Join(err, errors.New("live trading requires exchange.access_key and exchange.secret_key"))
	}
	return err
}

// ConfigLoader 封装 viper 实例，负责读取和监听配置文件
type ConfigLoader struct {
	v *viper.Viper
}

// NewConfigLoader 在 configPath 目录中查找 config.yaml
func NewConfigLoader(configPath string) *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("exchange.access_key", "TRADER_EXCHANGE_ACCESS_KEY", "UPBIT_OPEN_API_ACCESS_KEY")
	_ = v.BindEnv("exchange.secret_key", "TRADER_EXCHANGE_SECRET_KEY", "UPBIT_OPEN_API_SECRET_KEY")

	setDefaults(v)
	return &ConfigLoader{v: v}
}

func setDefaults(v *viper.Viper) {
	d := DefaultStrategyConfig()

	v.SetDefault("auto_start", false)

	v.SetDefault("exchange.access_key", "")
	v.SetDefault("exchange.secret_key", "")
	v.SetDefault("exchange.rest_url", "https://api.upbit.com")
	v.SetDefault("exchange.ws_url", "wss://api.upbit.com/websocket/v1")
	v.SetDefault("exchange.stream_prices", true)
	v.SetDefault("exchange.price_staleness", "30s")
	v.SetDefault("exchange.request_timeout", "10s")

	v.SetDefault("strategy.market", d.Market)
	v.SetDefault("strategy.evaluation_interval", d.EvaluationInterval.String())
	v.SetDefault("strategy.error_backoff", d.ErrorBackoff.String())
	v.SetDefault("strategy.simulation_mode", d.SimulationMode)
	v.SetDefault("strategy.candle_unit", d.CandleUnit)
	v.SetDefault("strategy.candle_count", d.CandleCount)
	v.SetDefault("strategy.max_investment_ratio", d.MaxInvestmentRatio)
	v.SetDefault("strategy.min_order_amount", d.MinOrderAmount)
	v.SetDefault("strategy.max_order_amount", d.MaxOrderAmount)
	v.SetDefault("strategy.simulated_order_amount", d.SimulatedOrderAmount)
	v.SetDefault("strategy.short_ma_period", d.ShortMAPeriod)
	v.SetDefault("strategy.long_ma_period", d.LongMAPeriod)
	v.SetDefault("strategy.rsi_period", d.RSIPeriod)
	v.SetDefault("strategy.rsi_oversold", d.RSIOversold)
	v.SetDefault("strategy.rsi_overbought", d.RSIOverbought)
	v.SetDefault("strategy.stop_loss_ratio", d.StopLossRatio)
	v.SetDefault("strategy.take_profit_ratio", d.TakeProfitRatio)
	v.SetDefault("strategy.max_holding_duration", d.MaxHoldingDuration.String())
	v.SetDefault("strategy.min_volume_ratio", d.MinVolumeRatio)
	v.SetDefault("strategy.min_price_change_ratio", d.MinPriceChangeRatio)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "upbit-trader")

	v.SetDefault("log.level", "info")
}

// Load 读取配置文件（不存在时使用默认值和环境变量）并校验
func (l *ConfigLoader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFileUsed 返回实际读取的配置文件路径，未找到时为空
func (l *ConfigLoader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *ConfigLoader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch 监听配置文件变化，每次变化后回调重新解析的结果
func (l *ConfigLoader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// LoadConfig 读取并解析配置
func LoadConfig(configPath string) (*Config, error) {
	return NewConfigLoader(configPath).Load()
}

// ConfigPatch 部分更新策略参数，nil 字段保持不变
// 时间参数使用 Go duration 字符串，例如 "5m"、"24h"
type ConfigPatch struct {
	Market             *string `json:"market,omitempty"`
	EvaluationInterval *string `json:"evaluation_interval,omitempty"`
	ErrorBackoff       *string `json:"error_backoff,omitempty"`
	SimulationMode     *bool   `json:"simulation_mode,omitempty"`

	CandleUnit  *int `json:"candle_unit,omitempty"`
	CandleCount *int `json:"candle_count,omitempty"`

	MaxInvestmentRatio   *float64 `json:"max_investment_ratio,omitempty"`
	MinOrderAmount       *float64 `json:"min_order_amount,omitempty"`
	MaxOrderAmount       *float64 `json:"max_order_amount,omitempty"`
	SimulatedOrderAmount *float64 `json:"simulated_order_amount,omitempty"`

	ShortMAPeriod *int     `json:"short_ma_period,omitempty"`
	LongMAPeriod  *int     `json:"long_ma_period,omitempty"`
	RSIPeriod     *int     `json:"rsi_period,omitempty"`
	RSIOversold   *float64 `json:"rsi_oversold,omitempty"`
	RSIOverbought *float64 `json:"rsi_overbought,omitempty"`

	StopLossRatio      *float64 `json:"stop_loss_ratio,omitempty"`
	TakeProfitRatio    *float64 `json:"take_profit_ratio,omitempty"`
	MaxHoldingDuration *string  `json:"max_holding_duration,omitempty"`

	MinVolumeRatio      *float64 `json:"min_volume_ratio,omitempty"`
	MinPriceChangeRatio *float64 `json:"min_price_change_ratio,omitempty"`
}

// Apply 在 cfg 的副本上应用补丁并校验结果
func (p ConfigPatch) Apply(cfg StrategyConfig) (StrategyConfig, error) {
	var errs []error
	duration := func(dst *time.Duration, src *string, name string) {
		if src == nil {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	setIf(&cfg.Market, p.Market)
	duration(&cfg.EvaluationInterval, p.EvaluationInterval, "evaluation_interval")
	duration(&cfg.ErrorBackoff, p.ErrorBackoff, "error_backoff")
	setIf(&cfg.SimulationMode, p.SimulationMode)
	setIf(&cfg.CandleUnit, p.CandleUnit)
	setIf(&cfg.CandleCount, p.CandleCount)
	setIf(&cfg.MaxInvestmentRatio, p.MaxInvestmentRatio)
	setIf(&cfg.MinOrderAmount, p.MinOrderAmount)
	setIf(&cfg.MaxOrderAmount, p.MaxOrderAmount)
	setIf(&cfg.SimulatedOrderAmount, p.SimulatedOrderAmount)
	setIf(&cfg.ShortMAPeriod, p.ShortMAPeriod)
	setIf(&cfg.LongMAPeriod, p.LongMAPeriod)
	setIf(&cfg.RSIPeriod, p.RSIPeriod)
	setIf(&cfg.RSIOversold, p.RSIOversold)
	setIf(&cfg.RSIOverbought, p.RSIOverbought)
	setIf(&cfg.StopLossRatio, p.StopLossRatio)
	setIf(&cfg.TakeProfitRatio, p.TakeProfitRatio)
	duration(&cfg.MaxHoldingDuration, p.MaxHoldingDuration, "max_holding_duration")
	setIf(&cfg.MinVolumeRatio, p.MinVolumeRatio)
	setIf(&cfg.MinPriceChangeRatio, p.MinPriceChangeRatio)

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
