package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPublishTimeout = 2 * time.Second
	lastCycleTTL          = time.Hour
)

// RedisWriter *redis.Client 中用到的部分
type RedisWriter interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Event 发布到 Redis 的消息
type Event struct {
	Type   string `json:"type"`
	Market string `json:"market"`
	Data   any    `json:"data"`
}

// RedisPublisher 把周期结果和成交发布到 Redis 频道：
// <prefix>:cycles、<prefix>:trades，并缓存最近一次周期结果到 <prefix>:last-cycle
type RedisPublisher struct {
	rdb     RedisWriter
	prefix  string
	market  func() string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisPublisher market 在每次发布时读取，配置热更新后保持一致
func NewRedisPublisher(rdb RedisWriter, prefix string, market func() string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "upbit-trader"
	}
	return &RedisPublisher{
		rdb:     rdb,
		prefix:  prefix,
		market:  market,
		timeout: defaultPublishTimeout,
		logger:  logger.With(zap.String("component", "redis-publisher")),
	}
}

func (p *RedisPublisher) CyclesChannel() string { return p.prefix + ":cycles" }
func (p *RedisPublisher) TradesChannel() string { return p.prefix + ":trades" }
func (p *RedisPublisher) LastCycleKey() string  { return p.prefix + ":last-cycle" }

func (p *RedisPublisher) OnCycle(r model.CycleResult) {
	encoded, ok := p.encode("cycle", r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.CyclesChannel(), encoded).Err(); err != nil {
		p.logger.Warn("Failed to publish cycle", zap.Error(err))
	}
	if err := p.rdb.Set(ctx, p.LastCycleKey(), encoded, lastCycleTTL).Err(); err != nil {
		p.logger.Warn("Failed to cache last cycle", zap.Error(err))
	}
}

func (p *RedisPublisher) OnTrade(r model.TradeRecord) {
	encoded, ok := p.encode("trade", r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.TradesChannel(), encoded).Err(); err != nil {
		p.logger.Warn("Failed to publish trade", zap.Error(err))
	}
}

func (p *RedisPublisher) encode(kind string, data any) (string, bool) {
	encoded, err := json.Marshal(Event{Type: kind, Market: p.market(), Data: data})
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("Type", kind), zap.Error(err))
		return "", false
	}
	return string(encoded), true
}
