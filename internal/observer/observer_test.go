package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

type fakeRedis struct {
	mu        sync.Mutex
	published map[string][]string
	keys      map[string]string
	ttl       map[string]time.Duration
	err       error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: map[string][]string{},
		keys:      map[string]string{},
		ttl:       map[string]time.Duration{},
	}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	f.published[channel] = append(f.published[channel], message.(string))
	f.mu.Unlock()
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	f.keys[key] = value.(string)
	f.ttl[key] = expiration
	f.mu.Unlock()
	cmd.SetVal("OK")
	return cmd
}

func TestRedisPublisherCycle(t *testing.T) {
	rdb := newFakeRedis()
	p := NewRedisPublisher(rdb, "bot", func() string { return "KRW-BTC" }, zaptest.NewLogger(t))

	p.OnCycle(model.CycleResult{
		Action:   model.ActionBuy,
		Price:    50_000_000,
		Executed: true,
		Success:  true,
		Snapshot: &model.AnalysisSnapshot{RSI: 55},
	})

	require.Len(t, rdb.published["bot:cycles"], 1)
	msg := gjson.Parse(rdb.published["bot:cycles"][0])
	assert.Equal(t, "cycle", msg.Get("type").String())
	assert.Equal(t, "KRW-BTC", msg.Get("market").String())
	assert.Equal(t, "BUY", msg.Get("data.action").String())
	assert.Equal(t, 55.0, msg.Get("data.snapshot.rsi").Float())

	assert.Equal(t, rdb.published["bot:cycles"][0], rdb.keys["bot:last-cycle"])
	assert.Equal(t, lastCycleTTL, rdb.ttl["bot:last-cycle"])
}

func TestRedisPublisherTrade(t *testing.T) {
	rdb := newFakeRedis()
	p := NewRedisPublisher(rdb, "", func() string { return "KRW-ETH" }, zaptest.NewLogger(t))

	profit := 0.05
	p.OnTrade(model.TradeRecord{Action: model.ActionTakeProfit, Price: 4_200_000, ProfitRatio: &profit})

	require.Len(t, rdb.published["upbit-trader:trades"], 1)
	msg := gjson.Parse(rdb.published["upbit-trader:trades"][0])
	assert.Equal(t, "trade", msg.Get("type").String())
	assert.Equal(t, "TAKE_PROFIT", msg.Get("data.action").String())
	assert.Empty(t, rdb.keys)
}

func TestRedisPublisherSwallowsErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	p := NewRedisPublisher(rdb, "bot", func() string { return "KRW-BTC" }, zaptest.NewLogger(t))

	assert.NotPanics(t, func() {
		p.OnCycle(model.CycleResult{Action: model.ActionHold})
		p.OnTrade(model.TradeRecord{Action: model.ActionBuy})
	})
	assert.Empty(t, rdb.published)
}

func TestLogObserver(t *testing.T) {
	o := NewLogObserver(zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		o.OnCycle(model.CycleResult{Action: model.ActionHold, Reason: "no entry condition"})
		o.OnCycle(model.CycleResult{Failed: true, Error: "timeout"})
		o.OnTrade(model.TradeRecord{Action: model.ActionBuy, Price: 100})
	})
}
