package trader

import (
	"fmt"
	"sync"

	"github.com/JohnBaeGH/Upbit/internal/model"

	"go.uber.org/zap"
)

// observerQueueSize 每个观察者的事件缓冲
const observerQueueSize = 64

// Observer 接收周期结果和成交事件
// 回调在观察者自己的 goroutine 中执行，慢的观察者不会阻塞策略循环
type Observer interface {
	OnCycle(result model.CycleResult)
	OnTrade(record model.TradeRecord)
}

type event struct {
	cycle *model.CycleResult
	trade *model.TradeRecord
}

type subscriber struct {
	name     string
	observer Observer
	queue    chan event
	done     chan struct{}
}

func (s *subscriber) loop(logger *zap.Logger) {
	defer close(s.done)
	for ev := range s.queue {
		s.dispatch(ev, logger)
	}
}

func (s *subscriber) dispatch(ev event, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Observer panicked", zap.String("Observer", s.name), zap.Any("Panic", r))
		}
	}()
	if ev.trade != nil {
		s.observer.OnTrade(*ev.trade)
	}
	if ev.cycle != nil {
		s.observer.OnCycle(*ev.cycle)
	}
}

// broadcaster 按观察者扇出事件，队列满时丢弃并计数
type broadcaster struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   []*subscriber
	onDrop func(observer string)
	closed bool
}

func newBroadcaster(logger *zap.Logger) *broadcaster {
	return &broadcaster{logger: logger}
}

func (b *broadcaster) add(o Observer) {
	s := &subscriber{
		name:     fmt.Sprintf("%T", o),
		observer: o,
		queue:    make(chan event, observerQueueSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, s)
	go s.loop(b.logger)
}

func (b *broadcaster) setOnDrop(fn func(string)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

func (b *broadcaster) publishCycle(result model.CycleResult) {
	b.publish(event{cycle: &result})
}

func (b *broadcaster) publishTrade(record model.TradeRecord) {
	b.publish(event{trade: &record})
}

func (b *broadcaster) publish(ev event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		select {
		case s.queue <- ev:
		default:
			b.logger.Warn("Observer queue full, dropping event", zap.String("Observer", s.name))
			if b.onDrop != nil {
				b.onDrop(s.name)
			}
		}
	}
}

// close 关闭所有队列并等待已排队的事件处理完
func (b *broadcaster) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	for _, s := range subs {
		close(s.queue)
	}
	b.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}
