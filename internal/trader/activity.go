package trader

import (
	"sync"
	"time"
)

// DefaultActivityCapacity 活动日志保留条数
const DefaultActivityCapacity = 100

const (
	LevelInfo    = "info"
	LevelTrade   = "trade"
	LevelWarning = "warning"
	LevelError   = "error"
)

type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"type"`
	Message   string    `json:"message"`
}

// ActivityLog 固定容量的环形日志，供控制接口查看
type ActivityLog struct {
	mu       sync.Mutex
	entries  []ActivityEntry
	next     int
	full     bool
	capacity int
	now      func() time.Time
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{
		entries:  make([]ActivityEntry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

func (l *ActivityLog) Add(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = ActivityEntry{Timestamp: l.now(), Level: level, Message: message}
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
}

// Recent 最近 n 条，按时间从旧到新；n <= 0 返回全部
func (l *ActivityLog) Recent(n int) []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = l.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]ActivityEntry, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if l.full {
			idx = (l.next + i) % l.capacity
		}
		out = append(out, l.entries[idx])
	}
	return out
}
