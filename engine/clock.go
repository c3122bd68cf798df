package engine

import (
	"sync"
	"time"
)

// Clock 单调墙钟来源，测试中可替换
type Clock interface {
	Now() time.Time
}

// ClockFunc 将函数适配为 Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock 使用 time.Now
var SystemClock Clock = ClockFunc(time.Now)

// UnixMillis 毫秒时间戳
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// ManualClock 手动推进的时钟，用于确定性回放与测试
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 从 start 开始
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 前进 d
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set 设置为 t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
