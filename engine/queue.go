package engine

import (
	"sync"
	"time"
)

// OverflowPolicy 队列满时的处理策略
type OverflowPolicy int

const (
	// RejectNewest 淘汰最旧的一条并拒绝新消息（队列不增长优先）
	RejectNewest OverflowPolicy = iota
	// DropOldest 淘汰最旧的一条并接收新消息
	DropOldest
)

// Envelope 队列中的信封：DeliverAt 之前不会被 Recv 取出
type Envelope[T any] struct {
	DeliverAt time.Time
	Payload   T
}

// DelayedQueue 带模拟延迟的有界 FIFO 队列。
// 多个生产者并发 Send 安全；消费端（Recv）应只由一个 Tick 协程调用。
type DelayedQueue[T any] struct {
	mu       sync.Mutex
	items    []Envelope[T]
	capacity int
	delay    time.Duration
	policy   OverflowPolicy
	clock    Clock
	onEvict  func(evicted T, rejected bool)
}

// QueueOption 队列构造选项
type QueueOption func(*queueOptions)

type queueOptions struct {
	delay  time.Duration
	policy OverflowPolicy
	clock  Clock
}

// WithDelay 每条消息追加的模拟延迟
func WithDelay(d time.Duration) QueueOption {
	return func(o *queueOptions) { o.delay = d }
}

// WithClock 注入时钟
func WithClock(c Clock) QueueOption {
	return func(o *queueOptions) { o.clock = c }
}

// WithOverflowPolicy 设置溢出策略
func WithOverflowPolicy(p OverflowPolicy) QueueOption {
	return func(o *queueOptions) { o.policy = p }
}

// NewDelayedQueue 构造容量为 capacity 的队列（最小为 1）
func NewDelayedQueue[T any](capacity int, opts ...QueueOption) *DelayedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	o := queueOptions{clock: SystemClock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	if o.delay < 0 {
		o.delay = 0
	}
	q := &DelayedQueue[T]{
		items:    make([]Envelope[T], 0, capacity),
		capacity: capacity,
		delay:    o.delay,
		policy:   o.policy,
		clock:    o.clock,
	}
	return q
}

// SetOverflowHook 溢出回调：evicted 为被淘汰的最旧消息，rejected 表示新消息被拒绝。
// 回调在队列锁内执行，不能再调用本队列。
func (q *DelayedQueue[T]) SetOverflowHook(f func(evicted T, rejected bool)) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.onEvict = f
	q.mu.Unlock()
}

// Send 入队。队列满时先淘汰最旧的一条；RejectNewest 策略下同时拒绝本条并返回 false。
func (q *DelayedQueue[T]) Send(payload T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		evicted := q.items[0].Payload
		var zero Envelope[T]
		q.items[0] = zero
		q.items = q.items[1:]
		rejected := q.policy == RejectNewest
		if q.onEvict != nil {
			q.onEvict(evicted, rejected)
		}
		if rejected {
			return false
		}
	}
	q.items = append(q.items, Envelope[T]{
		DeliverAt: q.clock.Now().Add(q.delay),
		Payload:   payload,
	})
	return true
}

// Recv 非阻塞取出最旧的一条；队首尚未到达 DeliverAt 时返回 false（即使队列非空）
func (q *DelayedQueue[T]) Recv() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	head := q.items[0]
	if head.DeliverAt.After(q.clock.Now()) {
		return zero, false
	}
	q.items[0] = Envelope[T]{}
	q.items = q.items[1:]
	return head.Payload, true
}

// Get 随机访问，负数下标从队尾计数（-1 为最新）。不受 DeliverAt 限制。
func (q *DelayedQueue[T]) Get(index int) (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 {
		index += len(q.items)
	}
	if index < 0 || index >= len(q.items) {
		return zero, false
	}
	return q.items[index].Payload, true
}

// Len 当前缓冲条数
func (q *DelayedQueue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity 最大缓冲条数
func (q *DelayedQueue[T]) Capacity() int {
	if q == nil {
		return 0
	}
	return q.capacity
}

// Delay 当前模拟延迟
func (q *DelayedQueue[T]) Delay() time.Duration {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

// SetDelay 运行时调整模拟延迟，只影响之后入队的消息
func (q *DelayedQueue[T]) SetDelay(d time.Duration) {
	if q == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	q.mu.Lock()
	q.delay = d
	q.mu.Unlock()
}
