package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Simulatable 由 Scheduler 按固定步长驱动的模拟（服务端或客户端）
type Simulatable interface {
	Tick()
}

// Scheduler 固定步长调度：每次宿主回调最多执行一次 Tick，慢于 Tick 频率时跳过而不追帧
type Scheduler struct {
	target Simulatable
	clock  Clock
	log    *zap.SugaredLogger

	mu          sync.Mutex
	tickRate    int
	lastTick    time.Time
	lastRun     time.Time
	measured    float64
	diagnostics bool
	ticks       uint64
}

// SchedulerOption 调度器选项
type SchedulerOption func(*Scheduler)

// WithSchedulerClock 注入时钟
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSchedulerLogger 注入日志
func WithSchedulerLogger(l *zap.SugaredLogger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDiagnostics 打开瞬时 Tick 频率输出
func WithDiagnostics(on bool) SchedulerOption {
	return func(s *Scheduler) { s.diagnostics = on }
}

// NewScheduler 创建调度器，tickRate 为每秒 Tick 数（最小 1）
func NewScheduler(target Simulatable, tickRate int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		target: target,
		clock:  SystemClock,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tickRate = clampRate(tickRate)
	s.lastTick = s.clock.Now()
	return s
}

func clampRate(r int) int {
	if r < 1 {
		return 1
	}
	return r
}

func (s *Scheduler) intervalLocked() time.Duration {
	return time.Second / time.Duration(s.tickRate)
}

// RunLoop 宿主每帧回调一次；距上次 Tick 超过一个间隔时执行一次 Tick 并做漂移修正。
// 返回本次是否执行了 Tick。
func (s *Scheduler) RunLoop() bool {
	now := s.clock.Now()

	s.mu.Lock()
	interval := s.intervalLocked()
	elapsed := now.Sub(s.lastTick)
	due := elapsed > interval
	if due {
		s.lastTick = now.Add(-(elapsed % interval))
		s.ticks++
	}
	s.mu.Unlock()

	if due {
		s.target.Tick()
	}

	end := s.clock.Now()
	s.mu.Lock()
	if !s.lastRun.IsZero() {
		if d := end.Sub(s.lastRun); d > 0 {
			s.measured = float64(time.Second) / float64(d)
		}
	}
	s.lastRun = end
	measured, diag := s.measured, s.diagnostics
	s.mu.Unlock()

	if diag {
		s.log.Debugw("tick rate", "measured", measured, "ticked", due)
	}
	return due
}

// Run 以 frameInterval 的宿主节奏反复调用 RunLoop，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context, frameInterval time.Duration) {
	if frameInterval <= 0 {
		frameInterval = time.Second / 120
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunLoop()
		}
	}
}

// SetTickRate 运行时调整 Tick 频率
func (s *Scheduler) SetTickRate(r int) {
	s.mu.Lock()
	s.tickRate = clampRate(r)
	s.mu.Unlock()
}

// TickRate 当前配置的 Tick 频率
func (s *Scheduler) TickRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickRate
}

// Interval 当前 Tick 间隔
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalLocked()
}

// MeasuredRate 最近一次回调的瞬时频率（1s / 两次回调间隔）
func (s *Scheduler) MeasuredRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measured
}

// Ticks 已执行的 Tick 数
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// SetDiagnostics 运行时开关诊断输出
func (s *Scheduler) SetDiagnostics(on bool) {
	s.mu.Lock()
	s.diagnostics = on
	s.mu.Unlock()
}
