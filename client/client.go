package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanema/gween/ease"
	"go.uber.org/zap"

	"netsync/engine"
	"netsync/logging"
	"netsync/protocol"
)

// InputSource 当前按住的方向键
type InputSource interface {
	Held() engine.Directions
}

// Sender 把输入发往服务端（由传输层实现）
type Sender interface {
	SendInput(in engine.Input) error
}

// Renderer 每个客户端 Tick 结束时接收要显示的实体
type Renderer interface {
	Render(local engine.EntityID, entities map[engine.EntityID]engine.Entity)
}

// RendererFunc 将函数适配为 Renderer
type RendererFunc func(engine.EntityID, map[engine.EntityID]engine.Entity)

func (f RendererFunc) Render(local engine.EntityID, entities map[engine.EntityID]engine.Entity) {
	f(local, entities)
}

// HeldKeys 并发安全的按键状态，Press/Release 可在任意协程调用
type HeldKeys struct {
	mu   sync.Mutex
	held engine.Directions
}

func (k *HeldKeys) Press(d engine.Directions) {
	k.mu.Lock()
	k.held |= d
	k.mu.Unlock()
}

func (k *HeldKeys) Release(d engine.Directions) {
	k.mu.Lock()
	k.held &^= d
	k.mu.Unlock()
}

func (k *HeldKeys) Held() engine.Directions {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.held
}

// Config 客户端构造参数
type Config struct {
	Options  Options
	Clock    engine.Clock
	Logger   *zap.SugaredLogger
	Input    InputSource
	Sender   Sender
	Renderer Renderer
}

// Client 客户端模拟：预测本地实体、按服务端快照校正、对其他实体做插值。
// 传输层回调只入队，状态只在 Tick 协程中修改。
type Client struct {
	clock    engine.Clock
	log      *zap.SugaredLogger
	input    InputSource
	sender   Sender
	renderer Renderer

	optsMu sync.RWMutex
	opts   Options
	easing ease.TweenFunc

	regMu      sync.Mutex
	pendingReg *engine.Entity

	snapshots *engine.DelayedQueue[engine.Snapshot]
	history   *engine.DelayedQueue[engine.Snapshot]
	outbox    *engine.DelayedQueue[engine.Input] // 按发送延迟排队，按序号顺序发出
	latency   atomic.Int64

	// 以下字段仅由 Tick 协程访问
	localID  engine.EntityID
	local    *engine.Entity
	entities map[engine.EntityID]*engine.Entity
	inputSeq uint64
	lastSnap int64 // 最近应用的快照时间
}

// outboxCapacity 待发送输入上限，超出时淘汰最旧的输入
const outboxCapacity = 256

// New 创建客户端，选项非法时返回错误
func New(cfg Config) (*Client, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	fn, _ := EasingByName(cfg.Options.Easing)
	c := &Client{
		clock:    cfg.Clock,
		log:      cfg.Logger,
		input:    cfg.Input,
		sender:   cfg.Sender,
		renderer: cfg.Renderer,
		opts:     cfg.Options,
		easing:   fn,
		entities: make(map[engine.EntityID]*engine.Entity),
	}
	c.snapshots = engine.NewDelayedQueue[engine.Snapshot](cfg.Options.SnapshotCapacity,
		engine.WithClock(cfg.Clock),
		engine.WithDelay(cfg.Options.ReceiveDelay),
		engine.WithOverflowPolicy(engine.DropOldest),
	)
	// 插值历史只保留最近的快照
	c.history = engine.NewDelayedQueue[engine.Snapshot](cfg.Options.HistoryCapacity,
		engine.WithClock(cfg.Clock),
		engine.WithOverflowPolicy(engine.DropOldest),
	)
	c.outbox = engine.NewDelayedQueue[engine.Input](outboxCapacity,
		engine.WithClock(cfg.Clock),
		engine.WithDelay(cfg.Options.SendDelay),
		engine.WithOverflowPolicy(engine.DropOldest),
	)
	log := c.log
	c.outbox.SetOverflowHook(func(in engine.Input, _ bool) {
		log.Warnw("outbound input dropped", "seq", in.Seq)
	})
	return c, nil
}

// Options 当前选项副本
func (c *Client) Options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// SetOptions 运行期切换策略。容量在构造后不可变，新值被忽略。
func (c *Client) SetOptions(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	fn, _ := EasingByName(o.Easing)
	c.optsMu.Lock()
	o.SnapshotCapacity = c.opts.SnapshotCapacity
	o.HistoryCapacity = c.opts.HistoryCapacity
	c.opts = o
	c.easing = fn
	c.optsMu.Unlock()
	c.snapshots.SetDelay(o.ReceiveDelay)
	c.outbox.SetDelay(o.SendDelay)
	return nil
}

func (c *Client) currentEasing() ease.TweenFunc {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.easing
}

// OnRegistered 传输层回调：记录本地实体，下一个 Tick 生效
func (c *Client) OnRegistered(e engine.Entity) {
	c.regMu.Lock()
	c.pendingReg = e.Clone()
	c.regMu.Unlock()
	c.log.Infow("registered", "entity", e.ID, "position", e.Position)
}

// OnSnapshot 传输层回调：快照按接收延迟入队
func (c *Client) OnSnapshot(s engine.Snapshot) bool {
	return c.snapshots.Send(s)
}

// OnLatency 传输层回调：服务端回显的延迟探测
func (c *Client) OnLatency(p protocol.LatencyProbe) {
	rtt := time.Duration(engine.UnixMillis(c.clock.Now())-p.Timestamp) * time.Millisecond
	if rtt < 0 {
		rtt = 0
	}
	c.latency.Store(int64(rtt + c.Options().SendDelay))
}

// Latency 最近一次测得的往返延迟（含模拟发送延迟）
func (c *Client) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

// LocalID 本地实体 ID，未注册时为空。只能在 Tick 协程调用。
func (c *Client) LocalID() engine.EntityID { return c.localID }

// Entity 查询客户端视角下的实体。只能在 Tick 协程调用。
func (c *Client) Entity(id engine.EntityID) (engine.Entity, bool) {
	e, ok := c.entities[id]
	if !ok {
		return engine.Entity{}, false
	}
	return *e.Clone(), true
}

// Tick 客户端一帧：输入 → 发送到期输入 → 服务端消息 → 插值 → 渲染。未注册时什么也不做。
func (c *Client) Tick() {
	c.adoptRegistration()
	if c.local == nil {
		return
	}
	opts := c.Options()
	c.handleInputs(opts)
	c.flushOutbox()
	c.processServerMessages(opts)
	if opts.ClientInterpolation {
		c.interpolateRemotes(opts)
	}
	c.render()
}

func (c *Client) adoptRegistration() {
	c.regMu.Lock()
	reg := c.pendingReg
	c.pendingReg = nil
	c.regMu.Unlock()
	if reg == nil {
		return
	}
	// 重新注册（例如重连）时丢弃旧世界
	c.entities = make(map[engine.EntityID]*engine.Entity)
	c.localID = reg.ID
	c.local = reg
	c.entities[reg.ID] = reg
	c.inputSeq = 0
	c.lastSnap = 0
	for {
		if _, ok := c.outbox.Recv(); !ok {
			break
		}
	}
}

func (c *Client) handleInputs(opts Options) {
	if c.input == nil {
		return
	}
	dirs := c.input.Held()
	if !dirs.Any() {
		return
	}
	c.inputSeq++
	in := engine.Input{
		Seq:        c.inputSeq,
		Time:       c.clock.Now().Unix(),
		Directions: dirs,
		EntityID:   c.localID,
	}
	c.local.PendingInputs = append(c.local.PendingInputs, in)
	if c.sender != nil {
		c.outbox.Send(in)
	}
	if opts.ClientPredict {
		predict(c.local, in)
	}
}

// predict 本地应用输入；确认序号只随服务端快照变化
func predict(e *engine.Entity, in engine.Input) {
	seq, at := e.LastAckedSeq, e.LastAckedTime
	engine.ApplyInput(e, in)
	e.LastAckedSeq, e.LastAckedTime = seq, at
}

// flushOutbox 发出发送延迟已到期的输入，顺序与序号一致
func (c *Client) flushOutbox() {
	for {
		in, ok := c.outbox.Recv()
		if !ok {
			return
		}
		if err := c.sender.SendInput(in); err != nil {
			c.log.Debugw("send input failed", "seq", in.Seq, "err", err)
		}
	}
}

func (c *Client) processServerMessages(opts Options) {
	for {
		snap, ok := c.snapshots.Recv()
		if !ok {
			return
		}
		if c.stale(snap) {
			c.log.Debugw("stale snapshot skipped", "time", snap.Time, "last", c.lastSnap)
			continue
		}
		c.lastSnap = snap.Time
		c.applySnapshot(snap, opts)
	}
}

// stale 快照早于已应用的快照，或回退了本地实体的确认序号
func (c *Client) stale(snap engine.Snapshot) bool {
	if snap.Time < c.lastSnap {
		return true
	}
	if state, ok := snap.Online[c.localID]; ok && state.LastAckedSeq < c.local.LastAckedSeq {
		return true
	}
	return false
}

func (c *Client) applySnapshot(snap engine.Snapshot, opts Options) {
	for _, e := range snap.Offline {
		if e.ID != c.localID {
			c.removeRemote(e.ID)
		}
	}
	for id := range c.entities {
		if id == c.localID {
			continue
		}
		if _, ok := snap.Online[id]; !ok {
			c.removeRemote(id)
		}
	}
	for id, state := range snap.Online {
		if id == c.localID {
			c.reconcile(state, opts)
			continue
		}
		e, ok := c.entities[id]
		if !ok {
			c.entities[id] = state.Clone()
			c.log.Debugw("remote entity created", "entity", id)
			continue
		}
		e.Speed = state.Speed
		e.LastAckedSeq = state.LastAckedSeq
		e.LastAckedTime = state.LastAckedTime
		if !opts.ClientInterpolation {
			e.PreviousPosition = e.Position
			e.Position = state.Position
		}
	}
	if opts.ClientInterpolation {
		c.history.Send(snap)
	}
}

func (c *Client) removeRemote(id engine.EntityID) {
	if _, ok := c.entities[id]; !ok {
		return
	}
	delete(c.entities, id)
	c.log.Debugw("remote entity removed", "entity", id)
}

// reconcile 采用服务端位置与确认序号，再重放尚未确认的输入
func (c *Client) reconcile(state engine.Entity, opts Options) {
	e := c.local
	e.Position = state.Position
	e.PreviousPosition = state.PreviousPosition
	e.Speed = state.Speed
	e.LastAckedSeq = state.LastAckedSeq
	e.LastAckedTime = state.LastAckedTime
	if !opts.ServerReconciliation {
		e.PendingInputs = nil
		return
	}
	kept := e.PendingInputs[:0]
	for _, in := range e.PendingInputs {
		if in.Seq > state.LastAckedSeq {
			kept = append(kept, in)
		}
	}
	e.PendingInputs = kept
	for _, in := range kept {
		predict(e, in)
	}
}

func (c *Client) render() {
	if c.renderer == nil {
		return
	}
	view := make(map[engine.EntityID]engine.Entity, len(c.entities))
	for id, e := range c.entities {
		view[id] = *e.Clone()
	}
	c.renderer.Render(c.localID, view)
}
