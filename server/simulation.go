package server

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"netsync/engine"
	"netsync/logging"
)

// Broadcaster 将快照推送给所有连接（由传输层实现）
type Broadcaster interface {
	Broadcast(snap engine.Snapshot)
}

// BroadcasterFunc 将函数适配为 Broadcaster
type BroadcasterFunc func(engine.Snapshot)

func (f BroadcasterFunc) Broadcast(snap engine.Snapshot) { f(snap) }

// InputValidator 输入授权钩子，返回 false 则丢弃
type InputValidator func(engine.Input) bool

// AllowAllInputs 默认策略：全部放行
func AllowAllInputs(engine.Input) bool { return true }

// SimulationConfig 权威模拟的构造参数
type SimulationConfig struct {
	Spawn         engine.Vector2
	InputCapacity int
	InputDelay    time.Duration
	SnapshotDelay time.Duration
	Clock         engine.Clock
	Logger        *zap.SugaredLogger
	Metrics       *RoomMetrics
	Broadcaster   Broadcaster
	ValidateInput InputValidator
	// MaxInputsPerTick 每个 Tick 最多处理的输入数，0 不限制；多余的留到下一个 Tick
	MaxInputsPerTick int
	// DropProb 入站输入的模拟丢包概率 [0,1]
	DropProb float64
	Rand     func() float64
}

// outboundCapacity 出站快照缓冲上限，超出时淘汰最旧的快照
const outboundCapacity = 1024

type membershipEvent struct {
	entity *engine.Entity // 非空表示加入
	leave  engine.EntityID
}

// Simulation 服务端权威模拟：实体状态只在 Tick 协程中修改，
// 网络回调只通过 Register/Input/Disconnect 投递事件。
type Simulation struct {
	clock       engine.Clock
	log         *zap.SugaredLogger
	metrics     *RoomMetrics
	broadcaster Broadcaster
	validate    InputValidator
	spawn       engine.Vector2
	rand        func() float64

	nextID    atomic.Uint64
	tickSeq   atomic.Uint64
	maxInputs atomic.Int64
	dropProb  atomic.Uint64 // math.Float64bits
	inputs    *engine.DelayedQueue[engine.Input]
	// outbound 延迟广播的快照，按 Tick 顺序出队
	outbound *engine.DelayedQueue[engine.Snapshot]

	pendingMu  sync.Mutex
	membership []membershipEvent

	// 以下字段仅由 Tick 协程访问
	entities map[engine.EntityID]*engine.Entity
	offline  []engine.Entity
}

// NewSimulation 创建权威模拟
func NewSimulation(cfg SimulationConfig) *Simulation {
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &RoomMetrics{}
	}
	if cfg.ValidateInput == nil {
		cfg.ValidateInput = AllowAllInputs
	}
	if cfg.InputCapacity < 1 {
		cfg.InputCapacity = DefaultSettings().InputCapacity
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	s := &Simulation{
		clock:       cfg.Clock,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		broadcaster: cfg.Broadcaster,
		validate:    cfg.ValidateInput,
		spawn:       cfg.Spawn,
		rand:        cfg.Rand,
		entities:    make(map[engine.EntityID]*engine.Entity),
	}
	metrics := cfg.Metrics
	s.inputs = engine.NewDelayedQueue[engine.Input](cfg.InputCapacity,
		engine.WithClock(cfg.Clock),
		engine.WithDelay(cfg.InputDelay),
	)
	s.inputs.SetOverflowHook(func(engine.Input, bool) { metrics.IncQueueOverflow() })
	s.outbound = engine.NewDelayedQueue[engine.Snapshot](outboundCapacity,
		engine.WithClock(cfg.Clock),
		engine.WithDelay(cfg.SnapshotDelay),
		engine.WithOverflowPolicy(engine.DropOldest),
	)
	s.outbound.SetOverflowHook(func(engine.Snapshot, bool) { metrics.IncSnapshotsDropped() })
	s.SetMaxInputsPerTick(cfg.MaxInputsPerTick)
	s.SetDropProb(cfg.DropProb)
	return s
}

// Register 分配实体 ID 并创建实体，下一个 Tick 起加入世界。返回值用于发给新连接。
func (s *Simulation) Register() engine.Entity {
	id := engine.EntityID(strconv.FormatUint(s.nextID.Add(1), 10))
	e := engine.NewEntity(id, s.spawn)
	s.pendingMu.Lock()
	s.membership = append(s.membership, membershipEvent{entity: e.Clone()})
	s.pendingMu.Unlock()
	s.metrics.IncRegistrations()
	s.log.Infow("entity registered", "entity", id)
	return e.State()
}

// Input 投递一条输入（不立即改变位置），等下一次 Tick 处理。
// 队列满、被拒绝或被模拟丢包时返回 false。
func (s *Simulation) Input(in engine.Input) bool {
	if !s.validate(in) {
		s.metrics.IncRejected()
		return false
	}
	if p := math.Float64frombits(s.dropProb.Load()); p > 0 && s.rand() < p {
		s.metrics.IncDropsSimulated()
		return false
	}
	return s.inputs.Send(in)
}

// Disconnect 请求在 Tick 协程中将实体标记为下线
func (s *Simulation) Disconnect(id engine.EntityID) {
	s.pendingMu.Lock()
	s.membership = append(s.membership, membershipEvent{leave: id})
	s.pendingMu.Unlock()
}

// SetInputDelay 运行时调整入站模拟延迟
func (s *Simulation) SetInputDelay(d time.Duration) { s.inputs.SetDelay(d) }

// SetSnapshotDelay 运行时调整出站模拟延迟，已排队的快照仍按顺序投递
func (s *Simulation) SetSnapshotDelay(d time.Duration) { s.outbound.SetDelay(d) }

// SetMaxInputsPerTick 运行时调整每 Tick 输入上限，n <= 0 不限制
func (s *Simulation) SetMaxInputsPerTick(n int) {
	if n < 0 {
		n = 0
	}
	s.maxInputs.Store(int64(n))
}

// SetDropProb 运行时调整模拟丢包概率，超出 [0,1] 时截断
func (s *Simulation) SetDropProb(p float64) {
	s.dropProb.Store(math.Float64bits(math.Max(0, math.Min(1, p))))
}

// TickSeq 已执行的 Tick 数
func (s *Simulation) TickSeq() uint64 { return s.tickSeq.Load() }

// PendingInputs 输入队列中缓冲的条数
func (s *Simulation) PendingInputs() int { return s.inputs.Len() }

// PendingSnapshots 等待延迟广播的快照数
func (s *Simulation) PendingSnapshots() int { return s.outbound.Len() }

// Entity 查询在线实体，只能在 Tick 协程（或 Tick 未运行时）调用
func (s *Simulation) Entity(id engine.EntityID) (engine.Entity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return engine.Entity{}, false
	}
	return e.State(), true
}

// Tick 核心循环：处理加入/离开 → 处理输入 → 广播快照
func (s *Simulation) Tick() {
	start := time.Now()
	s.tickSeq.Add(1)
	s.applyMembership()
	s.processInputs()
	s.outbound.Send(s.buildSnapshot())
	s.DeliverSnapshots()
	s.metrics.SetEntities(len(s.entities))
	s.metrics.AddTick(time.Since(start).Nanoseconds())
}

func (s *Simulation) applyMembership() {
	s.pendingMu.Lock()
	events := s.membership
	s.membership = nil
	s.pendingMu.Unlock()

	for _, ev := range events {
		if ev.entity != nil {
			s.entities[ev.entity.ID] = ev.entity
			continue
		}
		e, ok := s.entities[ev.leave]
		if !ok {
			continue
		}
		// 下线的实体在本次快照的 offline 中出现一次，然后被遗忘
		delete(s.entities, ev.leave)
		s.offline = append(s.offline, e.State())
		s.metrics.IncDisconnects()
		s.log.Infow("entity offline", "entity", ev.leave)
	}
}

// processInputs 非阻塞 drain 已到达的输入，按到达顺序应用
func (s *Simulation) processInputs() {
	limit := s.maxInputs.Load()
	for n := int64(0); limit == 0 || n < limit; n++ {
		in, ok := s.inputs.Recv()
		if !ok {
			return
		}
		e, ok := s.entities[in.EntityID]
		if !ok {
			// 断开后迟到的输入
			s.metrics.IncUnknownEntity()
			continue
		}
		if engine.ApplyInput(e, in) {
			s.metrics.IncAccepted()
		} else {
			s.metrics.IncOldSeqIgnored()
		}
	}
}

func (s *Simulation) buildSnapshot() engine.Snapshot {
	snap := engine.Snapshot{
		Time:    engine.UnixMillis(s.clock.Now()),
		Online:  make(map[engine.EntityID]engine.Entity, len(s.entities)),
		Offline: s.offline,
	}
	for id, e := range s.entities {
		snap.Online[id] = e.State()
	}
	if snap.Offline == nil {
		snap.Offline = []engine.Entity{}
	}
	s.offline = nil
	return snap
}

// DeliverSnapshots 广播所有延迟已到期的快照，顺序与 Tick 顺序一致。
// Tick 会调用一次；宿主在两次 Tick 之间每帧再调用，使延迟精度不受 Tick 频率限制。
// 只能在 Tick 协程调用。
func (s *Simulation) DeliverSnapshots() {
	for {
		snap, ok := s.outbound.Recv()
		if !ok {
			return
		}
		if s.broadcaster == nil {
			continue
		}
		s.metrics.IncSnapshots()
		s.broadcaster.Broadcast(snap)
	}
}
