package server

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netsync/engine"
	"netsync/logging"
	"netsync/protocol"
)

// Room 房间：一个权威模拟 + 一组连接 + 一个固定步长调度器
type Room struct {
	ID      string
	session string
	log     *zap.SugaredLogger
	metrics *RoomMetrics
	sim     *Simulation
	sched   *engine.Scheduler

	settingsMu sync.RWMutex
	settings   Settings

	connsMu sync.RWMutex
	conns   map[engine.EntityID]*ClientConn
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, settings Settings, log *zap.SugaredLogger, clock engine.Clock) (*Room, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("room %s: %w", id, err)
	}
	if log == nil {
		log = logging.Nop()
	}
	if clock == nil {
		clock = engine.SystemClock
	}
	r := &Room{
		ID:       id,
		session:  uuid.NewString(),
		log:      log.With("room", id),
		metrics:  &RoomMetrics{},
		settings: settings,
		conns:    make(map[engine.EntityID]*ClientConn),
	}
	r.sim = NewSimulation(SimulationConfig{
		Spawn:         settings.spawn(),
		InputCapacity: settings.InputCapacity,
		InputDelay:    settings.inputDelay(),
		SnapshotDelay: settings.snapshotDelay(),
		Clock:         clock,
		Logger:        r.log,
		Metrics:       r.metrics,
		Broadcaster:   r,

		MaxInputsPerTick: settings.MaxInputsPerTick,
		DropProb:         settings.SimulateDropProb,
	})
	r.sched = engine.NewScheduler(r.sim, settings.TickRate,
		engine.WithSchedulerClock(clock),
		engine.WithSchedulerLogger(r.log),
		engine.WithDiagnostics(settings.Diagnostics),
	)
	return r, nil
}

// Simulation 房间的权威模拟
func (r *Room) Simulation() *Simulation { return r.sim }

// Scheduler 房间的调度器
func (r *Room) Scheduler() *engine.Scheduler { return r.sched }

// Metrics 房间指标
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// Session 房间本次运行的会话 ID
func (r *Room) Session() string { return r.session }

// Settings 当前配置副本
func (r *Room) Settings() Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// UpdateSettings 热更新：Tick 频率、模拟延迟与丢包、输入上限、诊断开关
func (r *Room) UpdateSettings(p SettingsPatch) (Settings, error) {
	r.settingsMu.Lock()
	next := p.Apply(r.settings)
	if err := next.Validate(); err != nil {
		r.settingsMu.Unlock()
		return Settings{}, err
	}
	r.settings = next
	r.settingsMu.Unlock()

	r.sched.SetTickRate(next.TickRate)
	r.sched.SetDiagnostics(next.Diagnostics)
	r.sim.SetInputDelay(next.inputDelay())
	r.sim.SetSnapshotDelay(next.snapshotDelay())
	r.sim.SetDropProb(next.SimulateDropProb)
	r.sim.SetMaxInputsPerTick(next.MaxInputsPerTick)
	r.log.Infow("config updated",
		"tickRate", next.TickRate,
		"inputDelayMs", next.InputDelayMs,
		"snapshotDelayMs", next.SnapshotDelayMs,
		"drop", next.SimulateDropProb,
		"maxInputsPerTick", next.MaxInputsPerTick,
		"diagnostics", next.Diagnostics)
	return next, nil
}

// Join 为新连接注册实体并发送 registered 消息
func (r *Room) Join(c *ClientConn) engine.Entity {
	e := r.sim.Register()
	r.connsMu.Lock()
	r.conns[e.ID] = c
	r.connsMu.Unlock()

	err := c.Send(protocol.TypeRegistered, protocol.Registered{
		Entity:   e,
		Room:     r.ID,
		Session:  r.session,
		TickRate: r.sched.TickRate(),
	})
	if err != nil {
		r.log.Warnw("send registration failed", "entity", e.ID, "conn", c.ID, "err", err)
	}
	r.log.Infow("player joined", "entity", e.ID, "conn", c.ID, "codec", c.codec.Name())
	return e
}

// Leave 移除连接并请求在 Tick 中将实体下线
func (r *Room) Leave(id engine.EntityID, c *ClientConn) {
	r.connsMu.Lock()
	if cur, ok := r.conns[id]; ok && cur == c {
		delete(r.conns, id)
	}
	r.connsMu.Unlock()
	r.sim.Disconnect(id)
	c.Close()
	r.log.Infow("player left", "entity", id, "conn", c.ID)
}

// Connections 当前连接数
func (r *Room) Connections() int {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	return len(r.conns)
}

// Broadcast 将快照按各连接的编码格式广播（每种格式只编码一次）
func (r *Room) Broadcast(snap engine.Snapshot) {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	encoded := make(map[string][]byte, 2)
	for id, c := range r.conns {
		name := c.codec.Name()
		b, ok := encoded[name]
		if !ok {
			var err error
			b, err = protocol.Encode(c.codec, protocol.TypeSnapshot, snap)
			if err != nil {
				r.log.Errorw("encode snapshot failed", "codec", name, "err", err)
				continue
			}
			encoded[name] = b
		}
		if !c.Enqueue(b) {
			r.log.Debugw("snapshot dropped", "entity", id, "conn", c.ID)
		}
	}
}

func (r *Room) closeAll() {
	r.connsMu.Lock()
	conns := r.conns
	r.conns = make(map[engine.EntityID]*ClientConn)
	r.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
