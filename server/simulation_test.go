package server

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"netsync/engine"
)

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []engine.Snapshot
}

func (r *snapshotRecorder) Broadcast(s engine.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder) last(t *testing.T) engine.Snapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		t.Fatalf("no snapshot broadcast")
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *snapshotRecorder) all() []engine.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Snapshot(nil), r.snaps...)
}

func newTestSimulation(t *testing.T, mutate func(*SimulationConfig)) (*Simulation, *snapshotRecorder, *engine.ManualClock) {
	t.Helper()
	clock := engine.NewManualClock(time.Unix(1700000000, 0))
	rec := &snapshotRecorder{}
	cfg := SimulationConfig{
		Spawn:         engine.Vector2{X: 50, Y: 50},
		InputCapacity: 16,
		Clock:         clock,
		Broadcaster:   rec,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSimulation(cfg), rec, clock
}

func TestSimulationEndToEndTick(t *testing.T) {
	sim, rec, clock := newTestSimulation(t, nil)
	sched := engine.NewScheduler(sim, 60, engine.WithSchedulerClock(clock))

	e := sim.Register()
	if e.ID != "1" || e.Speed != (engine.Vector2{X: 5, Y: 5}) {
		t.Fatalf("unexpected registered entity %+v", e)
	}
	now := clock.Now().Unix()
	if !sim.Input(engine.Input{Seq: 1, Time: now, Directions: engine.DirRight, EntityID: e.ID}) {
		t.Fatalf("expected input to be queued")
	}

	clock.Advance(17 * time.Millisecond)
	if !sched.RunLoop() {
		t.Fatalf("expected one authoritative tick")
	}

	got, ok := sim.Entity(e.ID)
	if !ok {
		t.Fatalf("entity missing after tick")
	}
	if got.Position != (engine.Vector2{X: 55, Y: 50}) || got.LastAckedSeq != 1 || got.LastAckedTime != now {
		t.Fatalf("unexpected entity after tick: %+v", got)
	}
	snap := rec.last(t)
	online, ok := snap.Online[e.ID]
	if !ok || online.Position != got.Position {
		t.Fatalf("snapshot does not carry updated entity: %+v", snap.Online)
	}
	if snap.Time != engine.UnixMillis(clock.Now()) {
		t.Fatalf("expected snapshot time %d, got %d", engine.UnixMillis(clock.Now()), snap.Time)
	}
	if len(snap.Offline) != 0 {
		t.Fatalf("expected no offline entities, got %+v", snap.Offline)
	}
}

func TestSimulationDisconnectReportedExactlyOnce(t *testing.T) {
	sim, rec, _ := newTestSimulation(t, nil)
	a := sim.Register()
	b := sim.Register()
	sim.Tick() // tick N

	sim.Disconnect(a.ID)
	sim.Tick() // tick N+1
	snap := rec.last(t)
	if _, ok := snap.Online[a.ID]; ok {
		t.Fatalf("disconnected entity still online at N+1")
	}
	if len(snap.Offline) != 1 || snap.Offline[0].ID != a.ID {
		t.Fatalf("expected %s offline once at N+1, got %+v", a.ID, snap.Offline)
	}
	if _, ok := snap.Online[b.ID]; !ok {
		t.Fatalf("other entity should stay online")
	}

	sim.Tick() // tick N+2
	snap = rec.last(t)
	if _, ok := snap.Online[a.ID]; ok || snap.WentOffline(a.ID) {
		t.Fatalf("entity %s should be forgotten at N+2: %+v", a.ID, snap)
	}
}

func TestSimulationJoinAndLeaveBeforeTick(t *testing.T) {
	sim, rec, _ := newTestSimulation(t, nil)
	e := sim.Register()
	sim.Disconnect(e.ID)
	sim.Tick()
	snap := rec.last(t)
	if !snap.WentOffline(e.ID) {
		t.Fatalf("expected short-lived entity reported offline, got %+v", snap)
	}
	sim.Disconnect("404")
	sim.Tick()
	if len(rec.last(t).Offline) != 0 {
		t.Fatalf("unknown disconnect must not produce offline entries")
	}
}

func TestSimulationDropsInputForUnknownEntity(t *testing.T) {
	metrics := &RoomMetrics{}
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) { c.Metrics = metrics })
	e := sim.Register()
	sim.Tick()
	sim.Disconnect(e.ID)
	sim.Input(engine.Input{Seq: 1, Directions: engine.DirUp, EntityID: e.ID})
	sim.Input(engine.Input{Seq: 1, Directions: engine.DirUp, EntityID: "999"})
	sim.Tick()
	if metrics.UnknownEntity != 2 {
		t.Fatalf("expected 2 unknown-entity inputs, got %d", metrics.UnknownEntity)
	}
	if metrics.InputsAccepted != 0 {
		t.Fatalf("no input should be applied, got %d", metrics.InputsAccepted)
	}
}

func TestSimulationOutOfOrderInputsWithinTick(t *testing.T) {
	metrics := &RoomMetrics{}
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) { c.Metrics = metrics })
	e := sim.Register()
	for _, seq := range []uint64{1, 3, 2, 4} {
		sim.Input(engine.Input{Seq: seq, Time: int64(seq), Directions: engine.DirDown, EntityID: e.ID})
	}
	sim.Tick()
	got, _ := sim.Entity(e.ID)
	if got.LastAckedSeq != 4 || got.LastAckedTime != 4 {
		t.Fatalf("expected ack 4, got %+v", got)
	}
	// seq 2 arrives after 3 and is dropped entirely
	if got.Position != (engine.Vector2{X: 50, Y: 65}) {
		t.Fatalf("expected three applied moves, got %+v", got.Position)
	}
	if metrics.OldSeqIgnored != 1 || metrics.InputsAccepted != 3 {
		t.Fatalf("unexpected metrics accepted=%d ignored=%d", metrics.InputsAccepted, metrics.OldSeqIgnored)
	}
}

func TestSimulationInputDelayGatesProcessing(t *testing.T) {
	sim, _, clock := newTestSimulation(t, func(c *SimulationConfig) { c.InputDelay = 100 * time.Millisecond })
	e := sim.Register()
	sim.Input(engine.Input{Seq: 1, Directions: engine.DirLeft, EntityID: e.ID})
	sim.Tick()
	if got, _ := sim.Entity(e.ID); got.LastAckedSeq != 0 {
		t.Fatalf("input applied before simulated delay elapsed")
	}
	clock.Advance(100 * time.Millisecond)
	sim.Tick()
	if got, _ := sim.Entity(e.ID); got.Position != (engine.Vector2{X: 45, Y: 50}) {
		t.Fatalf("expected delayed input applied, got %+v", got.Position)
	}
}

func TestSimulationValidateInputHook(t *testing.T) {
	metrics := &RoomMetrics{}
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) {
		c.Metrics = metrics
		c.ValidateInput = func(in engine.Input) bool { return in.Directions != engine.DirUp }
	})
	e := sim.Register()
	if sim.Input(engine.Input{Seq: 1, Directions: engine.DirUp, EntityID: e.ID}) {
		t.Fatalf("expected validator to reject input")
	}
	if metrics.InputsRejected != 1 {
		t.Fatalf("expected rejected metric 1, got %d", metrics.InputsRejected)
	}
}

func TestSimulationInputQueueOverflow(t *testing.T) {
	metrics := &RoomMetrics{}
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) {
		c.Metrics = metrics
		c.InputCapacity = 2
	})
	e := sim.Register()
	accepted := 0
	for seq := uint64(1); seq <= 3; seq++ {
		if sim.Input(engine.Input{Seq: seq, EntityID: e.ID}) {
			accepted++
		}
	}
	if accepted != 2 || metrics.QueueOverflow != 1 {
		t.Fatalf("expected 2 accepted and 1 overflow, got %d and %d", accepted, metrics.QueueOverflow)
	}
	if sim.PendingInputs() != 1 {
		t.Fatalf("expected evict+reject to leave 1 input, got %d", sim.PendingInputs())
	}
}

func TestSimulationDelayedBroadcast(t *testing.T) {
	metrics := &RoomMetrics{}
	sim, rec, clock := newTestSimulation(t, func(c *SimulationConfig) {
		c.SnapshotDelay = 20 * time.Millisecond
		c.Metrics = metrics
	})
	sim.Register()
	sim.Tick()
	if n := len(rec.all()); n != 0 {
		t.Fatalf("snapshot delivered before simulated delay: %d", n)
	}
	clock.Advance(19 * time.Millisecond)
	sim.DeliverSnapshots()
	if n := len(rec.all()); n != 0 {
		t.Fatalf("snapshot delivered 1ms early")
	}
	clock.Advance(time.Millisecond)
	sim.DeliverSnapshots()
	if s := rec.last(t); len(s.Online) != 1 {
		t.Fatalf("expected one online entity, got %+v", s.Online)
	}
	if metrics.SnapshotsSent != 1 || sim.PendingSnapshots() != 0 {
		t.Fatalf("expected 1 sent and none pending, got %d and %d", metrics.SnapshotsSent, sim.PendingSnapshots())
	}
}

func TestSimulationDelayedBroadcastKeepsTickOrder(t *testing.T) {
	sim, rec, clock := newTestSimulation(t, func(c *SimulationConfig) {
		c.SnapshotDelay = 5 * time.Millisecond
	})
	sim.Register()
	const ticks = 500
	for i := 0; i < ticks; i++ {
		// 延迟在运行中反复变化，后发的快照也不能越过先发的
		switch i % 3 {
		case 0:
			sim.SetSnapshotDelay(30 * time.Millisecond)
		case 1:
			sim.SetSnapshotDelay(0)
		default:
			sim.SetSnapshotDelay(5 * time.Millisecond)
		}
		sim.Tick()
		clock.Advance(time.Millisecond)
		sim.DeliverSnapshots()
	}
	clock.Advance(time.Second)
	sim.DeliverSnapshots()

	got := rec.all()
	if len(got) != ticks {
		t.Fatalf("expected %d snapshots, got %d", ticks, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time <= got[i-1].Time {
			t.Fatalf("snapshot %d out of order: %d after %d", i, got[i].Time, got[i-1].Time)
		}
	}
}

func TestSimulationMaxInputsPerTick(t *testing.T) {
	sim, rec, _ := newTestSimulation(t, func(c *SimulationConfig) { c.MaxInputsPerTick = 2 })
	e := sim.Register()
	sim.Tick()
	for seq := uint64(1); seq <= 5; seq++ {
		sim.Input(engine.Input{Seq: seq, Directions: engine.DirRight, EntityID: e.ID})
	}
	sim.Tick()
	if got := rec.last(t).Online[e.ID]; got.LastAckedSeq != 2 || got.Position.X != 60 {
		t.Fatalf("expected 2 inputs applied, got %+v", got)
	}
	if sim.PendingInputs() != 3 {
		t.Fatalf("expected 3 inputs left queued, got %d", sim.PendingInputs())
	}
	sim.SetMaxInputsPerTick(0)
	sim.Tick()
	if got := rec.last(t).Online[e.ID]; got.LastAckedSeq != 5 || got.Position.X != 75 {
		t.Fatalf("expected remaining inputs applied, got %+v", got)
	}
}

func TestSimulationDropProb(t *testing.T) {
	metrics := &RoomMetrics{}
	rolls := []float64{0.1, 0.9, 0.4, 0.6}
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) {
		c.Metrics = metrics
		c.DropProb = 0.5
		c.Rand = func() float64 {
			r := rolls[0]
			rolls = rolls[1:]
			return r
		}
	})
	e := sim.Register()
	accepted := 0
	for seq := uint64(1); seq <= 4; seq++ {
		if sim.Input(engine.Input{Seq: seq, EntityID: e.ID}) {
			accepted++
		}
	}
	if accepted != 2 || metrics.DropsSimulated != 2 || sim.PendingInputs() != 2 {
		t.Fatalf("expected 2 accepted and 2 dropped, got %d, %d, pending %d",
			accepted, metrics.DropsSimulated, sim.PendingInputs())
	}
	sim.SetDropProb(0)
	if !sim.Input(engine.Input{Seq: 5, EntityID: e.ID}) {
		t.Fatalf("expected no drops at probability 0")
	}
}

func TestSimulationLogsPresenceChanges(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sim, _, _ := newTestSimulation(t, func(c *SimulationConfig) { c.Logger = zap.New(core).Sugar() })
	e := sim.Register()
	sim.Tick()
	sim.Disconnect(e.ID)
	sim.Tick()
	if n := logs.FilterMessage("entity registered").Len(); n != 1 {
		t.Fatalf("expected one registration log, got %d", n)
	}
	offline := logs.FilterMessage("entity offline").All()
	if len(offline) != 1 || offline[0].ContextMap()["entity"] != e.ID {
		t.Fatalf("unexpected offline logs: %+v", offline)
	}
}

func TestSimulationAllocatesMonotonicIDs(t *testing.T) {
	sim, _, _ := newTestSimulation(t, nil)
	want := []engine.EntityID{"1", "2", "3"}
	for _, id := range want {
		if got := sim.Register().ID; got != id {
			t.Fatalf("expected id %s, got %s", id, got)
		}
	}
}
