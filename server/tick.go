package server

import (
	"context"
	"time"
)

// Run 启动房间的 Tick 循环（单协程推进世界），直到 ctx 结束
func (r *Room) Run(ctx context.Context) {
	s := r.Settings()
	r.log.Infow("room loop started", "tickRate", s.TickRate, "frameRate", s.FrameRate, "session", r.session)
	// 宿主以 FrameRate 回调 RunLoop，调度器决定是否执行 Tick；
	// 延迟快照也在同一协程按帧投递
	ticker := time.NewTicker(s.frameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			r.log.Infow("room loop stopped", "ticks", r.sim.TickSeq())
			return
		case <-ticker.C:
			r.frame()
		}
	}
}

func (r *Room) frame() {
	if !r.sched.RunLoop() {
		r.sim.DeliverSnapshots()
	}
}
